package main

import (
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/dev/fakebackend"
)

// The demo serves the in-process backend, so two minichat clients can talk
// to each other locally. A bot user posts into the conversation periodically.

var (
	flagAddr     = flag.String("addr", "127.0.0.1:8000", "listen address, ip:port")
	flagTenant   = flag.String("tenant", "demo", "tenant id")
	flagConv     = flag.String("conversation", "lobby", "conversation id")
	flagTokens   = flag.String("tokens", "tok-alice=alice,tok-bob=bob", "comma separated token=user pairs")
	flagBot      = flag.String("bot", "bot", "user id of the periodic poster, empty to disable")
	flagInterval = flag.Duration("interval", 30*time.Second, "bot post interval")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	tokens, err := parseTokens(*flagTokens)
	if err != nil {
		glog.Exitf("--tokens: %v", err)
	}

	srv := fakebackend.New(fakebackend.Config{TenantID: *flagTenant, Tokens: tokens})
	defer srv.Close()

	var participants []chatstore.Participant
	for _, uid := range tokens {
		participants = append(participants, chatstore.Participant{UserID: uid})
	}
	srv.AddConversation(chatstore.Conversation{
		ID:           *flagConv,
		Name:         *flagConv,
		Participants: participants,
		LastActivity: time.Now(),
	})

	if *flagBot != "" && *flagInterval > 0 {
		go func() {
			ticker := time.NewTicker(*flagInterval)
			defer ticker.Stop()
			i := 0
			for range ticker.C {
				i++
				srv.Post(*flagConv, *flagBot, fmt.Sprintf("ping #%d, %d sessions joined", i, srv.Joined(*flagConv)))
			}
		}()
	}

	glog.Infof("demo backend on %s, tenant %s, conversation %s", *flagAddr, *flagTenant, *flagConv)
	if err := http.ListenAndServe(*flagAddr, srv); err != nil {
		glog.Exitf("listen: %v", err)
	}
}

func parseTokens(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("bad pair %q", pair)
		}
		out[kv[0]] = kv[1]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tokens")
	}
	return out, nil
}
