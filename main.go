package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/config"
	"github.com/mqy/minichat/fallback"
	"github.com/mqy/minichat/session"
	"github.com/mqy/minichat/store"
	"github.com/mqy/minichat/ws"
)

var (
	flagConfig  = flag.String("config", "minichat.yaml", "yaml config file, optional")
	flagEnvFile = flag.String("env-file", ".env", "dotenv file, optional")

	flagConv      = flag.String("conversation", "", "conversation id, overrides the config")
	flagToken     = flag.String("token", "", "bearer token, overrides the config")
	flagAutoReply = flag.Bool("auto-reply", false, "answer on behalf of the peer while they are away")
	flagPeerName  = flag.String("peer-name", "", "name used by the auto reply")
	flagHistory   = flag.Int("show", 20, "number of messages printed after every change")

	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	cfg, err := config.Load(*flagConfig, *flagEnvFile)
	if err != nil {
		return errorf("%v", err)
	}
	applyFlags(cfg)
	if v := validate(cfg); v > 0 {
		return v
	}

	pid := os.Getpid()
	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return errorf("data dir `%s`: %v", cfg.DataDir, err)
	}

	offline, err := store.Open(cfg.DBPath())
	if err != nil {
		return errorf("open offline store %s: %v", cfg.DBPath(), err)
	}
	defer offline.Close()

	if !cfg.DisableMetrics {
		go serveMetrics(cfg.MetricsAddr)
	}

	tokens := auth.NewStaticClient(cfg.Token)
	api, err := fallback.NewHTTPClient(cfg.APIURL, tokens, cfg.RequestTimeout.D())
	if err != nil {
		return errorf("api client: %v", err)
	}

	out := newPrinter(os.Stdout, *flagHistory)
	sess := session.New(session.Config{
		ConversationID: cfg.ConversationID,
		SelfID:         cfg.UserID,
		PeerName:       *flagPeerName,
		Channel: ws.NewManager(ws.Config{
			BaseURL:  cfg.WSURL,
			TenantID: cfg.TenantID,
			Auth:     tokens,
		}),
		API:             api,
		Offline:         offline,
		ReconcileWindow: cfg.ReconcileWindow.D(),
		TypingExpiry:    cfg.TypingExpiry.D(),
		TypingRefresh:   cfg.TypingRefresh.D(),
		HistoryPages:    cfg.HistoryPages,
		PageSize:        cfg.PageSize,
		MaxAttachment:   cfg.MaxAttachment.Int64(),
		NoticeTTL:       cfg.NoticeTTL.D(),
		RequestTimeout:  cfg.RequestTimeout.D(),
		TTLDays:         cfg.CacheTTLDays,
		AutoReply:       cfg.AutoReply,
		AutoReplyDelay:  cfg.AutoReplyDelay.D(),
		OnChange:        out.wake,
	})
	out.sess = sess

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Open(ctx); err != nil {
		return errorf("open conversation %s: %v", cfg.ConversationID, err)
	}
	go out.loop(ctx)
	out.wake()

	glog.Infof("minichat is running in conversation %s as %s", cfg.ConversationID, cfg.UserID)
	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler", pid, pid)

	quit := make(chan struct{})
	go func() {
		readCommands(ctx, os.Stdin, sess, out)
		close(quit)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var prof *Profiler
	defer func() {
		if prof != nil {
			prof.Stop()
		}
	}()

	for {
		select {
		case <-quit:
			sess.Close()
			glog.Info("minichat exited")
			return 0
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				dumpGoroutines(pprofDir)
			case syscall.SIGUSR2:
				if prof == nil {
					prof = StartProfiler(pprofDir)
				} else {
					prof.Stop()
					prof = nil
				}
			case syscall.SIGTERM, syscall.SIGINT:
				glog.Infof("received signal `%s` stopping", sig.String())
				sess.Close()
				cancel()
				glog.Info("minichat exited")
				return 0
			}
		}
	}
}

func applyFlags(cfg *config.Config) {
	if *flagConv != "" {
		cfg.ConversationID = *flagConv
	}
	if *flagToken != "" {
		cfg.Token = *flagToken
	}
	if *flagAutoReply {
		cfg.AutoReply = true
	}
	if *flagDisableMetrics {
		cfg.DisableMetrics = true
	}
}

func validate(cfg *config.Config) int {
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if *flagHistory <= 0 {
		return errorf("--show must be positive")
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			glog.Errorf("config: %s", p)
		}
		return errorf("invalid config, %d problems", len(problems))
	}
	return 0
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{},
	))
	glog.Infof("metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		glog.Errorf("metrics server: %v", err)
	}
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

const usage = `commands:
  <text>              send a message
  /file <path>        send a file
  /react <id> <emoji> toggle a reaction
  /read               mark the conversation read
  /retry <id>         resend a failed message
  /delete <id>        delete a message locally
  /clear              clear the conversation
  /task <id>          track a background task
  /reconnect          reopen the live channel
  /list               print the log
  /quit`

// readCommands runs until r is exhausted or /quit is read.
func readCommands(ctx context.Context, r io.Reader, sess *session.Session, out *printer) {
	fmt.Fprintln(out.w, usage)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := sess.InputChanged(ctx, line); err != nil {
				out.errorf("draft: %v", err)
			}
			if _, err := sess.SendText(ctx, line); err != nil {
				out.errorf("send: %v", err)
			}
			continue
		}
		fields := strings.Fields(line)
		args := fields[1:]
		var err error
		switch fields[0] {
		case "/quit":
			return
		case "/list":
			out.wake()
		case "/read":
			err = sess.MarkRead(ctx)
		case "/clear":
			err = sess.ClearConversation(ctx)
		case "/reconnect":
			err = sess.Reconnect(ctx)
		case "/file":
			if len(args) != 1 {
				err = errors.New("usage: /file <path>")
				break
			}
			var data []byte
			if data, err = os.ReadFile(args[0]); err == nil {
				_, err = sess.SendFile(ctx, filepath.Base(args[0]), data)
			}
		case "/react":
			if len(args) != 2 {
				err = errors.New("usage: /react <id> <emoji>")
				break
			}
			_, err = sess.ToggleReaction(ctx, args[0], args[1])
		case "/retry":
			if len(args) != 1 {
				err = errors.New("usage: /retry <id>")
				break
			}
			_, err = sess.Retry(ctx, args[0])
		case "/delete":
			if len(args) != 1 {
				err = errors.New("usage: /delete <id>")
				break
			}
			err = sess.DeleteMessage(ctx, args[0])
		case "/task":
			if len(args) != 1 {
				err = errors.New("usage: /task <id>")
				break
			}
			err = sess.TrackTask(ctx, args[0])
		default:
			fmt.Fprintln(out.w, usage)
		}
		if err != nil {
			out.errorf("%s: %v", fields[0], err)
		}
	}
	if err := scanner.Err(); err != nil {
		glog.Errorf("read commands: %v", err)
	}
}

// printer redraws the tail of the log. Wakes are coalesced.
type printer struct {
	w     io.Writer
	n     int
	sess  *session.Session
	wakeC chan struct{}
}

func newPrinter(w io.Writer, n int) *printer {
	return &printer{w: w, n: n, wakeC: make(chan struct{}, 1)}
}

func (p *printer) wake() {
	select {
	case p.wakeC <- struct{}{}:
	default:
	}
}

func (p *printer) errorf(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "! "+format+"\n", args...)
}

func (p *printer) loop(ctx context.Context) {
	// redraw at most every 100ms
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wakeC:
			dirty = true
		case <-ticker.C:
			if dirty {
				p.print()
				dirty = false
			}
		}
	}
}

func (p *printer) print() {
	msgs := p.sess.Messages()
	if len(msgs) > p.n {
		msgs = msgs[len(msgs)-p.n:]
	}
	var b strings.Builder
	b.WriteString("----\n")
	for _, m := range msgs {
		b.WriteString(formatMessage(m))
		b.WriteByte('\n')
	}
	if peers := p.sess.TypingPeers(); len(peers) > 0 {
		fmt.Fprintf(&b, "%s typing...\n", strings.Join(peers, ", "))
	}
	if !p.sess.Connected() {
		b.WriteString("(offline)\n")
	}
	for _, n := range p.sess.Notices() {
		fmt.Fprintf(&b, "* %s\n", n.Text)
	}
	fmt.Fprint(p.w, b.String())
}

func formatMessage(m *chatstore.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s: ", m.ID, humanize.Time(m.CreatedAt), m.SenderID)
	switch {
	case m.Audio != nil:
		fmt.Fprintf(&b, "voice note %s", m.Audio.Duration.Round(time.Second))
		switch m.Audio.Channels {
		case 1:
			fmt.Fprintf(&b, ", mono %s", m.Audio.Bandwidth)
		case 2:
			fmt.Fprintf(&b, ", stereo %s", m.Audio.Bandwidth)
		}
	default:
		b.WriteString(m.Content)
	}
	fmt.Fprintf(&b, " (%s)", m.State)

	counts := make(map[string]int)
	for _, r := range m.Reactions {
		counts[r.Emoji]++
	}
	emojis := make([]string, 0, len(counts))
	for e := range counts {
		emojis = append(emojis, e)
	}
	sort.Strings(emojis)
	for _, e := range emojis {
		fmt.Fprintf(&b, " %s%d", e, counts[e])
	}
	return b.String()
}
