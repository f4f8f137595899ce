package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/minichat/chatstore"
)

const (
	autoReplyFormat = "Hello, this is %s. I'm currently unavailable but will respond as soon as possible."
	// AutoReplySender is the sender id of simulated replies.
	AutoReplySender = "auto-reply"
)

func autoReplyKey(conv string) string {
	return "auto_reply/" + conv
}

// autoReplyLoop is the single scheduled task of the session that decides
// whether a simulated reply is due. It ends with the session.
func (s *Session) autoReplyLoop(ctx context.Context) {
	interval := s.conf.AutoReplyDelay / 4
	if interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.maybeAutoReply(ctx) {
				glog.Infof("session: auto reply in %s", s.conv)
			}
		}
	}
}

// maybeAutoReply inserts one "currently unavailable" reply when the last message
// of the log is the local user's, it has waited longer than the delay, and the
// channel is down. The reply fires once until a peer writes again.
func (s *Session) maybeAutoReply(ctx context.Context) bool {
	if s.conf.Channel.Connected() {
		return false
	}
	msgs := s.store.Messages(s.conv)
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	now := s.now()
	if last.SenderID != s.conf.SelfID || now.Sub(last.CreatedAt) < s.conf.AutoReplyDelay {
		return false
	}

	key := autoReplyKey(s.conv)
	done, err := s.conf.Offline.Flag(ctx, key)
	if err != nil {
		glog.Errorf("session: read auto reply flag of %s: %v", s.conv, err)
		return false
	}
	if done {
		return false
	}
	if err := s.conf.Offline.SetFlag(ctx, key, true); err != nil {
		glog.Errorf("session: set auto reply flag of %s: %v", s.conv, err)
		return false
	}

	s.store.Load([]*chatstore.Message{{
		ID:             "auto-" + uuid.New(),
		ConversationID: s.conv,
		SenderID:       AutoReplySender,
		Kind:           chatstore.KindText,
		Content:        fmt.Sprintf(autoReplyFormat, s.conf.PeerName),
		CreatedAt:      now,
		State:          chatstore.StateSent,
	}})
	autoReplies.Inc()
	return true
}
