package session

import (
	"github.com/golang/glog"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/frame"
)

// inbound applies channel frames to the session. It runs on the channel's
// dispatch goroutine.
type inbound Session

func (h *inbound) s() *Session {
	return (*Session)(h)
}

func (h *inbound) OnConnectionEstablished(f *frame.ConnectionEstablished) {
	s := h.s()
	if uid := string(f.UserID); uid != "" && uid != s.conf.SelfID {
		glog.Warningf("session: channel authenticated as %s, configured as %s", uid, s.conf.SelfID)
	}
	glog.V(5).Infof("session: connection established, tenant %s", f.TenantID)
}

func (h *inbound) OnNewMessage(f *frame.NewMessage) {
	s := h.s()
	if f.Message == nil {
		return
	}
	m := f.Message.ToMessage(string(f.Conversation))
	if m.ConversationID != s.conv {
		glog.V(5).Infof("session: drop message %s of %s", m.ID, m.ConversationID)
		return
	}
	res := s.store.Insert(m)
	glog.V(5).Infof("session: new message %s: %s", m.ID, res)
	if res != chatstore.Inserted || m.SenderID == s.conf.SelfID {
		return
	}

	// a peer answered: re-arm the auto reply and acknowledge the read
	if s.conf.AutoReply {
		if err := s.conf.Offline.SetFlag(s.ctx, autoReplyKey(s.conv), false); err != nil {
			glog.Errorf("session: reset auto reply of %s: %v", s.conv, err)
		}
	}
	if err := s.markRead(s.ctx); err != nil {
		glog.V(5).Infof("session: mark read: %v", err)
	}
}

func (h *inbound) OnMessageUpdated(f *frame.MessageUpdated) {
	if f.Message == nil {
		return
	}
	s := h.s()
	s.store.Update(f.Message.ToMessage(s.conv))
}

func (h *inbound) OnMessageDeleted(f *frame.MessageDeleted) {
	s := h.s()
	s.removeMessage(s.ctx, string(f.MessageID))
}

func (h *inbound) OnReactionAdded(f *frame.ReactionAdded) {
	if f.Reaction != nil {
		h.s().store.ApplyReaction(f.Reaction.ToReaction(), true)
	}
}

func (h *inbound) OnReactionRemoved(f *frame.ReactionRemoved) {
	if f.Reaction != nil {
		h.s().store.ApplyReaction(f.Reaction.ToReaction(), false)
	}
}

func (h *inbound) OnTypingIndicator(f *frame.TypingIndicator) {
	h.s().signaler.ApplyIndicator(f)
}

func (h *inbound) OnUserStatusChange(f *frame.UserStatusChange) {
	s := h.s()
	s.signaler.ApplyStatus(f)
	s.changed()
}

func (h *inbound) OnReadReceipt(f *frame.ReadReceipt) {
	s := h.s()
	if string(f.UserID) == s.conf.SelfID {
		return
	}
	if f.ConversationID != "" && string(f.ConversationID) != s.conv {
		return
	}
	if n := s.store.MarkDelivered(s.conv); n > 0 {
		glog.V(5).Infof("session: %s read %d messages", f.UserID, n)
	}
}

func (h *inbound) OnServerError(f *frame.ServerError) {
	glog.Errorf("session: server error: %s", f.Message)
	h.s().notify("Server error: "+f.Message, nil)
}
