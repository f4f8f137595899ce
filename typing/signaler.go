package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"

	"github.com/mqy/minichat/frame"
)

const (
	DefaultExpiry  = 5 * time.Second
	DefaultRefresh = 3 * time.Second
)

// Sender writes frames to the channel. *ws.Manager implements it.
type Sender interface {
	Send(ctx context.Context, f frame.Outbound) error
}

type Config struct {
	SelfID         string
	ConversationID string
	// Expiry clears a peer's typing flag when no refresh arrives in time.
	Expiry time.Duration
	// Refresh is the minimum interval between start_typing refreshes while typing.
	Refresh time.Duration
	Clock   Clock
	// OnChange is called, without locks held, when the set of typing peers changes.
	OnChange func()
}

type peer struct {
	expires time.Time
	timer   *time.Timer
	gen     uint64
}

// Signaler emits edge-triggered typing frames for the local user and tracks
// typing peers and presence for one conversation.
type Signaler struct {
	sync.Mutex

	conf    Config
	sender  Sender
	limiter *rate.Limiter

	typing bool
	peers  map[string]*peer
	gen    uint64
	closed bool

	*presenceTable
}

func NewSignaler(sender Sender, conf Config) *Signaler {
	if conf.Expiry <= 0 {
		conf.Expiry = DefaultExpiry
	}
	if conf.Refresh <= 0 {
		conf.Refresh = DefaultRefresh
	}
	if conf.Clock == nil {
		conf.Clock = RealClock{}
	}
	return &Signaler{
		conf:          conf,
		sender:        sender,
		limiter:       rate.NewLimiter(rate.Every(conf.Refresh), 1),
		peers:         make(map[string]*peer),
		presenceTable: newPresenceTable(conf.Clock),
	}
}

// InputChanged reports the local input state. start_typing is sent when text
// becomes non-empty, stop_typing when it becomes empty again. While the user keeps
// typing a start_typing refresh goes out at most once per Refresh interval.
// Send errors are returned but never change the local edge state: typing is best effort.
func (s *Signaler) InputChanged(ctx context.Context, hasText bool) error {
	s.Lock()
	if s.closed {
		s.Unlock()
		return nil
	}
	var f frame.Outbound
	now := s.conf.Clock.Now()
	switch {
	case hasText && !s.typing:
		s.typing = true
		s.limiter.AllowN(now, 1)
		f = &frame.StartTyping{ConversationID: s.conf.ConversationID}
	case hasText && s.typing:
		if s.limiter.AllowN(now, 1) {
			f = &frame.StartTyping{ConversationID: s.conf.ConversationID}
		}
	case !hasText && s.typing:
		s.typing = false
		f = &frame.StopTyping{ConversationID: s.conf.ConversationID}
	}
	s.Unlock()

	if f == nil || s.sender == nil {
		return nil
	}
	if err := s.sender.Send(ctx, f); err != nil {
		glog.V(5).Infof("typing: send %s: %v", f.FrameType(), err)
		return err
	}
	return nil
}

// Typing reports whether the local user is currently flagged as typing.
func (s *Signaler) Typing() bool {
	s.Lock()
	defer s.Unlock()
	return s.typing
}

// ApplyIndicator applies an inbound typing_indicator. The local user's own echo is ignored.
func (s *Signaler) ApplyIndicator(ti *frame.TypingIndicator) {
	uid := string(ti.UserID)
	if uid == "" || uid == s.conf.SelfID {
		return
	}
	if ti.ConversationID != "" && string(ti.ConversationID) != s.conf.ConversationID {
		return
	}

	s.Lock()
	if s.closed {
		s.Unlock()
		return
	}
	p, existed := s.peers[uid]
	changed := false
	if ti.IsTyping {
		if !existed {
			p = &peer{}
			s.peers[uid] = p
			changed = true
		} else if p.timer != nil {
			p.timer.Stop()
		}
		s.gen++
		gen := s.gen
		p.gen = gen
		p.expires = s.conf.Clock.Now().Add(s.conf.Expiry)
		p.timer = time.AfterFunc(s.conf.Expiry, func() { s.expire(uid, gen) })
	} else if existed {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(s.peers, uid)
		changed = true
	}
	s.Unlock()

	if changed {
		s.changed()
	}
}

func (s *Signaler) expire(uid string, gen uint64) {
	s.Lock()
	p, ok := s.peers[uid]
	if !ok || p.gen != gen || s.closed {
		s.Unlock()
		return
	}
	delete(s.peers, uid)
	s.Unlock()

	glog.V(5).Infof("typing: %s expired", uid)
	s.changed()
}

func (s *Signaler) changed() {
	if s.conf.OnChange != nil {
		s.conf.OnChange()
	}
}

// TypingPeers returns the peers currently typing, sorted. Entries past their
// expiry are hidden even if their timer has not fired yet.
func (s *Signaler) TypingPeers() []string {
	s.Lock()
	defer s.Unlock()
	now := s.conf.Clock.Now()
	var out []string
	for uid, p := range s.peers {
		if now.Before(p.expires) {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}

// Reset clears all peer typing state, e.g. when the channel goes away.
func (s *Signaler) Reset() {
	s.Lock()
	n := len(s.peers)
	s.stopTimers()
	s.Unlock()
	if n > 0 {
		s.changed()
	}
}

func (s *Signaler) stopTimers() {
	for uid, p := range s.peers {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(s.peers, uid)
	}
}

// Close stops every pending expiry timer. Later calls are no-ops.
func (s *Signaler) Close() {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopTimers()
}
