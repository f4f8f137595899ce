package session

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/golang/glog"

	"github.com/mqy/minichat/audio"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/fallback"
	"github.com/mqy/minichat/frame"
	"github.com/mqy/minichat/outbox"
	"github.com/mqy/minichat/typing"
	"github.com/mqy/minichat/ws"
)

// Session is one open conversation view. It wires the channel, the message log,
// typing and presence, audio, the API fallback and the offline store together,
// and owns every timer and goroutine it starts.
type Session struct {
	sync.Mutex

	conf     Config
	conv     string
	now      func() time.Time
	store    *chatstore.Store
	signaler *typing.Signaler
	engine   *audio.Engine
	outbox   *outbox.Outbox

	draft   string
	notices []Notice
	opened  bool
	closed  bool

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func New(conf Config) *Session {
	conf.setDefaults()
	s := &Session{
		conf:  conf,
		conv:  conf.ConversationID,
		now:   time.Now,
		store: chatstore.NewStore(conf.SelfID, conf.ReconcileWindow),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.signaler = typing.NewSignaler(conf.Channel, typing.Config{
		SelfID:         conf.SelfID,
		ConversationID: conf.ConversationID,
		Expiry:         conf.TypingExpiry,
		Refresh:        conf.TypingRefresh,
		OnChange:       s.changed,
	})
	s.engine = audio.NewEngine(audio.Config{
		Recorder: conf.Recorder,
		Player:   conf.Player,
		Decoder:  conf.Decoder,
		OnTick:   func(time.Duration) { s.changed() },
		OnState:  func(audio.CaptureState) { s.changed() },
		OnSend:   s.onClip,
		OnError: func(err error) {
			s.notify("Recording is unavailable", err)
		},
		Next: s.nextAudio,
	})
	s.outbox = outbox.New(outbox.Config{
		Store:    conf.Offline,
		Resender: s,
		TTLDays:  conf.TTLDays,
	})
	s.store.OnChange(s.onStoreChange)
	return s
}

func (s *Session) ConversationID() string {
	return s.conv
}

// Store exposes the message log for rendering. Mutations go through the session.
func (s *Session) Store() *chatstore.Store {
	return s.store
}

func (s *Session) Messages() []*chatstore.Message {
	return s.store.Messages(s.conv)
}

func (s *Session) Connected() bool {
	return s.conf.Channel.Connected()
}

func (s *Session) TypingPeers() []string {
	return s.signaler.TypingPeers()
}

func (s *Session) Presence(uid string) (typing.Presence, bool) {
	return s.signaler.Presence(uid)
}

func (s *Session) changed() {
	if s.conf.OnChange != nil {
		s.conf.OnChange()
	}
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.conf.RequestTimeout)
}

// Open loads history, restores offline state and the draft, then joins the
// channel. A channel that cannot be opened is not an error: the session keeps
// working through the API and the offline store.
func (s *Session) Open(ctx context.Context) error {
	s.Lock()
	if s.closed {
		s.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.Unlock()
		return nil
	}
	s.opened = true
	s.Unlock()

	s.loadHistory(ctx)

	if draft, err := s.conf.Offline.LoadDraft(ctx, s.conv); err != nil {
		glog.Errorf("session: load draft of %s: %v", s.conv, err)
	} else {
		s.Lock()
		s.draft = draft
		s.Unlock()
	}

	s.unsubscribe = s.conf.Channel.Subscribe(s.onEvent)

	s.spawn(func() { s.outbox.Run(s.ctx) })
	if s.conf.AutoReply {
		s.spawn(func() { s.autoReplyLoop(s.ctx) })
	}
	s.resumeTasks(ctx)

	if err := s.conf.Channel.Open(ctx, s.conv); err != nil {
		glog.Warningf("session: channel of %s unavailable: %v", s.conv, err)
		s.notify("Live connection unavailable, messages go through the fallback", err)
		if s.conf.API != nil {
			s.outbox.Notify()
		}
	}
	glog.Infof("session: opened %s, %d messages", s.conv, len(s.store.Messages(s.conv)))
	return nil
}

// Reconnect re-joins the channel, e.g. when the user re-selects the conversation.
// Messages queued while offline are replayed once it is joined.
func (s *Session) Reconnect(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.conf.Channel.Open(ctx, s.conv); err != nil {
		s.notify("Live connection unavailable", err)
		return err
	}
	return nil
}

// loadHistory prefers the API; the offline cache is only read when it fails.
// Offline pending messages are merged in either way.
func (s *Session) loadHistory(ctx context.Context) {
	var fromAPI bool
	if s.conf.API != nil {
		rctx, cancel := s.requestContext(ctx)
		msgs, err := fallback.History(rctx, s.conf.API, s.conv, s.conf.PageSize, s.conf.HistoryPages)
		cancel()
		if err == nil {
			s.store.Load(msgs)
			fromAPI = true
		} else {
			glog.Warningf("session: load history of %s from api: %v", s.conv, err)
			s.notify("Could not load history, showing cached messages", err)
		}
	}
	if !fromAPI {
		cached, err := s.conf.Offline.LoadMessages(ctx, s.conv)
		if err != nil {
			glog.Errorf("session: load cached history of %s: %v", s.conv, err)
		}
		s.store.Load(cached)
	}

	pending, err := s.conf.Offline.Pending(ctx, s.conv)
	if err != nil {
		glog.Errorf("session: load offline pending of %s: %v", s.conv, err)
		return
	}
	if n := s.store.Load(pending); n > 0 {
		glog.Infof("session: %d offline pending messages in %s", n, s.conv)
	}
	if fromAPI {
		s.mirror(ctx)
	}
}

// mirror writes the log to the offline cache. Offline pending entries are taken
// from the cache itself, so a message is queued for replay only if it was queued
// before. It must not run concurrently with an outbox flush.
func (s *Session) mirror(ctx context.Context) {
	pending, err := s.conf.Offline.Pending(ctx, s.conv)
	if err != nil {
		glog.Errorf("session: mirror %s: %v", s.conv, err)
		return
	}
	var msgs []*chatstore.Message
	for _, m := range s.store.Messages(s.conv) {
		if m.State == chatstore.StatePending {
			continue
		}
		if m.Audio != nil && audio.Handle(m.Audio.URL).IsBlob() {
			m.Audio.URL = ""
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, pending...)
	if err := s.conf.Offline.SaveMessages(ctx, s.conv, msgs); err != nil {
		glog.Errorf("session: mirror %s: %v", s.conv, err)
		return
	}
	glog.V(5).Infof("session: mirrored %d messages of %s", len(msgs), s.conv)
}

func (s *Session) onEvent(e ws.Event) {
	switch e.Kind {
	case ws.EventFrame:
		if e.ConversationID != "" && e.ConversationID != s.conv {
			return
		}
		frame.Dispatch(e.Frame, (*inbound)(s))
	case ws.EventJoined:
		s.onJoined()
	case ws.EventState:
		if e.State == ws.Disconnected {
			s.signaler.Reset()
			if !s.isClosed() {
				s.notify("Connection lost", nil)
			}
		}
		s.changed()
	case ws.EventError:
		if !s.isClosed() {
			s.notify("Connection problem", e.Err)
		}
	}
}

func (s *Session) onJoined() {
	p := s.signaler.SetSelf(s.conf.SelfID, typing.Online, s.conv)
	s.outbox.Notify()
	if s.conf.API == nil {
		return
	}
	s.spawn(func() {
		ctx, cancel := s.requestContext(s.ctx)
		defer cancel()
		if err := s.conf.API.UpdatePresence(ctx, p); err != nil {
			glog.Warningf("session: update presence: %v", err)
		}
	})
}

// spawn runs fn on a goroutine owned by the session, unless it is closed.
func (s *Session) spawn(fn func()) bool {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Session) onStoreChange(c chatstore.Change) {
	if c.ConversationID != s.conv && c.Kind != chatstore.ChangeClear {
		return
	}
	if c.Kind == chatstore.ChangeReplace {
		if n := s.engine.Resources().Reassign(c.OldID, c.Message.ID); n > 0 {
			glog.V(5).Infof("session: audio of %s now owned by %s", c.OldID, c.Message.ID)
		}
	}
	if len(c.Carried) > 0 {
		s.publishCarried(c.Carried)
	}
	s.changed()
}

func (s *Session) isClosed() bool {
	s.Lock()
	defer s.Unlock()
	return s.closed
}

func (s *Session) checkOpen() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.opened {
		return ErrNotOpen
	}
	return nil
}

func (s *Session) notify(text string, err error) {
	now := s.now()
	s.Lock()
	s.notices = append(s.notices, Notice{Text: text, Err: err, At: now, Expires: now.Add(s.conf.NoticeTTL)})
	s.Unlock()
	notices.Inc()
	s.changed()
}

// Notices returns the notices that have not expired yet. Expired ones are dropped.
func (s *Session) Notices() []Notice {
	now := s.now()
	s.Lock()
	defer s.Unlock()
	live := s.notices[:0]
	for _, n := range s.notices {
		if now.Before(n.Expires) {
			live = append(live, n)
		}
	}
	s.notices = live
	return append([]Notice(nil), live...)
}

func (s *Session) DismissNotices() {
	s.Lock()
	s.notices = nil
	s.Unlock()
}

// Draft returns the unsent input of the conversation.
func (s *Session) Draft() string {
	s.Lock()
	defer s.Unlock()
	return s.draft
}

// InputChanged records the current input text: it is clamped to MaxDraftWords,
// persisted as the draft and drives the typing signal. The clamped text is returned.
func (s *Session) InputChanged(ctx context.Context, text string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return text, err
	}
	text = clampWords(text, MaxDraftWords)
	s.Lock()
	s.draft = text
	s.Unlock()

	if err := s.conf.Offline.SaveDraft(ctx, s.conv, text); err != nil {
		glog.Errorf("session: save draft of %s: %v", s.conv, err)
	}
	// typing is best effort, a closed channel is not worth reporting
	_ = s.signaler.InputChanged(ctx, strings.TrimSpace(text) != "")
	return text, nil
}

// clampWords cuts text right after its n-th word.
func clampWords(text string, n int) string {
	words := 0
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			inWord = true
			words++
			if words > n {
				return strings.TrimRightFunc(text[:i], unicode.IsSpace)
			}
		}
	}
	return text
}

func (s *Session) clearDraft(ctx context.Context) {
	s.Lock()
	s.draft = ""
	s.Unlock()
	if err := s.conf.Offline.SaveDraft(ctx, s.conv, ""); err != nil {
		glog.Errorf("session: clear draft of %s: %v", s.conv, err)
	}
	_ = s.signaler.InputChanged(ctx, false)
}

// Close releases the channel, any recording and playback, every timer and
// goroutine of the session, then persists the draft and mirrors the log.
// It is safe to call more than once.
func (s *Session) Close() {
	s.Lock()
	if s.closed {
		s.Unlock()
		return
	}
	s.closed = true
	opened := s.opened
	draft := s.draft
	s.Unlock()

	glog.Infof("session: closing %s", s.conv)
	s.engine.Close()
	s.signaler.Close()

	if opened && s.conf.API != nil && s.conf.Channel.Connected() {
		ctx, cancel := s.requestContext(context.Background())
		p := s.signaler.SetSelf(s.conf.SelfID, typing.Offline, "")
		if err := s.conf.API.UpdatePresence(ctx, p); err != nil {
			glog.V(5).Infof("session: update presence: %v", err)
		}
		cancel()
	}

	s.conf.Channel.Close()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	s.wg.Wait()

	if !opened {
		return
	}
	ctx, cancel := s.requestContext(context.Background())
	defer cancel()
	if err := s.conf.Offline.SaveDraft(ctx, s.conv, draft); err != nil {
		glog.Errorf("session: save draft of %s: %v", s.conv, err)
	}
	s.mirror(ctx)
	glog.Infof("session: closed %s", s.conv)
}
