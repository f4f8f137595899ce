package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/frame"
	"github.com/mqy/minichat/store"
	store_mock "github.com/mqy/minichat/store/mock"
	"github.com/mqy/minichat/ws"
)

const (
	conv = "c1"
	self = "u1"
	peer = "u2"
)

type fakeChannel struct {
	sync.Mutex
	openErr   error
	connected bool
	closed    bool
	failSends int
	sent      []frame.Outbound
	subs      []func(ws.Event)
}

func (c *fakeChannel) Open(ctx context.Context, conv string) error {
	c.Lock()
	if c.openErr != nil {
		c.Unlock()
		return c.openErr
	}
	c.connected = true
	c.Unlock()
	c.emit(ws.Event{Kind: ws.EventState, State: ws.Connected, ConversationID: conv})
	c.emit(ws.Event{Kind: ws.EventJoined, ConversationID: conv})
	return nil
}

func (c *fakeChannel) Send(ctx context.Context, f frame.Outbound) error {
	c.Lock()
	defer c.Unlock()
	if !c.connected {
		return ws.ErrNotConnected
	}
	if c.failSends > 0 {
		c.failSends--
		return errors.New("write timeout")
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeChannel) Connected() bool {
	c.Lock()
	defer c.Unlock()
	return c.connected
}

func (c *fakeChannel) Subscribe(fn func(ws.Event)) func() {
	c.Lock()
	c.subs = append(c.subs, fn)
	c.Unlock()
	return func() {}
}

func (c *fakeChannel) Close() {
	c.Lock()
	c.closed = true
	c.connected = false
	c.Unlock()
}

func (c *fakeChannel) emit(e ws.Event) {
	c.Lock()
	subs := append([]func(ws.Event){}, c.subs...)
	c.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (c *fakeChannel) drop() {
	c.Lock()
	c.connected = false
	c.Unlock()
	c.emit(ws.Event{Kind: ws.EventState, State: ws.Disconnected, ConversationID: conv})
}

func (c *fakeChannel) push(in frame.Inbound) {
	c.emit(ws.Event{Kind: ws.EventFrame, Frame: in, ConversationID: conv})
}

func (c *fakeChannel) sentTypes() []frame.Type {
	c.Lock()
	defer c.Unlock()
	var out []frame.Type
	for _, f := range c.sent {
		out = append(out, f.FrameType())
	}
	return out
}

func openBolt(t *testing.T) *store.BoltStore {
	db, err := store.Open(filepath.Join(t.TempDir(), "minichat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newLocal(t *testing.T, ch *fakeChannel, offline store.IOfflineStore, mutate func(*Config)) *Session {
	conf := Config{
		ConversationID: conv,
		SelfID:         self,
		Channel:        ch,
		Offline:        offline,
		RequestTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&conf)
	}
	s := New(conf)
	t.Cleanup(s.Close)
	return s
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msgAndArgs...)
}

func wire(id, sender, content string, at time.Time) *frame.WireMessage {
	return &frame.WireMessage{
		ID:             frame.ID(id),
		ConversationID: conv,
		SenderID:       frame.ID(sender),
		MessageType:    "text",
		Content:        content,
		CreatedAt:      at,
	}
}

func TestNotOpen(t *testing.T) {
	s := newLocal(t, &fakeChannel{}, openBolt(t), nil)
	_, err := s.SendText(context.Background(), "hi")
	assert.Equal(t, ErrNotOpen, err)
}

func TestInboundFrames(t *testing.T) {
	ch := &fakeChannel{}
	s := newLocal(t, ch, openBolt(t), nil)
	require.NoError(t, s.Open(context.Background()))

	at := time.Now().UTC()
	ch.push(&frame.NewMessage{Message: wire("10", peer, "hello", at)})
	ch.push(&frame.NewMessage{Message: wire("10", peer, "hello", at)})
	ch.push(&frame.NewMessage{Message: &frame.WireMessage{ID: "99", ConversationID: "other", SenderID: peer}})
	require.Len(t, s.Messages(), 1)
	// a peer message is acknowledged as read
	assert.Equal(t, []frame.Type{frame.TypeMarkRead}, ch.sentTypes())

	edited := wire("10", peer, "hello again", at)
	editedAt := at.Add(time.Second)
	edited.EditedAt = &editedAt
	ch.push(&frame.MessageUpdated{Message: edited})
	ch.push(&frame.MessageUpdated{Message: edited})
	m, ok := s.Store().Get("10")
	require.True(t, ok)
	assert.Equal(t, "hello again", m.Content)

	r := &frame.WireReaction{MessageID: "10", Emoji: "👍", UserID: peer}
	ch.push(&frame.ReactionAdded{Reaction: r})
	ch.push(&frame.ReactionAdded{Reaction: r})
	m, _ = s.Store().Get("10")
	assert.Len(t, m.Reactions, 1)
	ch.push(&frame.ReactionRemoved{Reaction: r})
	m, _ = s.Store().Get("10")
	assert.Empty(t, m.Reactions)

	ch.push(&frame.UserStatusChange{UserID: peer, Status: "online", CurrentConversation: conv})
	p, ok := s.Presence(peer)
	require.True(t, ok)
	assert.Equal(t, conv, p.CurrentConversation)

	ch.push(&frame.MessageDeleted{MessageID: "10"})
	ch.push(&frame.MessageDeleted{MessageID: "10"})
	assert.Empty(t, s.Messages())

	ch.push(&frame.ServerError{Message: "rate limited"})
	found := false
	for _, n := range s.Notices() {
		found = found || strings.Contains(n.Text, "rate limited")
	}
	assert.True(t, found)
}

func TestSendOverChannelAndReadReceipt(t *testing.T) {
	ch := &fakeChannel{}
	s := newLocal(t, ch, openBolt(t), nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	m, err := s.SendText(ctx, "Hello")
	require.NoError(t, err)
	assert.Equal(t, chatstore.StateSent, m.State)
	assert.True(t, m.IsLocal())

	// server echo carries the client id and replaces the local entry
	echo := wire("41", self, "Hello", m.CreatedAt)
	echo.ClientID = m.ClientID
	ch.push(&frame.NewMessage{Message: echo})
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "41", msgs[0].ID)
	assert.Equal(t, chatstore.StateSent, msgs[0].State)

	// own read receipt echo does nothing, the peer's delivers
	ch.push(&frame.ReadReceipt{ConversationID: conv, UserID: self})
	assert.Equal(t, chatstore.StateSent, s.Messages()[0].State)
	ch.push(&frame.ReadReceipt{ConversationID: conv, UserID: peer})
	assert.Equal(t, chatstore.StateDelivered, s.Messages()[0].State)
}

func (c *fakeChannel) reactions() []*frame.AddReaction {
	c.Lock()
	defer c.Unlock()
	var out []*frame.AddReaction
	for _, f := range c.sent {
		if r, ok := f.(*frame.AddReaction); ok {
			out = append(out, r)
		}
	}
	return out
}

func TestReactionOnLocalMessagePublishedOnConfirm(t *testing.T) {
	ch := &fakeChannel{}
	s := newLocal(t, ch, openBolt(t), nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	m, err := s.SendText(ctx, "Hello")
	require.NoError(t, err)
	require.True(t, m.IsLocal())
	added, err := s.ToggleReaction(ctx, m.ID, "👍")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Empty(t, ch.reactions())

	echo := wire("41", self, "Hello", m.CreatedAt)
	echo.ClientID = m.ClientID
	ch.push(&frame.NewMessage{Message: echo})

	eventually(t, func() bool { return len(ch.reactions()) == 1 })
	r := ch.reactions()[0]
	assert.Equal(t, "41", r.MessageID)
	assert.Equal(t, "👍", r.Emoji)
	got, ok := s.Store().Get("41")
	require.True(t, ok)
	assert.Len(t, got.Reactions, 1)
}

func TestQueuedMessageReplayedWhileConnected(t *testing.T) {
	db := openBolt(t)
	ch := &fakeChannel{failSends: 1}
	s := newLocal(t, ch, db, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	// the channel stays up but drops one send; no reconnect will follow
	_, err := s.SendText(ctx, "Hello")
	require.NoError(t, err)

	eventually(t, func() bool {
		pending, err := db.Pending(ctx, conv)
		return err == nil && len(pending) == 0
	})
	assert.Contains(t, ch.sentTypes(), frame.TypeSendMessage)
}

func TestTypingClearsWhenChannelDrops(t *testing.T) {
	ch := &fakeChannel{}
	s := newLocal(t, ch, openBolt(t), func(c *Config) {
		c.TypingExpiry = 5 * time.Second
		c.TypingRefresh = time.Second
	})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	ch.push(&frame.TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	assert.Equal(t, []string{peer}, s.TypingPeers())

	ch.drop()
	assert.Empty(t, s.TypingPeers())
	found := false
	for _, n := range s.Notices() {
		found = found || n.Text == "Connection lost"
	}
	assert.True(t, found)
}

func TestTypingExpires(t *testing.T) {
	ch := &fakeChannel{}
	s := newLocal(t, ch, openBolt(t), func(c *Config) {
		c.TypingExpiry = 50 * time.Millisecond
		c.TypingRefresh = 10 * time.Millisecond
	})
	require.NoError(t, s.Open(context.Background()))

	ch.push(&frame.TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	assert.NotEmpty(t, s.TypingPeers())
	eventually(t, func() bool { return len(s.TypingPeers()) == 0 })
}

func TestDraftClampedAndRestored(t *testing.T) {
	db := openBolt(t)
	ch := &fakeChannel{}
	s := newLocal(t, ch, db, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	words := make([]string, 120)
	for i := range words {
		words[i] = "w"
	}
	text, err := s.InputChanged(ctx, strings.Join(words, " ")+" ")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(text), MaxDraftWords)
	assert.False(t, strings.HasSuffix(text, " "))
	assert.Equal(t, []frame.Type{frame.TypeStartTyping}, ch.sentTypes())

	_, err = s.InputChanged(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []frame.Type{frame.TypeStartTyping, frame.TypeStopTyping}, ch.sentTypes())

	_, err = s.InputChanged(ctx, "see you at 5")
	require.NoError(t, err)
	s.Close()
	assert.True(t, ch.closed)

	again := newLocal(t, &fakeChannel{}, db, nil)
	require.NoError(t, again.Open(ctx))
	assert.Equal(t, "see you at 5", again.Draft())
}

func TestClampWords(t *testing.T) {
	assert.Equal(t, "a b", clampWords("a b c", 2))
	assert.Equal(t, "a  b", clampWords("a  b", 2))
	assert.Equal(t, "", clampWords("", 2))
	assert.Equal(t, "a\nb", clampWords("a\nb\n\nc d", 2))
}

func TestOfflineQueueAndReplay(t *testing.T) {
	db := openBolt(t)
	ch := &fakeChannel{openErr: errors.New("dial refused")}
	s := newLocal(t, ch, db, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	assert.False(t, s.Connected())

	m, err := s.SendText(ctx, "are you there?")
	require.NoError(t, err)
	assert.Equal(t, chatstore.StatePending, m.State)
	pending, err := db.Pending(ctx, conv)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	ch.Lock()
	ch.openErr = nil
	ch.Unlock()
	require.NoError(t, s.Reconnect(ctx))

	eventually(t, func() bool {
		p, _ := db.Pending(ctx, conv)
		return len(p) == 0
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []frame.Type{frame.TypeSendMessage}, ch.sentTypes())
	got, ok := s.Store().Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, chatstore.StateSent, got.State)
}

func TestSendFailureAndRetry(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	offline := store_mock.NewMockIOfflineStore(mockCtrl)
	offline.EXPECT().LoadMessages(gomock.Any(), conv).Return(nil, nil)
	offline.EXPECT().LoadDraft(gomock.Any(), conv).Return("", nil)
	offline.EXPECT().Pending(gomock.Any(), conv).Return(nil, nil).AnyTimes()
	offline.EXPECT().Tasks(gomock.Any()).Return(nil, nil)
	offline.EXPECT().SaveDraft(gomock.Any(), conv, gomock.Any()).Return(nil).AnyTimes()
	offline.EXPECT().SaveMessages(gomock.Any(), conv, gomock.Any()).Return(nil).AnyTimes()
	gomock.InOrder(
		offline.EXPECT().PutMessage(gomock.Any(), gomock.Any()).Return(errors.New("disk full")),
		offline.EXPECT().PutMessage(gomock.Any(), gomock.Any()).Return(nil),
	)

	ch := &fakeChannel{openErr: errors.New("dial refused")}
	s := newLocal(t, ch, offline, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	m, err := s.SendText(ctx, "hello?")
	var failure *SendFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, m.ID, failure.MessageID)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, chatstore.StateFailed, m.State)

	again, err := s.Retry(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEqual(t, m.ID, again.ID)
	assert.Equal(t, chatstore.StatePending, again.State)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello?", msgs[0].Content)

	_, err = s.Retry(ctx, again.ID)
	assert.Equal(t, chatstore.ErrNotFailed, err)
	s.Close()
}

func TestAutoReplyFiresOnce(t *testing.T) {
	db := openBolt(t)
	ch := &fakeChannel{openErr: errors.New("dial refused")}
	s := newLocal(t, ch, db, func(c *Config) {
		c.AutoReply = true
		c.AutoReplyDelay = 40 * time.Millisecond
		c.PeerName = "Dr. Lee"
	})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	_, err := s.SendText(ctx, "can we move the visit?")
	require.NoError(t, err)

	replies := func() []*chatstore.Message {
		var out []*chatstore.Message
		for _, m := range s.Messages() {
			if m.SenderID == AutoReplySender {
				out = append(out, m)
			}
		}
		return out
	}
	eventually(t, func() bool { return len(replies()) == 1 })
	assert.Equal(t, "Hello, this is Dr. Lee. I'm currently unavailable but will respond as soon as possible.", replies()[0].Content)

	_, err = s.SendText(ctx, "ok, later then")
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, replies(), 1)

	done, err := db.Flag(ctx, autoReplyKey(conv))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestNoAutoReplyWhileConnected(t *testing.T) {
	ch := &fakeChannel{}
	s := newLocal(t, ch, openBolt(t), func(c *Config) {
		c.AutoReply = true
		c.AutoReplyDelay = 20 * time.Millisecond
	})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	_, err := s.SendText(ctx, "hi")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, s.Messages(), 1)
}

func TestNoticesExpire(t *testing.T) {
	s := newLocal(t, &fakeChannel{}, openBolt(t), func(c *Config) {
		c.NoticeTTL = 30 * time.Millisecond
	})
	s.notify("Connection problem", errors.New("boom"))
	require.Len(t, s.Notices(), 1)
	eventually(t, func() bool { return len(s.Notices()) == 0 })

	s.notify("again", nil)
	s.DismissNotices()
	assert.Empty(t, s.Notices())
}

func TestCloseMirrorsLog(t *testing.T) {
	db := openBolt(t)
	ch := &fakeChannel{}
	s := newLocal(t, ch, db, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	ch.push(&frame.NewMessage{Message: wire("7", peer, "see you", time.Now().UTC())})
	s.Close()
	s.Close()

	cached, err := db.LoadMessages(ctx, conv)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "7", cached[0].ID)

	_, err = s.SendText(ctx, "late")
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, ErrClosed, s.Open(ctx))
}

func TestClearConversation(t *testing.T) {
	db := openBolt(t)
	ch := &fakeChannel{}
	s := newLocal(t, ch, db, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	ch.push(&frame.NewMessage{Message: wire("7", peer, "one", time.Now().UTC())})
	_, err := s.InputChanged(ctx, "draft")
	require.NoError(t, err)

	require.NoError(t, s.ClearConversation(ctx))
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.Draft())
	d, err := db.LoadDraft(ctx, conv)
	require.NoError(t, err)
	assert.Empty(t, d)
}
