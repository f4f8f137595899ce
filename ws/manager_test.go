package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/dev/fakebackend"
	"github.com/mqy/minichat/frame"
)

const (
	tenant = "acme"
	conv   = "c1"
)

type collector struct {
	sync.Mutex
	events []Event
}

func (c *collector) add(e Event) {
	c.Lock()
	c.events = append(c.events, e)
	c.Unlock()
}

func (c *collector) states() []State {
	c.Lock()
	defer c.Unlock()
	var out []State
	for _, e := range c.events {
		if e.Kind == EventState {
			out = append(out, e.State)
		}
	}
	return out
}

func (c *collector) frames(t frame.Type) []frame.Inbound {
	c.Lock()
	defer c.Unlock()
	var out []frame.Inbound
	for _, e := range c.events {
		if e.Kind == EventFrame && e.Frame.FrameType() == t {
			out = append(out, e.Frame)
		}
	}
	return out
}

func (c *collector) errors() []error {
	c.Lock()
	defer c.Unlock()
	var out []error
	for _, e := range c.events {
		if e.Kind == EventError {
			out = append(out, e.Err)
		}
	}
	return out
}

func setup(t *testing.T) (*fakebackend.Server, *Manager, *collector) {
	backend := fakebackend.New(fakebackend.Config{
		TenantID: tenant,
		Tokens:   map[string]string{"tok-1": "u1"},
	})
	ts := httptest.NewServer(backend)
	t.Cleanup(func() {
		backend.Close()
		ts.Close()
	})

	m := NewManager(Config{
		BaseURL:  ts.URL,
		TenantID: tenant,
		Auth:     auth.NewStaticClient("tok-1"),
	})
	t.Cleanup(m.Close)

	c := &collector{}
	m.Subscribe(c.add)
	return backend, m, c
}

func TestSendWhenNotConnected(t *testing.T) {
	_, m, _ := setup(t)
	err := m.Send(context.Background(), &frame.StartTyping{ConversationID: conv})
	assert.Equal(t, ErrNotConnected, err)
	assert.Equal(t, Disconnected, m.State())
}

func TestOpenJoinAndSend(t *testing.T) {
	backend, m, c := setup(t)
	ctx := context.Background()

	require.NoError(t, m.Open(ctx, conv))
	assert.Equal(t, Connected, m.State())
	assert.True(t, m.Connected())
	assert.Equal(t, conv, m.Conversation())

	assert.Eventually(t, func() bool { return backend.Joined(conv) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(c.frames(frame.TypeConnectionEstablished)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Send(ctx, &frame.SendMessage{
		ConversationID: conv, Content: "Hello", MessageType: "text", ClientID: "cid-1",
	}))

	assert.Eventually(t, func() bool { return len(c.frames(frame.TypeNewMessage)) == 1 }, 2*time.Second, 10*time.Millisecond)
	nm := c.frames(frame.TypeNewMessage)[0].(*frame.NewMessage)
	assert.Equal(t, "cid-1", nm.Message.ClientID)
	assert.Equal(t, frame.ID("u1"), nm.Message.SenderID)

	assert.Equal(t, []State{Connecting, Connected}, c.states())
}

func TestDialFailure(t *testing.T) {
	backend, m, c := setup(t)
	backend.SetChannelOnline(false)

	err := m.Open(context.Background(), conv)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "dial", te.Op)
	assert.Equal(t, Disconnected, m.State())

	assert.Eventually(t, func() bool { return len(c.errors()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []State{Connecting, Disconnected}, c.states())
}

func TestBadToken(t *testing.T) {
	backend := fakebackend.New(fakebackend.Config{TenantID: tenant})
	ts := httptest.NewServer(backend)
	defer ts.Close()

	m := NewManager(Config{BaseURL: ts.URL, TenantID: tenant, Auth: auth.NewStaticClient("nope")})
	defer m.Close()
	err := m.Open(context.Background(), conv)
	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestDropDoesNotReconnect(t *testing.T) {
	backend, m, c := setup(t)
	ctx := context.Background()
	require.NoError(t, m.Open(ctx, conv))
	require.Eventually(t, func() bool { return backend.Joined(conv) == 1 }, 2*time.Second, 10*time.Millisecond)

	backend.DropSessions()
	assert.Eventually(t, func() bool { return m.State() == Disconnected }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, ErrNotConnected, m.Send(ctx, &frame.StopTyping{ConversationID: conv}))

	// explicit re-join by the owner
	require.NoError(t, m.Open(ctx, conv))
	assert.Eventually(t, func() bool {
		s := c.states()
		return len(s) == 5 && s[4] == Connected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []State{Connecting, Connected, Disconnected, Reconnecting, Connected}, c.states())
}

func TestSwitchConversation(t *testing.T) {
	backend, m, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, m.Open(ctx, "a"))
	require.NoError(t, m.Open(ctx, "b"))
	assert.Eventually(t, func() bool {
		return backend.Joined("a") == 0 && backend.Joined("b") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Connected, m.State())
}

func TestMalformedFrameIsDropped(t *testing.T) {
	backend, m, c := setup(t)
	require.NoError(t, m.Open(context.Background(), conv))
	require.Eventually(t, func() bool { return backend.Joined(conv) == 1 }, 2*time.Second, 10*time.Millisecond)

	backend.PushRaw(conv, []byte(`{"type":"new_message"`))
	backend.PushRaw(conv, []byte(`{"type":"some_future_frame"}`))
	backend.Post(conv, "u2", "still here")

	assert.Eventually(t, func() bool { return len(c.frames(frame.TypeNewMessage)) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Connected, m.State())
	assert.Empty(t, c.errors())
}

func TestClose(t *testing.T) {
	backend, m, c := setup(t)
	require.NoError(t, m.Open(context.Background(), conv))
	require.Eventually(t, func() bool { return backend.Joined(conv) == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Close()
	m.Close()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
	assert.Equal(t, Closed, m.State())
	assert.Equal(t, []State{Connecting, Connected, Closed}, c.states())
	assert.Equal(t, ErrClosed, m.Open(context.Background(), conv))
	assert.Eventually(t, func() bool { return backend.Joined(conv) == 0 }, 2*time.Second, 10*time.Millisecond)
}
