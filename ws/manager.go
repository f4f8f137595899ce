package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/frame"
)

var ErrOpenInProgress = errors.New("ws: open in progress")

// State of the channel. The manager is its single writer.
// Disconnected -> Connecting -> Connected -> (Reconnecting -> Connected | Closed)
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type EventKind int

const (
	EventState EventKind = iota + 1
	EventFrame
	EventError
	EventJoined
)

// Event is published to subscribers in the order it happened.
type Event struct {
	Kind           EventKind
	State          State
	ConversationID string
	Frame          frame.Inbound
	Err            error
}

type Config struct {
	BaseURL  string
	TenantID string
	Auth     auth.Client
	Dialer   Dialer

	WriteWait  time.Duration
	PingPeriod time.Duration
	PongWait   time.Duration
	ReadLimit  int64
}

func (c *Config) setDefaults() {
	if c.Dialer == nil {
		c.Dialer = NewGorillaDialer()
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 4 / 5
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Manager owns the lifecycle of the real-time channel. It never reconnects on its
// own: the owner re-invokes Open, e.g. on conversation re-selection.
type Manager struct {
	sync.Mutex

	conf   Config
	state  State
	conv   string
	link   *link
	seq    uint64
	opened bool

	subs    []subscriber
	nextSub uint64
	queue   *eventQueue
}

func NewManager(conf Config) *Manager {
	conf.setDefaults()
	m := &Manager{
		conf:  conf,
		queue: newEventQueue(),
	}
	connState.Set(float64(Disconnected))
	go m.dispatchLoop()
	return m
}

func (m *Manager) State() State {
	m.Lock()
	defer m.Unlock()
	return m.state
}

// Connected reports whether Send may currently succeed.
func (m *Manager) Connected() bool {
	return m.State() == Connected
}

// Conversation returns the conversation of the last Open.
func (m *Manager) Conversation() string {
	m.Lock()
	defer m.Unlock()
	return m.conv
}

// Subscribe registers fn for all events and returns its cancel func.
// fn runs on the manager's dispatch goroutine and may call back into the manager.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.Unlock()

	return func() {
		m.Lock()
		defer m.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// setState must be called with the lock held.
func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	glog.V(5).Infof("ws: state %s -> %s", m.state, s)
	m.state = s
	connState.Set(float64(s))
	m.queue.push(Event{Kind: EventState, State: s, ConversationID: m.conv})
}

// Open dials the channel for conv and joins it. A live link of a previous Open is
// released first. Failures are reported as TransportError and leave the manager
// Disconnected.
func (m *Manager) Open(ctx context.Context, conv string) error {
	m.Lock()
	switch m.state {
	case Closed:
		m.Unlock()
		return ErrClosed
	case Connecting, Reconnecting:
		m.Unlock()
		return ErrOpenInProgress
	}
	old := m.link
	m.link = nil
	m.seq++
	id := m.seq
	m.conv = conv
	if m.opened {
		m.setState(Reconnecting)
	} else {
		m.setState(Connecting)
	}
	m.opened = true
	m.Unlock()

	if old != nil {
		old.appendDataChan(&linkData{cause: LocalClose})
	}

	token, err := m.conf.Auth.Token(ctx)
	if err != nil {
		return m.openFailed(id, &TransportError{Op: "auth", Err: err})
	}
	url, err := auth.ChannelURL(m.conf.BaseURL, m.conf.TenantID, token)
	if err != nil {
		return m.openFailed(id, &TransportError{Op: "address", Err: err})
	}

	glog.Infof("ws: dialing %s", auth.Redact(url))
	conn, err := m.conf.Dialer.Dial(ctx, url)
	if err != nil {
		dials.WithLabelValues("error").Inc()
		return m.openFailed(id, &TransportError{Op: "dial", Err: err})
	}
	dials.WithLabelValues("ok").Inc()

	l := newLink(m, id, conv, conn)
	m.Lock()
	if m.seq != id || m.state == Closed {
		m.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.link = l
	m.Unlock()
	l.start()

	join, _ := frame.Encode(&frame.JoinConversation{ConversationID: conv})
	if err := l.write(ctx, frame.TypeJoinConversation, join); err != nil {
		l.appendDataChan(&linkData{cause: WriteError})
		return m.openFailed(id, &TransportError{Op: "join", Err: err})
	}

	m.Lock()
	defer m.Unlock()
	if m.link != l {
		return &TransportError{Op: "join", Err: ErrNotConnected}
	}
	m.setState(Connected)
	m.queue.push(Event{Kind: EventJoined, ConversationID: conv})
	glog.Infof("ws: joined conversation %s", conv)
	return nil
}

func (m *Manager) openFailed(id uint64, err error) error {
	glog.Errorf("ws: open failed: %v", err)
	m.Lock()
	if m.seq == id && m.state != Closed {
		m.link = nil
		m.setState(Disconnected)
	}
	m.queue.push(Event{Kind: EventError, Err: err, ConversationID: m.conv})
	m.Unlock()
	return err
}

// Send writes f and waits for the write to complete. It never blocks waiting for
// a connection: when not Connected it fails fast with ErrNotConnected.
func (m *Manager) Send(ctx context.Context, f frame.Outbound) error {
	m.Lock()
	l, st := m.link, m.state
	m.Unlock()
	if st != Connected || l == nil {
		return ErrNotConnected
	}
	b, err := frame.Encode(f)
	if err != nil {
		return err
	}
	return l.write(ctx, f.FrameType(), b)
}

// Disconnect releases the live link, if any. The manager can be opened again.
func (m *Manager) Disconnect() {
	m.Lock()
	l := m.link
	m.link = nil
	if m.state != Closed {
		m.setState(Disconnected)
	}
	m.Unlock()
	if l != nil {
		l.appendDataChan(&linkData{cause: LocalClose})
	}
}

// Close releases the channel if it is open and stops event delivery after the
// final Closed state event. It is safe to call more than once.
func (m *Manager) Close() {
	m.Lock()
	if m.state == Closed {
		m.Unlock()
		return
	}
	l := m.link
	m.link = nil
	m.setState(Closed)
	m.Unlock()

	if l != nil {
		l.appendDataChan(&linkData{cause: LocalClose})
	}
	m.queue.close()
}

// Done is closed once every event has been delivered after Close.
func (m *Manager) Done() <-chan struct{} {
	return m.queue.done
}

func (m *Manager) linkClosed(l *link, cause CloseCause) {
	m.Lock()
	defer m.Unlock()
	if m.link != l {
		return
	}
	m.link = nil
	if m.state != Closed {
		glog.Infof("ws: %s lost: %s", l, cause)
		m.setState(Disconnected)
	}
}

func (m *Manager) reportError(err error) {
	m.Lock()
	defer m.Unlock()
	m.queue.push(Event{Kind: EventError, Err: err, ConversationID: m.conv})
}

// deliver publishes an inbound frame. Frames of superseded links are dropped.
func (m *Manager) deliver(l *link, in frame.Inbound) {
	m.Lock()
	defer m.Unlock()
	if m.link != l {
		glog.V(5).Infof("ws: drop %s from stale %s", in.FrameType(), l)
		return
	}
	m.queue.push(Event{Kind: EventFrame, Frame: in, ConversationID: l.conv})
}

func (m *Manager) dispatchLoop() {
	defer close(m.queue.done)
	for range m.queue.notify {
		events, closed := m.queue.take()
		for _, e := range events {
			m.publish(e)
		}
		if closed {
			return
		}
	}
}

func (m *Manager) publish(e Event) {
	m.Lock()
	subs := append([]subscriber(nil), m.subs...)
	m.Unlock()
	for _, s := range subs {
		s.fn(e)
	}
}

// eventQueue is an unbounded FIFO, so publishing never blocks a writer that holds a lock.
type eventQueue struct {
	sync.Mutex
	items  []Event
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *eventQueue) push(e Event) {
	q.Lock()
	if q.closed {
		q.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) take() ([]Event, bool) {
	q.Lock()
	defer q.Unlock()
	out := q.items
	q.items = nil
	return out, q.closed
}

func (q *eventQueue) close() {
	q.Lock()
	q.closed = true
	q.Unlock()
	q.wake()
}
