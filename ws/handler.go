package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/minichat/frame"
)

// CloseCause tells why a link was closed.
type CloseCause int

const (
	ReadError  CloseCause = 1
	WriteError CloseCause = 2
	PingError  CloseCause = 3
	PeerClosed CloseCause = 4
	LocalClose CloseCause = 5
)

func (c CloseCause) String() string {
	switch c {
	case ReadError:
		return "read error"
	case WriteError:
		return "write error"
	case PingError:
		return "ping error"
	case PeerClosed:
		return "closed by peer"
	case LocalClose:
		return "closed locally"
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	defaultPingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 25 * time.Second

	// max inbound message size.
	defaultReadLimit = 64 * 1024
)

// linkData is the data structure for `dataChan`.
type linkData struct {
	cause   CloseCause
	typ     frame.Type
	payload []byte
	result  chan error
}

// link is one live channel connection. Every Open creates a new link.
type link struct {
	sync.Mutex

	m    *Manager
	id   uint64
	conv string
	conn Transport

	dataChan chan *linkData
	done     chan struct{}
	closing  bool
	cause    CloseCause
}

func newLink(m *Manager, id uint64, conv string, conn Transport) *link {
	return &link{
		m:        m,
		id:       id,
		conv:     conv,
		conn:     conn,
		dataChan: make(chan *linkData, 16),
		done:     make(chan struct{}),
	}
}

func (l *link) String() string {
	return fmt.Sprintf("link#%d(%s)", l.id, l.conv)
}

func (l *link) isClosing() bool {
	l.Lock()
	defer l.Unlock()
	return l.closing
}

// close must only run on the send loop, which is the single writer of the connection.
func (l *link) close(cause CloseCause) {
	l.Lock()
	if l.closing {
		l.Unlock()
		return
	}
	l.closing = true
	l.cause = cause

	l.conn.SetWriteDeadline(time.Now().Add(l.m.conf.WriteWait))
	_ = l.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	l.conn.Close()

	close(l.done)
	l.Unlock()

	glog.V(5).Infof("%s closed, cause: %s", l, cause)
	l.m.linkClosed(l, cause)
}

// appendDataChan queues v for the send loop. Returns false if the link is closing.
func (l *link) appendDataChan(v *linkData) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.dataChan <- v:
		return true
	case <-l.done:
		return false
	}
}

func (l *link) start() {
	go l.recvLoop()
	go l.sendLoop()
}

func (l *link) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, %s", l) }()

	pongWait := l.m.conf.PongWait
	l.conn.SetReadLimit(l.m.conf.ReadLimit)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !l.isClosing() {
		msgType, msg, err := l.conn.ReadMessage()
		if err != nil {
			if l.isClosing() {
				return
			}
			cause := ReadError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cause = PeerClosed
				glog.Infof("recvLoop(): %s closed by peer: %v", l, err)
			} else {
				glog.Errorf("recvLoop(): %s read error: %v", l, err)
			}
			if cause != PeerClosed {
				l.m.reportError(&TransportError{Op: "read", Err: err})
			}
			l.appendDataChan(&linkData{cause: cause})
			return
		}

		// Any inbound data proves the peer is alive.
		l.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): %s unexpected message type: %d", l, msgType)
			framesDropped.WithLabelValues("binary").Inc()
			continue
		}

		if glog.V(7) {
			glog.Infof("recvLoop(): %s incoming: %s", l, string(msg))
		}

		in, err := frame.Decode(msg)
		if err != nil {
			var de *frame.DecodeError
			if errors.As(err, &de) {
				glog.Errorf("recvLoop(): %s %v", l, err)
				framesDropped.WithLabelValues("decode").Inc()
			} else {
				glog.Warningf("recvLoop(): %s ignore frame: %v", l, err)
				framesDropped.WithLabelValues("unknown").Inc()
			}
			continue
		}
		glog.V(5).Infof("recvLoop(): %s frame %s", l, in.FrameType())
		framesReceived.WithLabelValues(string(in.FrameType())).Inc()
		l.m.deliver(l, in)
	}
}

func (l *link) sendLoop() {
	pingTicker := time.NewTicker(l.m.conf.PingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, %s", l)
	}()

	for {
		select {
		case v := <-l.dataChan:
			if v.cause > 0 {
				l.close(v.cause)
				continue
			}
			if v.payload == nil {
				// should not happen.
				panic(fmt.Sprintf("sendLoop(), unknown data from dataChan: %#+v", v))
			}
			if l.isClosing() {
				v.result <- ErrNotConnected
				continue
			}

			l.conn.SetWriteDeadline(time.Now().Add(l.m.conf.WriteWait))
			err := l.conn.WriteMessage(websocket.TextMessage, v.payload)
			if err != nil {
				glog.Errorf("sendLoop(): %s write %s error: %v", l, v.typ, err)
				err = &TransportError{Op: "write", Err: err}
				v.result <- err
				l.m.reportError(err)
				l.close(WriteError)
				continue
			}
			framesSent.WithLabelValues(string(v.typ)).Inc()
			v.result <- nil
		case <-pingTicker.C:
			l.conn.SetWriteDeadline(time.Now().Add(l.m.conf.WriteWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(): %s write ping error: %v", l, err)
				l.m.reportError(&TransportError{Op: "ping", Err: err})
				l.close(PingError)
			}
		case <-l.done:
			// fail what is left so writers are not stuck.
			for {
				select {
				case v := <-l.dataChan:
					if v.result != nil {
						v.result <- ErrNotConnected
					}
				default:
					return
				}
			}
		}
	}
}

// write queues a text frame and waits for the send loop to write it.
func (l *link) write(ctx context.Context, typ frame.Type, payload []byte) error {
	res := make(chan error, 1)
	if !l.appendDataChan(&linkData{typ: typ, payload: payload, result: res}) {
		return ErrNotConnected
	}
	select {
	case err := <-res:
		return err
	case <-l.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrNotConnected
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
