package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("ws: not connected")
	ErrClosed       = errors.New("ws: manager closed")
)

// TransportError is a channel that failed to open or closed unexpectedly.
// It is non-fatal: callers fall back to the request/response path.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ws: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport is the subset of *websocket.Conn the manager needs.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func NewGorillaDialer() *GorillaDialer {
	return &GorillaDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
	}
}

func (d *GorillaDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w, http status: %d", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}
