package fakebackend

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/minichat/frame"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
	KickedOff  SessionError = 6
)

const (
	writeWait  = 3 * time.Second
	pingPeriod = 20 * time.Second
	pongWait   = 25 * time.Second
	readLimit  = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// dev only: any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler manages one client connection.
type Handler struct {
	sync.Mutex

	hub    *Hub
	sid    string
	uid    string
	tenant string
	conv   string
	conn   *websocket.Conn

	dataChan chan *sessionData
	closing  bool
}

// sessionData is the data structure for `dataChan`.
type sessionData struct {
	Error SessionError
	Frame []byte
}

func (h *Handler) String() string {
	return fmt.Sprintf("session(sid=%s, uid=%s, conv=%s)", h.sid, h.uid, h.conversation())
}

func (h *Handler) conversation() string {
	h.Lock()
	defer h.Unlock()
	return h.conv
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true

	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	h.conn.Close()

	close(h.dataChan)
	h.Unlock()

	glog.V(5).Infof("fakebackend: session closed, cause: %d, sid: %s", cause, h.sid)
	h.hub.delHandler(h)
}

func (h *Handler) appendDataChan(v *sessionData) {
	h.Lock()
	defer h.Unlock()
	if !h.closing {
		select {
		case h.dataChan <- v:
		default:
			glog.Errorf("fakebackend: %s data chan full, drop", h.sid)
		}
	}
}

func (h *Handler) push(in frame.Inbound) {
	b, err := frame.EncodeInbound(in)
	if err != nil {
		glog.Errorf("fakebackend: encode %s: %v", in.FrameType(), err)
		return
	}
	h.appendDataChan(&sessionData{Frame: b})
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("fakebackend: recvLoop(): exited, sid: %s", h.sid) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("fakebackend: recvLoop(): read error: %v", err)
			h.appendDataChan(&sessionData{Error: ReadError})
			return
		}
		h.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			h.push(&frame.ServerError{Message: "only text frames are supported"})
			continue
		}

		out, err := frame.DecodeOutbound(msg)
		if err != nil {
			glog.Errorf("fakebackend: bad client frame: %s, err: %v", string(msg), err)
			msg := "bad frame"
			if errors.Is(err, frame.ErrUnknownType) {
				msg = "unsupported frame type"
			}
			h.push(&frame.ServerError{Message: msg})
			continue
		}
		h.hub.handleFrame(h, out)
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok {
				return
			}
			if v.Error > 0 {
				h.close(v.Error)
				return
			}
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.TextMessage, v.Frame); err != nil {
				glog.Errorf("fakebackend: sendLoop(): write error: %v", err)
				h.close(WriteError)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.close(PingError)
				return
			}
		}
	}
}
