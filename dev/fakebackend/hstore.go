package fakebackend

import (
	"sync"
)

// HandlerStore indexes live channel sessions by session id.
type HandlerStore struct {
	sync.RWMutex
	handlers map[string]*Handler
}

func newHandlerStore() *HandlerStore {
	return &HandlerStore{handlers: make(map[string]*Handler)}
}

func (hs *HandlerStore) del(sid string) bool {
	hs.Lock()
	defer hs.Unlock()
	if _, ok := hs.handlers[sid]; ok {
		delete(hs.handlers, sid)
		return true
	}
	return false
}

func (hs *HandlerStore) add(h *Handler) {
	hs.Lock()
	hs.handlers[h.sid] = h
	hs.Unlock()
}

// getByConv returns the sessions joined to conv.
func (hs *HandlerStore) getByConv(conv string) []*Handler {
	hs.RLock()
	defer hs.RUnlock()

	var out []*Handler
	for _, h := range hs.handlers {
		if h.conversation() == conv {
			out = append(out, h)
		}
	}
	return out
}

func (hs *HandlerStore) all() []*Handler {
	hs.RLock()
	defer hs.RUnlock()
	out := make([]*Handler, 0, len(hs.handlers))
	for _, h := range hs.handlers {
		out = append(out, h)
	}
	return out
}

func (hs *HandlerStore) close() {
	for _, h := range hs.all() {
		h.appendDataChan(&sessionData{Error: ServerStop})
	}
}
