// Package fakebackend is an in-process chat backend for tests and the demo.
// It speaks the channel frame vocabulary and the REST contract the client consumes.
package fakebackend

import (
	"net/http"
	"strings"
	"sync"

	"github.com/pborman/uuid"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/frame"
)

type Config struct {
	TenantID string
	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string
}

type Server struct {
	sync.Mutex

	hub *Hub
	mux *http.ServeMux

	down bool
}

func New(conf Config) *Server {
	s := &Server{
		hub: newHub(conf.TenantID, &auth.MockVerifier{Tokens: conf.Tokens}),
		mux: http.NewServeMux(),
	}
	s.mux.Handle("/ws/chat/", s.hub)
	s.mux.Handle(APIPrefix, &api{srv: s})
	s.mux.HandleFunc(filesPath, s.serveFile)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close closes every channel session.
func (s *Server) Close() {
	s.hub.close()
}

// AddConversation registers a conversation for the directory listing.
func (s *Server) AddConversation(c chatstore.Conversation) {
	s.hub.Lock()
	s.hub.convs[c.ID] = c
	s.hub.Unlock()
}

// Post creates a message from uid in conv and pushes it to joined sessions.
func (s *Server) Post(conv, uid, content string) *frame.WireMessage {
	m := s.hub.createMessage(uid, &frame.WireMessage{
		ConversationID: frame.ID(conv),
		MessageType:    string(chatstore.KindText),
		Content:        content,
	})
	s.hub.broadcast(conv, "", &frame.NewMessage{Message: s.hub.echo(m)})
	return m
}

// Push sends an arbitrary frame to every session joined to conv.
func (s *Server) Push(conv string, in frame.Inbound) {
	s.hub.broadcast(conv, "", in)
}

// PushRaw sends raw bytes, for malformed frame tests.
func (s *Server) PushRaw(conv string, raw []byte) {
	for _, h := range s.hub.hstore.getByConv(conv) {
		h.appendDataChan(&sessionData{Frame: raw})
	}
}

func (s *Server) Messages(conv string) []*frame.WireMessage {
	return s.hub.listMessages(conv)
}

// Joined returns the number of sessions joined to conv.
func (s *Server) Joined(conv string) int {
	return len(s.hub.hstore.getByConv(conv))
}

// DropSessions closes every live channel session, as a network loss would.
func (s *Server) DropSessions() {
	for _, h := range s.hub.hstore.all() {
		h.appendDataChan(&sessionData{Error: KickedOff})
	}
}

// SetChannelOnline toggles acceptance of new channel sessions.
func (s *Server) SetChannelOnline(online bool) {
	s.hub.Lock()
	s.hub.online = online
	s.hub.Unlock()
}

// SetAPIDown makes every REST call fail with 503.
func (s *Server) SetAPIDown(down bool) {
	s.Lock()
	s.down = down
	s.Unlock()
}

func (s *Server) apiDown() bool {
	s.Lock()
	defer s.Unlock()
	return s.down
}

// SetEchoClientID controls whether echoed messages carry the sender's client id.
func (s *Server) SetEchoClientID(echo bool) {
	s.hub.Lock()
	s.hub.echoClientID = echo
	s.hub.Unlock()
}

func (s *Server) SetTask(id, status string) {
	s.hub.Lock()
	s.hub.tasks[id] = status
	s.hub.Unlock()
}

func (s *Server) DeleteTask(id string) {
	s.hub.Lock()
	delete(s.hub.tasks, id)
	s.hub.Unlock()
}

func (s *Server) taskStatus(id string) (string, bool) {
	s.hub.Lock()
	defer s.hub.Unlock()
	v, ok := s.hub.tasks[id]
	return v, ok
}

func (s *Server) putFile(name string, data []byte) string {
	key := uuid.New() + "-" + strings.ReplaceAll(name, "/", "_")
	s.hub.Lock()
	s.hub.files[key] = data
	s.hub.Unlock()
	return key
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, filesPath)
	s.hub.Lock()
	data, ok := s.hub.files[key]
	s.hub.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
