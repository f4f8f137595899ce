package fakebackend

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/frame"
)

type presence struct {
	Status              string `json:"status"`
	CurrentConversation string `json:"current_conversation,omitempty"`
}

// Hub serves channel sessions and keeps the in-memory chat state shared with the REST api.
type Hub struct {
	sync.Mutex

	tenant   string
	verifier auth.Verifier
	hstore   *HandlerStore

	seq      int64
	convs    map[string]chatstore.Conversation
	messages map[string][]*frame.WireMessage // conversation id -> messages, in creation order
	presence map[string]presence
	tasks    map[string]string
	files    map[string][]byte

	online       bool
	echoClientID bool
}

func newHub(tenant string, verifier auth.Verifier) *Hub {
	return &Hub{
		tenant:       tenant,
		verifier:     verifier,
		hstore:       newHandlerStore(),
		seq:          1000,
		convs:        make(map[string]chatstore.Conversation),
		messages:     make(map[string][]*frame.WireMessage),
		presence:     make(map[string]presence),
		tasks:        make(map[string]string),
		files:        make(map[string][]byte),
		online:       true,
		echoClientID: true,
	}
}

// ServeHTTP handles `/ws/chat/{tenant}/?token=` upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Lock()
	online := h.online
	h.Unlock()
	if !online {
		http.Error(w, "channel is temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	tenant := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/chat/"), "/")
	if tenant != h.tenant {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}

	uid, err := h.verifier.Verify(r)
	if err != nil {
		glog.Errorf("fakebackend: authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	// If the upgrade fails, then Upgrade replies to the client with an HTTP error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("fakebackend: upgrade error, uid: %s, err: %v", uid, err)
		return
	}

	handler := &Handler{
		hub:      h,
		sid:      strings.ReplaceAll(uuid.New(), "-", ""),
		uid:      uid,
		tenant:   tenant,
		conn:     conn,
		dataChan: make(chan *sessionData, 64),
	}
	h.hstore.add(handler)
	glog.V(5).Infof("fakebackend: session online: %s", handler)

	go handler.recvLoop()
	go handler.sendLoop()

	handler.push(&frame.ConnectionEstablished{UserID: frame.ID(uid), TenantID: frame.ID(tenant)})
}

func (h *Hub) delHandler(handler *Handler) {
	if h.hstore.del(handler.sid) {
		glog.V(5).Infof("fakebackend: session offline: %s", handler)
	}
}

func (h *Hub) handleFrame(s *Handler, out frame.Outbound) {
	switch v := out.(type) {
	case *frame.JoinConversation:
		s.Lock()
		s.conv = v.ConversationID
		s.Unlock()
	case *frame.SendMessage:
		m := h.createMessage(s.uid, &frame.WireMessage{
			ConversationID: frame.ID(v.ConversationID),
			ClientID:       v.ClientID,
			MessageType:    v.MessageType,
			Content:        v.Content,
			FileURL:        v.FileURL,
			FileName:       v.FileName,
			FileSize:       v.FileSize,
			Duration:       v.Duration,
			ReplyTo:        frame.ID(v.ReplyTo),
		})
		h.broadcast(v.ConversationID, "", &frame.NewMessage{Message: h.echo(m)})
	case *frame.StartTyping:
		h.broadcast(v.ConversationID, s.sid, &frame.TypingIndicator{
			UserID: frame.ID(s.uid), ConversationID: frame.ID(v.ConversationID), IsTyping: true})
	case *frame.StopTyping:
		h.broadcast(v.ConversationID, s.sid, &frame.TypingIndicator{
			UserID: frame.ID(s.uid), ConversationID: frame.ID(v.ConversationID), IsTyping: false})
	case *frame.MarkRead:
		h.broadcast(v.ConversationID, s.sid, &frame.ReadReceipt{
			ConversationID: frame.ID(v.ConversationID), UserID: frame.ID(s.uid)})
	case *frame.AddReaction:
		if conv, r, ok := h.react(v.MessageID, s.uid, v.Emoji, true); ok {
			h.broadcast(conv, "", &frame.ReactionAdded{Reaction: r})
		}
	case *frame.RemoveReaction:
		if conv, r, ok := h.react(v.MessageID, s.uid, v.Emoji, false); ok {
			h.broadcast(conv, "", &frame.ReactionRemoved{Reaction: r})
		}
	default:
		glog.Errorf("fakebackend: unsupported frame: %s", out.FrameType())
	}
}

// broadcast pushes in to every session joined to conv, except the session `except`.
func (h *Hub) broadcast(conv, except string, in frame.Inbound) {
	for _, s := range h.hstore.getByConv(conv) {
		if s.sid != except {
			s.push(in)
		}
	}
}

func (h *Hub) nextID() string {
	h.seq++
	return strconv.FormatInt(h.seq, 10)
}

func (h *Hub) createMessage(uid string, w *frame.WireMessage) *frame.WireMessage {
	h.Lock()
	defer h.Unlock()
	m := *w
	m.ID = frame.ID(h.nextID())
	m.SenderID = frame.ID(uid)
	m.CreatedAt = time.Now().UTC()
	if m.ConversationID == "" {
		m.ConversationID = m.Conversation
	}
	m.Conversation = ""
	if m.MessageType == "" {
		m.MessageType = string(chatstore.KindText)
	}
	conv := string(m.ConversationID)
	h.messages[conv] = append(h.messages[conv], &m)
	if c, ok := h.convs[conv]; ok {
		c.LastActivity = m.CreatedAt
		h.convs[conv] = c
	}
	return &m
}

// echo returns the copy sent back to clients.
func (h *Hub) echo(m *frame.WireMessage) *frame.WireMessage {
	h.Lock()
	defer h.Unlock()
	out := *m
	if !h.echoClientID {
		out.ClientID = ""
	}
	return &out
}

func (h *Hub) findMessage(id string) *frame.WireMessage {
	for _, list := range h.messages {
		for _, m := range list {
			if string(m.ID) == id {
				return m
			}
		}
	}
	return nil
}

// react adds or removes the reaction (message, uid, emoji). Returns the conversation of the message.
func (h *Hub) react(msgID, uid, emoji string, add bool) (string, *frame.WireReaction, bool) {
	h.Lock()
	defer h.Unlock()
	m := h.findMessage(msgID)
	if m == nil {
		return "", nil, false
	}
	for i, r := range m.Reactions {
		if string(r.UserID) == uid && r.Emoji == emoji {
			if add {
				return "", nil, false
			}
			m.Reactions = append(m.Reactions[:i:i], m.Reactions[i+1:]...)
			return string(m.ConversationID), &r, true
		}
	}
	if !add {
		return "", nil, false
	}
	r := frame.WireReaction{
		ID:        frame.ID(h.nextID()),
		MessageID: m.ID,
		Emoji:     emoji,
		UserID:    frame.ID(uid),
		CreatedAt: time.Now().UTC(),
	}
	m.Reactions = append(m.Reactions, r)
	return string(m.ConversationID), &r, true
}

func (h *Hub) listMessages(conv string) []*frame.WireMessage {
	h.Lock()
	defer h.Unlock()
	out := make([]*frame.WireMessage, 0, len(h.messages[conv]))
	for _, m := range h.messages[conv] {
		v := *m
		v.Reactions = append([]frame.WireReaction(nil), m.Reactions...)
		out = append(out, &v)
	}
	return out
}

func (h *Hub) listConversations() []chatstore.Conversation {
	h.Lock()
	defer h.Unlock()
	out := make([]chatstore.Conversation, 0, len(h.convs))
	for _, c := range h.convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) setPresence(uid string, p presence) {
	h.Lock()
	h.presence[uid] = p
	h.Unlock()
	if p.CurrentConversation != "" {
		h.broadcast(p.CurrentConversation, "", &frame.UserStatusChange{
			UserID:              frame.ID(uid),
			Status:              p.Status,
			CurrentConversation: frame.ID(p.CurrentConversation),
		})
	}
}

func (h *Hub) close() {
	h.hstore.close()
}
