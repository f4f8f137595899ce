package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mqy/minichat/chatstore"
)

// ID is a wire identifier. The backend may send ids as JSON numbers or strings.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("frame: id must be a string or number: %s", string(b))
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// WireReaction is the reaction shape shared by frames and the REST API.
type WireReaction struct {
	ID        ID        `json:"id,omitempty"`
	MessageID ID        `json:"message_id"`
	Emoji     string    `json:"emoji"`
	UserID    ID        `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *WireReaction) ToReaction() chatstore.Reaction {
	return chatstore.Reaction{
		ID:        string(r.ID),
		MessageID: string(r.MessageID),
		Emoji:     r.Emoji,
		UserID:    string(r.UserID),
		CreatedAt: r.CreatedAt,
	}
}

func FromReaction(r chatstore.Reaction) WireReaction {
	return WireReaction{
		ID:        ID(r.ID),
		MessageID: ID(r.MessageID),
		Emoji:     r.Emoji,
		UserID:    ID(r.UserID),
		CreatedAt: r.CreatedAt,
	}
}

// WireMessage is the message shape shared by frames and the REST API.
// File and audio payloads both travel in the file_* fields; audio adds duration in seconds.
type WireMessage struct {
	ID             ID             `json:"id"`
	ClientID       string         `json:"client_id,omitempty"`
	Conversation   ID             `json:"conversation,omitempty"`
	ConversationID ID             `json:"conversation_id,omitempty"`
	SenderID       ID             `json:"sender_id"`
	MessageType    string         `json:"message_type,omitempty"`
	Content        string         `json:"content"`
	FileURL        string         `json:"file_url,omitempty"`
	FileName       string         `json:"file_name,omitempty"`
	FileSize       int64          `json:"file_size,omitempty"`
	Duration       float64        `json:"duration,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	EditedAt       *time.Time     `json:"edited_at,omitempty"`
	ReplyTo        ID             `json:"reply_to,omitempty"`
	Reactions      []WireReaction `json:"reactions,omitempty"`
}

// ConvID returns the conversation the message belongs to, whichever field carried it.
func (w *WireMessage) ConvID() string {
	if w.ConversationID != "" {
		return string(w.ConversationID)
	}
	return string(w.Conversation)
}

func kindOf(messageType string) chatstore.MessageKind {
	switch messageType {
	case "audio", "voice":
		return chatstore.KindAudio
	case "file", "image":
		return chatstore.KindFile
	}
	return chatstore.KindText
}

func seconds(d time.Duration) float64 {
	return float64(d) / float64(time.Second)
}

// ToMessage converts to the store form. conv is used when the wire message names no conversation.
func (w *WireMessage) ToMessage(conv string) *chatstore.Message {
	m := &chatstore.Message{
		ID:             string(w.ID),
		ClientID:       w.ClientID,
		ConversationID: w.ConvID(),
		SenderID:       string(w.SenderID),
		Kind:           kindOf(w.MessageType),
		Content:        w.Content,
		CreatedAt:      w.CreatedAt,
		ReplyTo:        string(w.ReplyTo),
	}
	if m.ConversationID == "" {
		m.ConversationID = conv
	}
	if w.EditedAt != nil {
		t := *w.EditedAt
		m.EditedAt = &t
	}
	switch m.Kind {
	case chatstore.KindFile:
		m.File = &chatstore.FileDescriptor{Name: w.FileName, Size: w.FileSize, URL: w.FileURL}
	case chatstore.KindAudio:
		m.Audio = &chatstore.AudioDescriptor{
			URL:      w.FileURL,
			Duration: time.Duration(w.Duration * float64(time.Second)),
		}
	}
	for i := range w.Reactions {
		r := w.Reactions[i].ToReaction()
		if r.MessageID == "" {
			r.MessageID = m.ID
		}
		m.Reactions = append(m.Reactions, r)
	}
	return m
}

func FromMessage(m *chatstore.Message) *WireMessage {
	w := &WireMessage{
		ID:             ID(m.ID),
		ClientID:       m.ClientID,
		ConversationID: ID(m.ConversationID),
		SenderID:       ID(m.SenderID),
		MessageType:    string(m.Kind),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		ReplyTo:        ID(m.ReplyTo),
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		w.EditedAt = &t
	}
	if f := m.File; f != nil {
		w.FileURL, w.FileName, w.FileSize = f.URL, f.Name, f.Size
	}
	if a := m.Audio; a != nil {
		w.FileURL = a.URL
		w.Duration = seconds(a.Duration)
	}
	for _, r := range m.Reactions {
		w.Reactions = append(w.Reactions, FromReaction(r))
	}
	return w
}
