package chatstore

import (
	"context"
	"time"
)

type ChatKind string

const (
	ChatKind_Two   ChatKind = "two" //  one-on-one, two-party
	ChatKind_Group ChatKind = "group"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindFile  MessageKind = "file"
	KindAudio MessageKind = "audio"
)

// DeliveryState is the lifecycle stage of a message.
// pending -> sent -> delivered, or pending -> failed.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateFailed    DeliveryState = "failed"
)

func (s DeliveryState) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateSent:
		return 1
	case StateDelivered:
		return 2
	}
	return -1
}

// CanAdvance reports whether s may move to `to`.
// Failed is terminal and only reachable from pending.
func (s DeliveryState) CanAdvance(to DeliveryState) bool {
	if s == StateFailed {
		return false
	}
	if to == StateFailed {
		return s == StatePending
	}
	return to.rank() > s.rank()
}

type Participant struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Conversation is owned by the directory; read only here.
type Conversation struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Kind         ChatKind      `json:"kind,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	LastActivity time.Time     `json:"last_activity"`
}

type FileDescriptor struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type AudioDescriptor struct {
	URL       string        `json:"url"`
	Duration  time.Duration `json:"duration"`
	// Channels and Bandwidth are known for voice notes recorded locally.
	Channels  int           `json:"channels,omitempty"`
	Bandwidth string        `json:"bandwidth,omitempty"`
}

type Reaction struct {
	ID        string    `json:"id,omitempty"`
	MessageID string    `json:"message_id"`
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (r Reaction) sameTriple(o Reaction) bool {
	return r.MessageID == o.MessageID && r.UserID == o.UserID && r.Emoji == o.Emoji
}

// Message is a single chat log entry.
// ID is server assigned once confirmed and locally assigned (`local-` prefix) while pending.
type Message struct {
	ID             string           `json:"id"`
	ClientID       string           `json:"client_id,omitempty"`
	ConversationID string           `json:"conversation_id"`
	SenderID       string           `json:"sender_id"`
	Kind           MessageKind      `json:"kind"`
	Content        string           `json:"content,omitempty"`
	File           *FileDescriptor  `json:"file,omitempty"`
	Audio          *AudioDescriptor `json:"audio,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	State          DeliveryState    `json:"state"`
	EditedAt       *time.Time       `json:"edited_at,omitempty"`
	ReplyTo        string           `json:"reply_to,omitempty"`
	Reactions      []Reaction       `json:"reactions,omitempty"`
}

// Clone returns a deep copy, so callers never share slices with the store.
func (m *Message) Clone() *Message {
	out := *m
	if m.File != nil {
		f := *m.File
		out.File = &f
	}
	if m.Audio != nil {
		a := *m.Audio
		out.Audio = &a
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	if m.Reactions != nil {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return &out
}

// IsLocal reports whether the message still carries a locally assigned id.
func (m *Message) IsLocal() bool {
	return IsLocalID(m.ID)
}

// IDirectory is the consumed contract of the conversation directory.
type IDirectory interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
}
