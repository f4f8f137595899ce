package frame

import (
	"encoding/json"

	"github.com/mqy/minichat/chatstore"
)

type Type string

const (
	// client -> server
	TypeJoinConversation Type = "join_conversation"
	TypeSendMessage      Type = "send_message"
	TypeStartTyping      Type = "start_typing"
	TypeStopTyping       Type = "stop_typing"
	TypeMarkRead         Type = "mark_read" // also server -> client, as a read receipt
	TypeAddReaction      Type = "add_reaction"
	TypeRemoveReaction   Type = "remove_reaction"

	// server -> client
	TypeConnectionEstablished Type = "connection_established"
	TypeNewMessage            Type = "new_message"
	TypeMessageUpdated        Type = "message_updated"
	TypeMessageDeleted        Type = "message_deleted"
	TypeReactionAdded         Type = "reaction_added"
	TypeReactionRemoved       Type = "reaction_removed"
	TypeTypingIndicator       Type = "typing_indicator"
	TypeUserStatusChange      Type = "user_status_change"
	TypeError                 Type = "error"
)

// Header is the discriminator every frame carries.
type Header struct {
	Type Type `json:"type"`
}

func (h *Header) header() *Header { return h }

// Outbound is a client -> server frame.
type Outbound interface {
	FrameType() Type
	header() *Header
}

type JoinConversation struct {
	Header
	ConversationID string `json:"conversation_id"`
}

type SendMessage struct {
	Header
	ConversationID string  `json:"conversation_id"`
	Content        string  `json:"content"`
	MessageType    string  `json:"message_type"`
	ClientID       string  `json:"client_id,omitempty"`
	FileURL        string  `json:"file_url,omitempty"`
	FileName       string  `json:"file_name,omitempty"`
	FileSize       int64   `json:"file_size,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	ReplyTo        string  `json:"reply_to,omitempty"`
}

type StartTyping struct {
	Header
	ConversationID string `json:"conversation_id"`
}

type StopTyping struct {
	Header
	ConversationID string `json:"conversation_id"`
}

type MarkRead struct {
	Header
	ConversationID string `json:"conversation_id"`
}

type AddReaction struct {
	Header
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type RemoveReaction struct {
	Header
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

func (*JoinConversation) FrameType() Type { return TypeJoinConversation }
func (*SendMessage) FrameType() Type      { return TypeSendMessage }
func (*StartTyping) FrameType() Type      { return TypeStartTyping }
func (*StopTyping) FrameType() Type       { return TypeStopTyping }
func (*MarkRead) FrameType() Type         { return TypeMarkRead }
func (*AddReaction) FrameType() Type      { return TypeAddReaction }
func (*RemoveReaction) FrameType() Type   { return TypeRemoveReaction }

// Encode stamps the frame type and serializes f.
func Encode(f Outbound) ([]byte, error) {
	f.header().Type = f.FrameType()
	return json.Marshal(f)
}

// NewSendMessage builds the send_message frame of a locally inserted message.
func NewSendMessage(m *chatstore.Message) *SendMessage {
	w := FromMessage(m)
	return &SendMessage{
		ConversationID: m.ConversationID,
		Content:        w.Content,
		MessageType:    w.MessageType,
		ClientID:       w.ClientID,
		FileURL:        w.FileURL,
		FileName:       w.FileName,
		FileSize:       w.FileSize,
		Duration:       w.Duration,
		ReplyTo:        m.ReplyTo,
	}
}
