package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("frame: unknown type")

// DecodeError is a malformed inbound frame. Only that frame is dropped.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	raw := string(e.Raw)
	if len(raw) > 100 {
		raw = raw[:100] + " ..."
	}
	return fmt.Sprintf("frame: decode error: %v, raw: %s", e.Err, raw)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Inbound is the closed set of server -> client frames.
type Inbound interface {
	FrameType() Type
	inbound()
}

type ConnectionEstablished struct {
	UserID   ID `json:"user_id"`
	TenantID ID `json:"tenant_id"`
}

type NewMessage struct {
	Message      *WireMessage `json:"message"`
	Conversation ID           `json:"conversation,omitempty"`
}

type MessageUpdated struct {
	Message *WireMessage `json:"message"`
}

type MessageDeleted struct {
	MessageID      ID `json:"message_id"`
	ConversationID ID `json:"conversation_id,omitempty"`
}

type ReactionAdded struct {
	Reaction *WireReaction `json:"reaction"`
}

type ReactionRemoved struct {
	Reaction *WireReaction `json:"reaction"`
}

type TypingIndicator struct {
	UserID         ID   `json:"user_id"`
	ConversationID ID   `json:"conversation_id,omitempty"`
	IsTyping       bool `json:"is_typing"`
}

type UserStatusChange struct {
	UserID              ID     `json:"user_id"`
	Status              string `json:"status"`
	CurrentConversation ID     `json:"current_conversation,omitempty"`
}

// ReadReceipt is the inbound mark_read: UserID has read ConversationID.
type ReadReceipt struct {
	ConversationID ID `json:"conversation_id"`
	UserID         ID `json:"user_id"`
}

type ServerError struct {
	Message string `json:"message"`
}

func (*ConnectionEstablished) FrameType() Type { return TypeConnectionEstablished }
func (*NewMessage) FrameType() Type            { return TypeNewMessage }
func (*MessageUpdated) FrameType() Type        { return TypeMessageUpdated }
func (*MessageDeleted) FrameType() Type        { return TypeMessageDeleted }
func (*ReactionAdded) FrameType() Type         { return TypeReactionAdded }
func (*ReactionRemoved) FrameType() Type       { return TypeReactionRemoved }
func (*TypingIndicator) FrameType() Type       { return TypeTypingIndicator }
func (*UserStatusChange) FrameType() Type      { return TypeUserStatusChange }
func (*ReadReceipt) FrameType() Type           { return TypeMarkRead }
func (*ServerError) FrameType() Type           { return TypeError }

func (*ConnectionEstablished) inbound() {}
func (*NewMessage) inbound()            {}
func (*MessageUpdated) inbound()        {}
func (*MessageDeleted) inbound()        {}
func (*ReactionAdded) inbound()         {}
func (*ReactionRemoved) inbound()       {}
func (*TypingIndicator) inbound()       {}
func (*UserStatusChange) inbound()      {}
func (*ReadReceipt) inbound()           {}
func (*ServerError) inbound()           {}

func newInbound(t Type) Inbound {
	switch t {
	case TypeConnectionEstablished:
		return &ConnectionEstablished{}
	case TypeNewMessage:
		return &NewMessage{}
	case TypeMessageUpdated:
		return &MessageUpdated{}
	case TypeMessageDeleted:
		return &MessageDeleted{}
	case TypeReactionAdded:
		return &ReactionAdded{}
	case TypeReactionRemoved:
		return &ReactionRemoved{}
	case TypeTypingIndicator:
		return &TypingIndicator{}
	case TypeUserStatusChange:
		return &UserStatusChange{}
	case TypeMarkRead:
		return &ReadReceipt{}
	case TypeError:
		return &ServerError{}
	}
	return nil
}

// Decode parses one inbound frame. An unrecognized type yields an error wrapping
// ErrUnknownType; callers log and drop it.
func Decode(raw []byte) (Inbound, error) {
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	if h.Type == "" {
		return nil, &DecodeError{Raw: raw, Err: errors.New("missing type")}
	}
	in := newInbound(h.Type)
	if in == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, h.Type)
	}
	if err := json.Unmarshal(raw, in); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	if err := validate(in); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	return in, nil
}

func validate(in Inbound) error {
	switch v := in.(type) {
	case *NewMessage:
		if v.Message == nil || v.Message.ID == "" {
			return errors.New("new_message: missing message")
		}
	case *MessageUpdated:
		if v.Message == nil || v.Message.ID == "" {
			return errors.New("message_updated: missing message")
		}
	case *MessageDeleted:
		if v.MessageID == "" {
			return errors.New("message_deleted: missing message_id")
		}
	case *ReactionAdded:
		if v.Reaction == nil || v.Reaction.MessageID == "" {
			return errors.New("reaction_added: missing reaction")
		}
	case *ReactionRemoved:
		if v.Reaction == nil || v.Reaction.MessageID == "" {
			return errors.New("reaction_removed: missing reaction")
		}
	case *TypingIndicator:
		if v.UserID == "" {
			return errors.New("typing_indicator: missing user_id")
		}
	case *UserStatusChange:
		if v.UserID == "" {
			return errors.New("user_status_change: missing user_id")
		}
	}
	return nil
}

// Handler consumes every inbound variant.
type Handler interface {
	OnConnectionEstablished(*ConnectionEstablished)
	OnNewMessage(*NewMessage)
	OnMessageUpdated(*MessageUpdated)
	OnMessageDeleted(*MessageDeleted)
	OnReactionAdded(*ReactionAdded)
	OnReactionRemoved(*ReactionRemoved)
	OnTypingIndicator(*TypingIndicator)
	OnUserStatusChange(*UserStatusChange)
	OnReadReceipt(*ReadReceipt)
	OnServerError(*ServerError)
}

// Dispatch routes in to the matching Handler method.
func Dispatch(in Inbound, h Handler) {
	switch v := in.(type) {
	case *ConnectionEstablished:
		h.OnConnectionEstablished(v)
	case *NewMessage:
		h.OnNewMessage(v)
	case *MessageUpdated:
		h.OnMessageUpdated(v)
	case *MessageDeleted:
		h.OnMessageDeleted(v)
	case *ReactionAdded:
		h.OnReactionAdded(v)
	case *ReactionRemoved:
		h.OnReactionRemoved(v)
	case *TypingIndicator:
		h.OnTypingIndicator(v)
	case *UserStatusChange:
		h.OnUserStatusChange(v)
	case *ReadReceipt:
		h.OnReadReceipt(v)
	case *ServerError:
		h.OnServerError(v)
	default:
		// should not happen.
		panic(fmt.Sprintf("frame: unknown inbound variant: %#+v", in))
	}
}

// EncodeInbound serializes a server -> client frame.
func EncodeInbound(in Inbound) ([]byte, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	t, _ := json.Marshal(in.FrameType())
	fields["type"] = t
	return json.Marshal(fields)
}

// DecodeOutbound parses a client -> server frame, used by the dev backend.
func DecodeOutbound(raw []byte) (Outbound, error) {
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	var out Outbound
	switch h.Type {
	case TypeJoinConversation:
		out = &JoinConversation{}
	case TypeSendMessage:
		out = &SendMessage{}
	case TypeStartTyping:
		out = &StartTyping{}
	case TypeStopTyping:
		out = &StopTyping{}
	case TypeMarkRead:
		out = &MarkRead{}
	case TypeAddReaction:
		out = &AddReaction{}
	case TypeRemoveReaction:
		out = &RemoveReaction{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, h.Type)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	return out, nil
}
