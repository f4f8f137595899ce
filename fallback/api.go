package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/typing"
)

const APIPrefix = "/api/notifications/chat/"

var (
	ErrNotFound  = errors.New("fallback: not found")
	ErrStaleTask = errors.New("fallback: task no longer exists")
)

// APIError is a non-2xx response. A 404 matches ErrNotFound.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fallback: http %d: %s", e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == 404
}

// Page is one page of conversation history, oldest first.
type Page struct {
	Count    int
	Next     string
	Previous string
	Messages []*chatstore.Message
}

func (p *Page) HasNext() bool {
	return p.Next != ""
}

type Upload struct {
	URL  string
	Name string
	Size int64
}

// Task states reported by GET tasks/{id}/.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Client is the request/response fallback to the real-time channel.
type Client interface {
	ListConversations(ctx context.Context) ([]chatstore.Conversation, error)

	// ListMessages fetches page (1 based) of the history of conv.
	ListMessages(ctx context.Context, conv string, page, pageSize int) (*Page, error)

	// PostMessage sends m and returns the server confirmed form.
	PostMessage(ctx context.Context, m *chatstore.Message) (*chatstore.Message, error)

	UploadFile(ctx context.Context, name string, r io.Reader) (*Upload, error)

	AddReaction(ctx context.Context, messageID, emoji string) (*chatstore.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, emoji string) error

	UpdatePresence(ctx context.Context, p typing.Presence) error

	TaskStatus(ctx context.Context, id string) (string, error)
}
