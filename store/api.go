package store

import (
	"context"
	"errors"
	"time"

	"github.com/mqy/minichat/chatstore"
)

var ErrNotFound = errors.New("store: not found")

type TaskKind string

const (
	// TaskUpload is a recorded or picked attachment waiting to be uploaded.
	TaskUpload TaskKind = "upload"
	// TaskServer is a background task accepted by the backend and polled for completion.
	TaskServer TaskKind = "server"
)

// TaskRecord survives restarts so unfinished work can resume on the next open.
type TaskRecord struct {
	ID             string    `json:"id"`
	Kind           TaskKind  `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	BlobKey        string    `json:"blob_key,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	CreateTime     time.Time `json:"create_time"`
}

// IOfflineStore is the durable local fallback used when neither the channel nor
// the API is reachable. Keys are stable conversation ids.
type IOfflineStore interface {
	// SaveMessages replaces the cached log of conv.
	SaveMessages(ctx context.Context, conv string, msgs []*chatstore.Message) error

	// LoadMessages returns the cached log of conv, ordered by (create time, id).
	LoadMessages(ctx context.Context, conv string) ([]*chatstore.Message, error)

	PutMessage(ctx context.Context, m *chatstore.Message) error

	DeleteMessage(ctx context.Context, conv, id string) (bool, error)

	// Pending returns messages of conv written while offline, in creation order.
	Pending(ctx context.Context, conv string) ([]*chatstore.Message, error)

	// PendingConversations lists conversations holding at least one pending message.
	PendingConversations(ctx context.Context) ([]string, error)

	// MarkConfirmed replaces the pending entry localID with its server counterpart.
	MarkConfirmed(ctx context.Context, conv, localID string, server *chatstore.Message) error

	// SaveDraft stores the unsent input of conv; an empty text deletes it.
	SaveDraft(ctx context.Context, conv, text string) error
	LoadDraft(ctx context.Context, conv string) (string, error)

	PutBlob(ctx context.Context, key string, data []byte) error
	Blob(ctx context.Context, key string) ([]byte, error)
	DeleteBlob(ctx context.Context, key string) error

	PutTask(ctx context.Context, t *TaskRecord) error
	Tasks(ctx context.Context) ([]*TaskRecord, error)
	DeleteTask(ctx context.Context, id string) error

	SetFlag(ctx context.Context, key string, v bool) error
	Flag(ctx context.Context, key string) (bool, error)

	// ClearConversation drops the cached log and the draft of conv.
	ClearConversation(ctx context.Context, conv string) error

	// DeleteOutdated deletes confirmed messages created before the last ttlDays days.
	// Pending messages are never deleted.
	DeleteOutdated(ctx context.Context, ttlDays int32) (int32, error)

	Close() error
}
