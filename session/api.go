package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mqy/minichat/audio"
	"github.com/mqy/minichat/fallback"
	"github.com/mqy/minichat/frame"
	"github.com/mqy/minichat/store"
	"github.com/mqy/minichat/ws"
)

const (
	DefaultNoticeTTL        = 5 * time.Second
	DefaultRequestTimeout   = 10 * time.Second
	DefaultAutoReplyDelay   = 30 * time.Second
	DefaultTaskPollInterval = 2 * time.Second
	DefaultHistoryPages     = 4
	DefaultPageSize         = 50

	// MaxDraftWords bounds the persisted draft.
	MaxDraftWords = 100
)

var (
	ErrClosed         = errors.New("session: closed")
	ErrNotOpen        = errors.New("session: not open")
	ErrTooLarge       = errors.New("session: attachment too large")
	ErrUnavailable    = errors.New("session: neither channel nor api is available")
	ErrNoAPI          = errors.New("session: no api client configured")
	ErrNotAudio       = errors.New("session: message has no audio")
	ErrAttachmentGone = errors.New("session: attachment data is gone")
)

// SendFailure is a message that could neither be delivered nor queued offline.
// The message stays in the log as failed and can be retried.
type SendFailure struct {
	MessageID string
	Err       error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("session: send %s failed: %v", e.MessageID, e.Err)
}

func (e *SendFailure) Unwrap() error {
	return e.Err
}

// Channel is the real-time transport the session drives. *ws.Manager implements it.
type Channel interface {
	Open(ctx context.Context, conv string) error
	Send(ctx context.Context, f frame.Outbound) error
	Connected() bool
	Subscribe(fn func(ws.Event)) func()
	Close()
}

// Notice is a transient, auto dismissing message for the user.
type Notice struct {
	Text    string
	Err     error
	At      time.Time
	Expires time.Time
}

type Config struct {
	ConversationID string
	SelfID         string
	// PeerName is used by the auto reply text.
	PeerName string

	Channel Channel
	// API may be nil, in which case only the channel and the offline store are used.
	API     fallback.Client
	Offline store.IOfflineStore

	Recorder audio.Recorder
	Player   audio.Player
	Decoder  audio.ClipDecoder

	ReconcileWindow time.Duration
	TypingExpiry    time.Duration
	TypingRefresh   time.Duration
	HistoryPages    int
	PageSize        int
	MaxAttachment   int64
	NoticeTTL       time.Duration
	RequestTimeout  time.Duration
	TTLDays         int32

	AutoReply        bool
	AutoReplyDelay   time.Duration
	TaskPollInterval time.Duration

	// OnChange is called, without session locks held, whenever something the
	// view renders has changed.
	OnChange func()
}

func (c *Config) setDefaults() {
	if c.NoticeTTL <= 0 {
		c.NoticeTTL = DefaultNoticeTTL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.AutoReplyDelay <= 0 {
		c.AutoReplyDelay = DefaultAutoReplyDelay
	}
	if c.TaskPollInterval <= 0 {
		c.TaskPollInterval = DefaultTaskPollInterval
	}
	if c.HistoryPages == 0 {
		c.HistoryPages = DefaultHistoryPages
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PeerName == "" {
		c.PeerName = "your contact"
	}
}
