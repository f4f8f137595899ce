package typing

import (
	"sync"
	"time"

	"github.com/mqy/minichat/frame"
)

type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// Presence is a coarse online/offline signal plus the conversation the user is in.
// For users other than the local one it only mirrors inbound broadcasts.
type Presence struct {
	UserID              string    `json:"user_id"`
	Status              Status    `json:"status"`
	CurrentConversation string    `json:"current_conversation,omitempty"`
	UpdatedAt           time.Time `json:"-"`
}

type presenceTable struct {
	mu    sync.Mutex
	clock Clock
	users map[string]Presence
	self  string
}

func newPresenceTable(clock Clock) *presenceTable {
	return &presenceTable{clock: clock, users: make(map[string]Presence)}
}

// ApplyStatus applies an inbound user_status_change.
func (t *presenceTable) ApplyStatus(u *frame.UserStatusChange) {
	if u.UserID == "" {
		return
	}
	st := Status(u.Status)
	if st != Online {
		st = Offline
	}
	t.mu.Lock()
	t.users[string(u.UserID)] = Presence{
		UserID:              string(u.UserID),
		Status:              st,
		CurrentConversation: string(u.CurrentConversation),
		UpdatedAt:           t.clock.Now(),
	}
	t.mu.Unlock()
}

// SetSelf records the local user's presence and returns it for publishing.
func (t *presenceTable) SetSelf(uid string, st Status, conv string) Presence {
	p := Presence{UserID: uid, Status: st, CurrentConversation: conv, UpdatedAt: t.clock.Now()}
	t.mu.Lock()
	t.self = uid
	t.users[uid] = p
	t.mu.Unlock()
	return p
}

func (t *presenceTable) Presence(uid string) (Presence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.users[uid]
	return p, ok
}
