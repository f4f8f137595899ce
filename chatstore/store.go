package chatstore

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
)

const DefaultReconcileWindow = 30 * time.Second

var (
	ErrNotFound  = errors.New("chatstore: message not found")
	ErrNotFailed = errors.New("chatstore: message is not in failed state")
)

type InsertResult int

const (
	Inserted InsertResult = iota
	Duplicate
	Reconciled
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Reconciled:
		return "reconciled"
	}
	return "unknown"
}

type ChangeKind int

const (
	ChangeInsert ChangeKind = iota + 1
	ChangeReplace
	ChangeUpdate
	ChangeState
	ChangeReaction
	ChangeDelete
	ChangeClear
)

// Change describes one mutation of the log. OldID is set for ChangeReplace.
// Carried lists the reactions moved from a local entry onto its confirmed form;
// the server has not seen them yet.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	Message        *Message
	OldID          string
	Carried        []Reaction
}

// Store is the per-conversation message log. It is the single writer of the log:
// the transport, the fallback API and the offline cache all funnel through it.
type Store struct {
	sync.Mutex

	selfID string
	window time.Duration
	ids    *IDGen
	now    func() time.Time

	logs    map[string]map[string]*Message // conversation id -> message id -> message
	index   map[string]string              // message id -> conversation id
	aliases map[string]string              // reconciled local id -> confirmed id

	listeners []func(Change)
}

func NewStore(selfID string, reconcileWindow time.Duration) *Store {
	if reconcileWindow <= 0 {
		reconcileWindow = DefaultReconcileWindow
	}
	return &Store{
		selfID:  selfID,
		window:  reconcileWindow,
		ids:     NewIDGen(nil),
		now:     time.Now,
		logs:    make(map[string]map[string]*Message),
		index:   make(map[string]string),
		aliases: make(map[string]string),
	}
}

func (s *Store) SelfID() string {
	return s.selfID
}

// OnChange registers a listener. Listeners run after the store lock is released.
func (s *Store) OnChange(fn func(Change)) {
	s.Lock()
	s.listeners = append(s.listeners, fn)
	s.Unlock()
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.Lock()
	listeners := append([]func(Change){}, s.listeners...)
	s.Unlock()
	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

func (s *Store) logOf(conv string) map[string]*Message {
	l, ok := s.logs[conv]
	if !ok {
		l = make(map[string]*Message)
		s.logs[conv] = l
	}
	return l
}

func (s *Store) put(m *Message) {
	s.logOf(m.ConversationID)[m.ID] = m
	s.index[m.ID] = m.ConversationID
}

func (s *Store) remove(m *Message) {
	if l, ok := s.logs[m.ConversationID]; ok {
		delete(l, m.ID)
	}
	delete(s.index, m.ID)
}

// resolve follows reconcile aliases to the live entry.
func (s *Store) resolve(id string) *Message {
	for i := 0; i < 4; i++ {
		if conv, ok := s.index[id]; ok {
			return s.logs[conv][id]
		}
		next, ok := s.aliases[id]
		if !ok {
			return nil
		}
		id = next
	}
	return nil
}

// InsertPending assigns a local id and inserts m with state pending.
func (s *Store) InsertPending(m *Message) *Message {
	out := m.Clone()
	s.Lock()
	out.ID = s.ids.Next()
	if out.ClientID == "" {
		out.ClientID = uuid.New()
	}
	if out.SenderID == "" {
		out.SenderID = s.selfID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = s.now()
	}
	out.State = StatePending
	s.put(out)
	ret := out.Clone()
	s.Unlock()

	glog.V(5).Infof("chatstore: pending %s in %s", ret.ID, ret.ConversationID)
	s.notify([]Change{{Kind: ChangeInsert, ConversationID: ret.ConversationID, Message: ret.Clone()}})
	return ret
}

// Load bulk inserts history, keeping the given delivery states. Known ids are skipped.
func (s *Store) Load(msgs []*Message) int {
	var changes []Change
	s.Lock()
	for _, m := range msgs {
		if m == nil || m.ID == "" {
			continue
		}
		if _, ok := s.index[m.ID]; ok {
			continue
		}
		v := m.Clone()
		if v.State == "" {
			v.State = StateSent
		}
		s.put(v)
		changes = append(changes, Change{Kind: ChangeInsert, ConversationID: v.ConversationID, Message: v.Clone()})
	}
	s.Unlock()
	s.notify(changes)
	return len(changes)
}

// Insert applies a server confirmed message. The same id never appears twice: an
// existing id is a duplicate, and a local pending entry matching by client id or by
// (sender, content, time window) is replaced by the confirmed one.
func (s *Store) Insert(m *Message) InsertResult {
	if m == nil || m.ID == "" {
		return Duplicate
	}

	s.Lock()
	if cur := s.resolve(m.ID); cur != nil {
		var changes []Change
		if cur.State.CanAdvance(StateSent) {
			cur.State = StateSent
			changes = append(changes, Change{Kind: ChangeState, ConversationID: cur.ConversationID, Message: cur.Clone()})
		}
		s.Unlock()
		s.notify(changes)
		return Duplicate
	}

	if local := s.findLocalMatch(m); local != nil {
		c := s.replace(local, m)
		s.Unlock()
		glog.V(5).Infof("chatstore: reconciled %s -> %s", c.OldID, c.Message.ID)
		s.notify([]Change{c})
		return Reconciled
	}

	v := m.Clone()
	if v.State == "" || v.State == StatePending {
		v.State = StateSent
	}
	s.put(v)
	ret := v.Clone()
	s.Unlock()
	s.notify([]Change{{Kind: ChangeInsert, ConversationID: ret.ConversationID, Message: ret}})
	return Inserted
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (s *Store) findLocalMatch(m *Message) *Message {
	l := s.logs[m.ConversationID]
	if len(l) == 0 {
		return nil
	}
	if m.ClientID != "" {
		for _, v := range l {
			if v.IsLocal() && v.ClientID == m.ClientID {
				return v
			}
		}
	}

	var best *Message
	var bestDelta time.Duration
	for _, v := range l {
		if !v.IsLocal() || v.State == StateFailed {
			continue
		}
		if v.ClientID != "" && m.ClientID != "" && v.ClientID != m.ClientID {
			continue
		}
		if v.SenderID != m.SenderID || v.Kind != m.Kind || v.Content != m.Content {
			continue
		}
		delta := absDur(m.CreatedAt.Sub(v.CreatedAt))
		if delta > s.window {
			continue
		}
		if best == nil || delta < bestDelta || (delta == bestDelta && v.ID < best.ID) {
			best, bestDelta = v, delta
		}
	}
	return best
}

// replace swaps a local entry for its confirmed form. Caller holds the lock.
func (s *Store) replace(local, confirmed *Message) Change {
	v := confirmed.Clone()
	v.ConversationID = local.ConversationID
	if v.ClientID == "" {
		v.ClientID = local.ClientID
	}
	// the server has the message: a send given up as failed is sent after all
	v.State = local.State
	if v.State == StateFailed || v.State.CanAdvance(StateSent) {
		v.State = StateSent
	}
	if v.Audio == nil && local.Audio != nil {
		a := *local.Audio
		v.Audio = &a
	} else if v.Audio != nil && local.Audio != nil && v.Audio.Channels == 0 {
		v.Audio.Channels, v.Audio.Bandwidth = local.Audio.Channels, local.Audio.Bandwidth
	}
	carried := carryReactions(local, v)
	s.remove(local)
	s.put(v)
	s.aliases[local.ID] = v.ID
	return Change{Kind: ChangeReplace, ConversationID: v.ConversationID, Message: v.Clone(), OldID: local.ID, Carried: carried}
}

// carryReactions moves the reactions of local onto confirmed and returns the moved ones.
func carryReactions(local, confirmed *Message) []Reaction {
	var carried []Reaction
	for _, r := range local.Reactions {
		r.MessageID = confirmed.ID
		if !hasReaction(confirmed.Reactions, r) {
			confirmed.Reactions = append(confirmed.Reactions, r)
			carried = append(carried, r)
		}
	}
	return carried
}

// Confirm records an acknowledgment for a locally sent message. `server` is the
// confirmed form returned by the request/response path and may be nil.
func (s *Store) Confirm(localID string, server *Message) error {
	if server == nil || server.ID == "" {
		if !s.MarkSent(localID) {
			s.Lock()
			found := s.resolve(localID) != nil
			s.Unlock()
			if !found {
				return ErrNotFound
			}
		}
		return nil
	}

	s.Lock()
	local := s.resolve(localID)
	if local == nil {
		s.Unlock()
		return ErrNotFound
	}

	var changes []Change
	if existing := s.resolve(server.ID); existing != nil && existing != local {
		// The echo won the race: drop the local twin.
		if local.IsLocal() {
			s.remove(local)
			s.aliases[local.ID] = existing.ID
			changes = append(changes, Change{Kind: ChangeDelete, ConversationID: local.ConversationID, Message: local.Clone()})
			if carried := carryReactions(local, existing); len(carried) > 0 {
				changes = append(changes, Change{Kind: ChangeReaction, ConversationID: existing.ConversationID,
					Message: existing.Clone(), OldID: local.ID, Carried: carried})
			}
		}
		if existing.State.CanAdvance(StateSent) {
			existing.State = StateSent
			changes = append(changes, Change{Kind: ChangeState, ConversationID: existing.ConversationID, Message: existing.Clone()})
		}
	} else if local.IsLocal() {
		changes = append(changes, s.replace(local, server))
	} else if local.State.CanAdvance(StateSent) {
		local.State = StateSent
		changes = append(changes, Change{Kind: ChangeState, ConversationID: local.ConversationID, Message: local.Clone()})
	}
	s.Unlock()
	s.notify(changes)
	return nil
}

func (s *Store) advance(id string, to DeliveryState) bool {
	s.Lock()
	m := s.resolve(id)
	if m == nil || !m.State.CanAdvance(to) {
		s.Unlock()
		return false
	}
	m.State = to
	c := Change{Kind: ChangeState, ConversationID: m.ConversationID, Message: m.Clone()}
	s.Unlock()
	s.notify([]Change{c})
	return true
}

func (s *Store) MarkSent(id string) bool {
	return s.advance(id, StateSent)
}

func (s *Store) MarkFailed(id string) bool {
	return s.advance(id, StateFailed)
}

// MarkDelivered moves every sent message of the local user in conv to delivered.
func (s *Store) MarkDelivered(conv string) int {
	var changes []Change
	s.Lock()
	for _, m := range s.logs[conv] {
		if m.SenderID == s.selfID && m.State == StateSent {
			m.State = StateDelivered
			changes = append(changes, Change{Kind: ChangeState, ConversationID: conv, Message: m.Clone()})
		}
	}
	s.Unlock()
	s.notify(changes)
	return len(changes)
}

// Update applies an edit in place. Re-applying the same edit is a no-op.
func (s *Store) Update(m *Message) bool {
	s.Lock()
	cur := s.resolve(m.ID)
	if cur == nil {
		s.Unlock()
		return false
	}
	sameEdit := (cur.EditedAt == nil && m.EditedAt == nil) ||
		(cur.EditedAt != nil && m.EditedAt != nil && cur.EditedAt.Equal(*m.EditedAt))
	if cur.Content == m.Content && sameEdit && (m.Kind == "" || m.Kind == cur.Kind) {
		s.Unlock()
		return false
	}
	cur.Content = m.Content
	if m.EditedAt != nil {
		t := *m.EditedAt
		cur.EditedAt = &t
	}
	if m.Kind != "" {
		cur.Kind = m.Kind
	}
	c := Change{Kind: ChangeUpdate, ConversationID: cur.ConversationID, Message: cur.Clone()}
	s.Unlock()
	s.notify([]Change{c})
	return true
}

// Delete removes a message; deleting an unknown id is a no-op.
func (s *Store) Delete(id string) (*Message, bool) {
	s.Lock()
	cur := s.resolve(id)
	if cur == nil {
		s.Unlock()
		return nil, false
	}
	s.remove(cur)
	out := cur.Clone()
	s.Unlock()
	s.notify([]Change{{Kind: ChangeDelete, ConversationID: out.ConversationID, Message: out.Clone()}})
	return out, true
}

func hasReaction(list []Reaction, r Reaction) bool {
	for _, v := range list {
		if v.sameTriple(r) {
			return true
		}
	}
	return false
}

// ApplyReaction applies an inbound reaction_added / reaction_removed.
// At most one reaction exists per (message, user, emoji).
func (s *Store) ApplyReaction(r Reaction, added bool) bool {
	s.Lock()
	m := s.resolve(r.MessageID)
	if m == nil {
		s.Unlock()
		return false
	}
	r.MessageID = m.ID

	changed := false
	if added {
		if !hasReaction(m.Reactions, r) {
			m.Reactions = append(m.Reactions, r)
			changed = true
		}
	} else {
		out := m.Reactions[:0]
		for _, v := range m.Reactions {
			if (r.ID != "" && v.ID == r.ID) || v.sameTriple(r) {
				changed = true
				continue
			}
			out = append(out, v)
		}
		m.Reactions = out
	}
	if !changed {
		s.Unlock()
		return false
	}
	c := Change{Kind: ChangeReaction, ConversationID: m.ConversationID, Message: m.Clone()}
	s.Unlock()
	s.notify([]Change{c})
	return true
}

// ToggleReaction adds the reaction, or removes it when it is already present.
// Returns true if the reaction is present afterwards.
func (s *Store) ToggleReaction(messageID, emoji, userID string) (bool, error) {
	r := Reaction{MessageID: messageID, Emoji: emoji, UserID: userID}
	s.Lock()
	m := s.resolve(messageID)
	if m == nil {
		s.Unlock()
		return false, ErrNotFound
	}
	r.MessageID = m.ID
	present := hasReaction(m.Reactions, r)
	s.Unlock()

	if present {
		s.ApplyReaction(r, false)
		return false, nil
	}
	r.CreatedAt = s.now()
	s.ApplyReaction(r, true)
	return true, nil
}

// Retry replaces a failed message with a fresh pending copy.
func (s *Store) Retry(id string) (*Message, error) {
	s.Lock()
	m := s.resolve(id)
	if m == nil {
		s.Unlock()
		return nil, ErrNotFound
	}
	if m.State != StateFailed {
		s.Unlock()
		return nil, ErrNotFailed
	}
	s.remove(m)
	old := m.Clone()
	s.Unlock()
	s.notify([]Change{{Kind: ChangeDelete, ConversationID: old.ConversationID, Message: old.Clone()}})

	fresh := old.Clone()
	fresh.ID = ""
	fresh.ClientID = ""
	fresh.CreatedAt = time.Time{}
	fresh.Reactions = nil
	return s.InsertPending(fresh), nil
}

func (s *Store) Get(id string) (*Message, bool) {
	s.Lock()
	defer s.Unlock()
	if m := s.resolve(id); m != nil {
		return m.Clone(), true
	}
	return nil, false
}

// SortMessages orders by creation time, ties broken by id.
func SortMessages(out []*Message) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

// Messages returns the log of conv ordered by creation time, ties broken by id.
func (s *Store) Messages(conv string) []*Message {
	s.Lock()
	out := make([]*Message, 0, len(s.logs[conv]))
	for _, m := range s.logs[conv] {
		out = append(out, m.Clone())
	}
	s.Unlock()
	SortMessages(out)
	return out
}

func (s *Store) Pending(conv string) []*Message {
	var out []*Message
	s.Lock()
	for _, m := range s.logs[conv] {
		if m.State == StatePending {
			out = append(out, m.Clone())
		}
	}
	s.Unlock()
	SortMessages(out)
	return out
}

// Clear drops the whole log of conv and returns what was removed.
func (s *Store) Clear(conv string) []*Message {
	s.Lock()
	var out []*Message
	for id, m := range s.logs[conv] {
		delete(s.index, id)
		out = append(out, m.Clone())
	}
	delete(s.logs, conv)
	s.Unlock()
	SortMessages(out)
	s.notify([]Change{{Kind: ChangeClear, ConversationID: conv}})
	return out
}
