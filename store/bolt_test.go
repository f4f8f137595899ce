package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/chatstore"
)

func openStore(t *testing.T) *BoltStore {
	s, err := Open(filepath.Join(t.TempDir(), "minichat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(conv, id string, at time.Time, st chatstore.DeliveryState) *chatstore.Message {
	return &chatstore.Message{
		ID: id, ConversationID: conv, SenderID: "u1",
		Kind: chatstore.KindText, Content: "hi " + id, CreatedAt: at, State: st,
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	require.NoError(t, s.SaveMessages(ctx, "c1", []*chatstore.Message{
		msg("c1", "3", t0.Add(time.Second), chatstore.StateSent),
		msg("c1", "2", t0, chatstore.StateDelivered),
		msg("c1", "1", t0, chatstore.StateSent),
	}))
	require.NoError(t, s.PutMessage(ctx, msg("c1", "local-9", t0.Add(2*time.Second), chatstore.StatePending)))

	got, err := s.LoadMessages(ctx, "c1")
	require.NoError(t, err)
	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2", "3", "local-9"}, ids)
	assert.Equal(t, chatstore.StateDelivered, got[1].State)

	// save replaces the whole log
	require.NoError(t, s.SaveMessages(ctx, "c1", got[:1]))
	got, err = s.LoadMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.LoadMessages(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPendingAndConfirm(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	require.NoError(t, s.PutMessage(ctx, msg("c1", "local-2", t0.Add(time.Second), chatstore.StatePending)))
	require.NoError(t, s.PutMessage(ctx, msg("c1", "local-1", t0, chatstore.StatePending)))
	require.NoError(t, s.PutMessage(ctx, msg("c1", "7", t0, chatstore.StateSent)))
	require.NoError(t, s.PutMessage(ctx, msg("c2", "local-3", t0, chatstore.StateFailed)))

	pending, err := s.Pending(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "local-1", pending[0].ID)

	convs, err := s.PendingConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, convs)

	server := msg("c1", "100", t0, chatstore.StatePending)
	require.NoError(t, s.MarkConfirmed(ctx, "c1", "local-1", server))
	pending, err = s.Pending(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "local-2", pending[0].ID)

	all, err := s.LoadMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, m := range all {
		if m.ID == "100" {
			assert.Equal(t, chatstore.StateSent, m.State)
		}
	}

	found, err := s.DeleteMessage(ctx, "c1", "local-2")
	require.NoError(t, err)
	assert.True(t, found)
	found, err = s.DeleteMessage(ctx, "c1", "local-2")
	require.NoError(t, err)
	assert.False(t, found)

	convs, err = s.PendingConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestDraftsBlobsTasksFlags(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDraft(ctx, "c1", "half typed"))
	d, err := s.LoadDraft(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "half typed", d)
	require.NoError(t, s.SaveDraft(ctx, "c1", ""))
	d, err = s.LoadDraft(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "", d)

	require.NoError(t, s.PutBlob(ctx, "blob:1", []byte{1, 2, 3}))
	b, err := s.Blob(ctx, "blob:1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)
	require.NoError(t, s.DeleteBlob(ctx, "blob:1"))
	_, err = s.Blob(ctx, "blob:1")
	assert.Equal(t, ErrNotFound, err)

	require.NoError(t, s.PutTask(ctx, &TaskRecord{ID: "t1", Kind: TaskUpload, ConversationID: "c1", BlobKey: "blob:2"}))
	tasks, err := s.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskUpload, tasks[0].Kind)
	require.NoError(t, s.DeleteTask(ctx, "t1"))
	tasks, err = s.Tasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	on, err := s.Flag(ctx, "auto_reply:c1")
	require.NoError(t, err)
	assert.False(t, on)
	require.NoError(t, s.SetFlag(ctx, "auto_reply:c1", true))
	on, err = s.Flag(ctx, "auto_reply:c1")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestClearConversation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutMessage(ctx, msg("c1", "1", time.Now(), chatstore.StateSent)))
	require.NoError(t, s.PutMessage(ctx, msg("c2", "2", time.Now(), chatstore.StateSent)))
	require.NoError(t, s.SaveDraft(ctx, "c1", "x"))

	require.NoError(t, s.ClearConversation(ctx, "c1"))
	require.NoError(t, s.ClearConversation(ctx, "c1"))

	got, err := s.LoadMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, got)
	d, _ := s.LoadDraft(ctx, "c1")
	assert.Equal(t, "", d)
	got, err = s.LoadMessages(ctx, "c2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDeleteOutdated(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	old := time.Now().Add(-40 * 24 * time.Hour)

	require.NoError(t, s.PutMessage(ctx, msg("c1", "1", old, chatstore.StateSent)))
	require.NoError(t, s.PutMessage(ctx, msg("c1", "local-1", old, chatstore.StatePending)))
	require.NoError(t, s.PutMessage(ctx, msg("c1", "2", time.Now(), chatstore.StateSent)))
	require.NoError(t, s.PutMessage(ctx, msg("c2", "3", old, chatstore.StateDelivered)))

	n, err := s.DeleteOutdated(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int32(2), n)

	got, err := s.LoadMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "local-1", got[0].ID)
}

func TestCanceledContext(t *testing.T) {
	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, s.PutBlob(ctx, "k", []byte{1}))
}
