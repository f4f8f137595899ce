package fallback_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/fallback"
	fallback_mock "github.com/mqy/minichat/fallback/mock"
)

func TestPollTaskStopsOnCancel(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	client := fallback_mock.NewMockClient(mockCtrl)
	client.EXPECT().TaskStatus(gomock.Any(), "t1").Return(fallback.TaskPending, nil).MinTimes(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := fallback.PollTask(ctx, client, "t1", 10*time.Millisecond)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestPollTaskStale(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	client := fallback_mock.NewMockClient(mockCtrl)
	gomock.InOrder(
		client.EXPECT().TaskStatus(gomock.Any(), "t1").Return(fallback.TaskRunning, nil),
		client.EXPECT().TaskStatus(gomock.Any(), "t1").Return("", fallback.ErrNotFound),
	)
	_, err := fallback.PollTask(context.Background(), client, "t1", time.Millisecond)
	assert.ErrorIs(t, err, fallback.ErrStaleTask)
}

func TestHistoryStopsAtMaxPages(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	page := func(id string, next string) *fallback.Page {
		return &fallback.Page{
			Messages: []*chatstore.Message{{ID: id, ConversationID: "c1", CreatedAt: time.Now()}},
			Next:     next,
		}
	}
	client := fallback_mock.NewMockClient(mockCtrl)
	client.EXPECT().ListMessages(gomock.Any(), "c1", 1, 10).Return(page("3", "p2"), nil)
	client.EXPECT().ListMessages(gomock.Any(), "c1", 2, 10).Return(page("2", "p3"), nil)

	msgs, err := fallback.History(context.Background(), client, "c1", 10, 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
