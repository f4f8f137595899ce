package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/chatstore"
	outbox_mock "github.com/mqy/minichat/outbox/mock"
	store_mock "github.com/mqy/minichat/store/mock"
)

func pending(id string, at time.Time) *chatstore.Message {
	return &chatstore.Message{
		ID: id, ConversationID: "c1", SenderID: "u1", Kind: chatstore.KindText,
		Content: "offline " + id, CreatedAt: at, State: chatstore.StatePending,
	}
}

func TestFlushInOrderStopsAtFirstFailure(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	storeMock := store_mock.NewMockIOfflineStore(mockCtrl)
	resender := outbox_mock.NewMockResender(mockCtrl)
	o := New(Config{Store: storeMock, Resender: resender, Rate: 1000})

	t0 := time.Unix(1700000000, 0)
	m1, m2, m3 := pending("local-1", t0), pending("local-2", t0.Add(time.Second)), pending("local-3", t0.Add(2*time.Second))
	server := &chatstore.Message{ID: "101", ConversationID: "c1", State: chatstore.StateSent}

	storeMock.EXPECT().Pending(gomock.Any(), "c1").Return([]*chatstore.Message{m1, m2, m3}, nil)
	gomock.InOrder(
		resender.EXPECT().Resend(gomock.Any(), m1).Return(server, nil),
		storeMock.EXPECT().MarkConfirmed(gomock.Any(), "c1", "local-1", server).Return(nil),
		resender.EXPECT().Resend(gomock.Any(), m2).Return(nil, errors.New("api down")),
	)

	n, err := o.Flush(context.Background(), "c1")
	assert.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestFlushEchoConfirmation(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	storeMock := store_mock.NewMockIOfflineStore(mockCtrl)
	resender := outbox_mock.NewMockResender(mockCtrl)
	o := New(Config{Store: storeMock, Resender: resender, Rate: 1000})

	m1 := pending("local-1", time.Now())
	storeMock.EXPECT().Pending(gomock.Any(), "c1").Return([]*chatstore.Message{m1}, nil)
	resender.EXPECT().Resend(gomock.Any(), m1).Return(nil, nil)
	storeMock.EXPECT().MarkConfirmed(gomock.Any(), "c1", "local-1", gomock.Any()).
		DoAndReturn(func(ctx context.Context, conv, localID string, m *chatstore.Message) error {
			assert.Equal(t, chatstore.StateSent, m.State)
			assert.Equal(t, "local-1", m.ID)
			return nil
		})

	n, err := o.Flush(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	// the pending copy handed to the resender is untouched
	assert.Equal(t, chatstore.StatePending, m1.State)
}

func TestFlushSkipsUnconfirmedAfterResend(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	storeMock := store_mock.NewMockIOfflineStore(mockCtrl)
	resender := outbox_mock.NewMockResender(mockCtrl)
	o := New(Config{Store: storeMock, Resender: resender, Rate: 1000})

	now := time.Now()
	m1, m2 := pending("local-1", now), pending("local-2", now.Add(time.Second))
	storeMock.EXPECT().Pending(gomock.Any(), "c1").Return([]*chatstore.Message{m1, m2}, nil)
	gomock.InOrder(
		resender.EXPECT().Resend(gomock.Any(), m1).Return(nil, nil).Times(1),
		storeMock.EXPECT().MarkConfirmed(gomock.Any(), "c1", "local-1", gomock.Any()).Return(errors.New("disk full")),
		resender.EXPECT().Resend(gomock.Any(), m2).Return(nil, nil).Times(1),
		storeMock.EXPECT().MarkConfirmed(gomock.Any(), "c1", "local-2", gomock.Any()).Return(nil),
	)

	n, err := o.Flush(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConcurrentFlushIsRejected(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	storeMock := store_mock.NewMockIOfflineStore(mockCtrl)
	resender := outbox_mock.NewMockResender(mockCtrl)
	o := New(Config{Store: storeMock, Resender: resender, Rate: 1000})

	m1 := pending("local-1", time.Now())
	entered := make(chan struct{})
	release := make(chan struct{})
	storeMock.EXPECT().Pending(gomock.Any(), "c1").Return([]*chatstore.Message{m1}, nil).Times(1)
	resender.EXPECT().Resend(gomock.Any(), m1).DoAndReturn(func(context.Context, *chatstore.Message) (*chatstore.Message, error) {
		close(entered)
		<-release
		return nil, nil
	}).Times(1)
	storeMock.EXPECT().MarkConfirmed(gomock.Any(), "c1", "local-1", gomock.Any()).Return(nil).Times(1)

	done := make(chan error, 1)
	go func() {
		_, err := o.Flush(context.Background(), "c1")
		done <- err
	}()
	<-entered

	n, err := o.Flush(context.Background(), "c1")
	assert.Equal(t, ErrFlushing, err)
	assert.Equal(t, 0, n)

	close(release)
	assert.NoError(t, <-done)
}

func TestRunFlushesOnNotify(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	storeMock := store_mock.NewMockIOfflineStore(mockCtrl)
	resender := outbox_mock.NewMockResender(mockCtrl)
	o := New(Config{
		Store: storeMock, Resender: resender, Rate: 1000,
		TTLDays: 30, PruneInterval: 10 * time.Millisecond,
	})

	m1 := pending("local-1", time.Now())
	flushed := make(chan struct{})
	storeMock.EXPECT().PendingConversations(gomock.Any()).Return([]string{"c1"}, nil)
	storeMock.EXPECT().Pending(gomock.Any(), "c1").Return([]*chatstore.Message{m1}, nil)
	resender.EXPECT().Resend(gomock.Any(), m1).Return(nil, nil)
	storeMock.EXPECT().MarkConfirmed(gomock.Any(), "c1", "local-1", gomock.Any()).
		DoAndReturn(func(context.Context, string, string, *chatstore.Message) error {
			close(flushed)
			return nil
		})
	storeMock.EXPECT().DeleteOutdated(gomock.Any(), int32(30)).Return(int32(0), nil).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(stopped)
	}()

	o.Notify()
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("notify did not flush")
	}
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestBackoff(t *testing.T) {
	var d time.Duration
	backoff(&d)
	assert.Equal(t, BackoffMinInterval, d)
	backoff(&d)
	assert.Equal(t, 1500*time.Millisecond, d)
	for i := 0; i < 20; i++ {
		backoff(&d)
	}
	assert.Equal(t, BackoffMaxInterval, d)
}
