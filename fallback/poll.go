package fallback

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/chatstore"
)

// PollTask polls task id until it completes or fails. A task the backend no
// longer knows yields ErrStaleTask; polling stops and the caller should drop it.
func PollTask(ctx context.Context, c Client, id string, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		status, err := c.TaskStatus(ctx, id)
		if errors.Is(err, ErrNotFound) {
			glog.Warningf("fallback: task %s is gone", id)
			return "", ErrStaleTask
		}
		if err != nil {
			return "", err
		}
		switch status {
		case TaskCompleted, TaskFailed:
			return status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

// History fetches up to maxPages pages of conv and returns the messages oldest first.
func History(ctx context.Context, c Client, conv string, pageSize, maxPages int) ([]*chatstore.Message, error) {
	var out []*chatstore.Message
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		p, err := c.ListMessages(ctx, conv, page, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Messages...)
		if !p.HasNext() {
			break
		}
	}
	chatstore.SortMessages(out)
	return out, nil
}
