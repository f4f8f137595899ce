package session

import (
	"context"
	"errors"

	"github.com/golang/glog"

	"github.com/mqy/minichat/fallback"
	"github.com/mqy/minichat/store"
)

// resumeTasks picks up the background work recorded before the last close.
// Uploads are replayed with their messages by the outbox; an upload whose
// message is no longer queued is dropped. Server tasks are polled again.
func (s *Session) resumeTasks(ctx context.Context) {
	tasks, err := s.conf.Offline.Tasks(ctx)
	if err != nil {
		glog.Errorf("session: load tasks: %v", err)
		return
	}
	queued := make(map[string]bool)
	if pending, err := s.conf.Offline.Pending(ctx, s.conv); err == nil {
		for _, m := range pending {
			queued[m.ID] = true
		}
	}

	for _, t := range tasks {
		if t.ConversationID != s.conv {
			continue
		}
		switch t.Kind {
		case store.TaskUpload:
			if !queued[t.MessageID] {
				glog.Infof("session: drop orphan upload %s of %s", t.ID, t.MessageID)
				s.dropTask(ctx, t.ID)
			}
		case store.TaskServer:
			s.pollTask(t)
		}
	}
}

// TrackTask records a background task accepted by the backend and polls it until
// it finishes. The record survives a restart.
func (s *Session) TrackTask(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.conf.API == nil {
		return ErrNoAPI
	}
	t := &store.TaskRecord{
		ID:             id,
		Kind:           store.TaskServer,
		ConversationID: s.conv,
		CreateTime:     s.now(),
	}
	if err := s.conf.Offline.PutTask(ctx, t); err != nil {
		return err
	}
	s.pollTask(t)
	return nil
}

func (s *Session) pollTask(t *store.TaskRecord) {
	if s.conf.API == nil {
		return
	}
	s.spawn(func() {
		status, err := fallback.PollTask(s.ctx, s.conf.API, t.ID, s.conf.TaskPollInterval)
		switch {
		case errors.Is(err, fallback.ErrStaleTask):
			glog.Warningf("session: task %s is no longer known, dropping it", t.ID)
			s.notify("A background task expired", err)
		case err != nil:
			// canceled with the session, keep the record for the next open
			glog.V(5).Infof("session: poll task %s: %v", t.ID, err)
			return
		case status == fallback.TaskFailed:
			s.notify("A background task failed", nil)
		default:
			glog.Infof("session: task %s %s", t.ID, status)
		}
		ctx, cancel := s.requestContext(context.Background())
		defer cancel()
		if err := s.conf.Offline.DeleteTask(ctx, t.ID); err != nil {
			glog.Errorf("session: delete task %s: %v", t.ID, err)
		}
	})
}
