package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"

	"github.com/mqy/minichat/audio"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/frame"
	"github.com/mqy/minichat/store"
)

const (
	pathChannel = "channel"
	pathAPI     = "api"
	pathOffline = "offline"
	pathFailed  = "failed"
)

// attachment is the payload of a file or audio message that still has to be uploaded.
type attachment struct {
	name string
	data []byte
}

// SendText inserts text as pending and delivers it. A nil error means the
// message was either delivered or queued offline; see the message state.
func (s *Session) SendText(ctx context.Context, text string) (*chatstore.Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	pending := s.store.InsertPending(&chatstore.Message{
		ConversationID: s.conv,
		Kind:           chatstore.KindText,
		Content:        text,
	})
	s.clearDraft(ctx)
	return s.send(ctx, pending, nil)
}

// SendFile uploads data and sends it as a file message captioned with its name and size.
func (s *Session) SendFile(ctx context.Context, name string, data []byte) (*chatstore.Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	size := int64(len(data))
	if s.conf.MaxAttachment > 0 && size > s.conf.MaxAttachment {
		return nil, fmt.Errorf("%w: %s is %s, the limit is %s", ErrTooLarge, name,
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(s.conf.MaxAttachment)))
	}
	pending := s.store.InsertPending(&chatstore.Message{
		ConversationID: s.conv,
		Kind:           chatstore.KindFile,
		Content:        fmt.Sprintf("Shared a file: %s (%s)", name, humanize.Bytes(uint64(size))),
		File:           &chatstore.FileDescriptor{Name: name, Size: size},
	})
	return s.send(ctx, pending, &attachment{name: name, data: data})
}

// onClip sends a clip committed by the audio engine. The clip's resource stays
// playable locally and is owned by the new message.
func (s *Session) onClip(clip *audio.Clip) {
	res := s.engine.Resources()
	data, _, ok := res.Data(clip.Handle)
	if !ok {
		s.notify("Voice note is no longer available", ErrAttachmentGone)
		return
	}
	pending := s.store.InsertPending(&chatstore.Message{
		ConversationID: s.conv,
		Kind:           chatstore.KindAudio,
		Audio:          &chatstore.AudioDescriptor{
			URL:       string(clip.Handle),
			Duration:  clip.Duration,
			Channels:  clip.Channels,
			Bandwidth: clip.Bandwidth,
		},
	})
	res.Assign(clip.Handle, pending.ID)

	ctx, cancel := s.requestContext(s.ctx)
	defer cancel()
	name := fmt.Sprintf("voice-%d.opus", pending.CreatedAt.Unix())
	if _, err := s.send(ctx, pending, &attachment{name: name, data: data}); err != nil {
		glog.Errorf("session: send voice note: %v", err)
	}
}

// send runs the delivery protocol for a message already inserted as pending:
// channel when connected, then the API, then the offline queue. Only when all
// of them fail is the message marked failed.
func (s *Session) send(ctx context.Context, pending *chatstore.Message, att *attachment) (*chatstore.Message, error) {
	wire := pending.Clone()
	uploaded := att == nil
	var err error
	if att != nil {
		err = s.upload(ctx, wire, att)
		uploaded = err == nil
	}
	if uploaded {
		var confirmed *chatstore.Message
		var path string
		confirmed, path, err = s.transmit(ctx, wire)
		if err == nil {
			sends.WithLabelValues(path).Inc()
			s.confirm(pending.ID, confirmed)
			return s.current(pending), nil
		}
	}
	glog.Warningf("session: deliver %s: %v, queueing offline", pending.ID, err)

	if qerr := s.queueOffline(ctx, wire, att, uploaded); qerr != nil {
		glog.Errorf("session: queue %s offline: %v", pending.ID, qerr)
		s.store.MarkFailed(pending.ID)
		sends.WithLabelValues(pathFailed).Inc()
		failure := &SendFailure{MessageID: pending.ID, Err: err}
		s.notify("Message could not be sent", failure)
		return s.current(pending), failure
	}
	sends.WithLabelValues(pathOffline).Inc()
	s.notify("You are offline, the message will be sent later", nil)
	if s.conf.Channel.Connected() {
		// no reconnect is coming to trigger a replay
		s.outbox.Notify()
	}
	return s.current(pending), nil
}

func (s *Session) current(m *chatstore.Message) *chatstore.Message {
	if cur, ok := s.store.Get(m.ID); ok {
		return cur
	}
	return m
}

// upload stores the attachment through the API and points m at the uploaded file.
func (s *Session) upload(ctx context.Context, m *chatstore.Message, att *attachment) error {
	if s.conf.API == nil {
		return ErrNoAPI
	}
	up, err := s.conf.API.UploadFile(ctx, att.name, bytes.NewReader(att.data))
	if err != nil {
		return err
	}
	switch m.Kind {
	case chatstore.KindAudio:
		if m.Audio == nil {
			m.Audio = &chatstore.AudioDescriptor{}
		}
		m.Audio.URL = up.URL
	default:
		m.File = &chatstore.FileDescriptor{Name: up.Name, Size: up.Size, URL: up.URL}
	}
	return nil
}

// transmit writes m to the channel, or posts it to the API when the channel is
// unusable. The confirmed form is returned when the API supplies one.
func (s *Session) transmit(ctx context.Context, m *chatstore.Message) (*chatstore.Message, string, error) {
	var errs []error
	if s.conf.Channel.Connected() {
		err := s.conf.Channel.Send(ctx, frame.NewSendMessage(m))
		if err == nil {
			return nil, pathChannel, nil
		}
		glog.Warningf("session: channel send %s: %v", m.ID, err)
		errs = append(errs, err)
	}
	if s.conf.API != nil {
		confirmed, err := s.conf.API.PostMessage(ctx, m)
		if err == nil {
			return confirmed, pathAPI, nil
		}
		glog.Warningf("session: api post %s: %v", m.ID, err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, "", ErrUnavailable
	}
	return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, errs)
}

// confirm applies an acknowledgment to the log. When the local entry was folded
// into another one, its audio resources follow.
func (s *Session) confirm(localID string, confirmed *chatstore.Message) {
	if err := s.store.Confirm(localID, confirmed); err != nil {
		glog.V(5).Infof("session: confirm %s: %v", localID, err)
		return
	}
	if cur, ok := s.store.Get(localID); ok && cur.ID != localID {
		s.engine.Resources().Reassign(localID, cur.ID)
	}
}

// queueOffline persists m as pending. An attachment that could not be uploaded
// is kept as a blob plus an upload task, keyed by the client id.
func (s *Session) queueOffline(ctx context.Context, m *chatstore.Message, att *attachment, uploaded bool) error {
	off := m.Clone()
	off.State = chatstore.StatePending
	if off.Audio != nil && audio.Handle(off.Audio.URL).IsBlob() {
		off.Audio.URL = ""
	}
	if att != nil && !uploaded {
		if err := s.conf.Offline.PutBlob(ctx, off.ClientID, att.data); err != nil {
			return err
		}
		task := &store.TaskRecord{
			ID:             off.ClientID,
			Kind:           store.TaskUpload,
			ConversationID: off.ConversationID,
			MessageID:      off.ID,
			BlobKey:        off.ClientID,
			FileName:       att.name,
			CreateTime:     s.now(),
		}
		if err := s.conf.Offline.PutTask(ctx, task); err != nil {
			return err
		}
	}
	return s.conf.Offline.PutMessage(ctx, off)
}

func needsUpload(m *chatstore.Message) bool {
	switch m.Kind {
	case chatstore.KindFile:
		return m.File == nil || m.File.URL == ""
	case chatstore.KindAudio:
		return m.Audio == nil || m.Audio.URL == "" || audio.Handle(m.Audio.URL).IsBlob()
	}
	return false
}

// Resend delivers a message queued while offline. Pending uploads go first.
// A message whose attachment is gone is given up as failed rather than blocking
// the rest of the queue.
func (s *Session) Resend(ctx context.Context, m *chatstore.Message) (*chatstore.Message, error) {
	wire := m.Clone()
	if needsUpload(wire) {
		data, err := s.conf.Offline.Blob(ctx, wire.ClientID)
		if errors.Is(err, store.ErrNotFound) {
			glog.Errorf("session: attachment of %s is gone, giving up", m.ID)
			s.store.MarkFailed(m.ID)
			s.dropTask(ctx, wire.ClientID)
			failed := m.Clone()
			failed.State = chatstore.StateFailed
			return failed, nil
		}
		if err != nil {
			return nil, err
		}
		name := "attachment"
		if wire.File != nil && wire.File.Name != "" {
			name = wire.File.Name
		} else if wire.Kind == chatstore.KindAudio {
			name = fmt.Sprintf("voice-%d.opus", wire.CreatedAt.Unix())
		}
		if err := s.upload(ctx, wire, &attachment{name: name, data: data}); err != nil {
			return nil, err
		}
	}

	confirmed, path, err := s.transmit(ctx, wire)
	if err != nil {
		return nil, err
	}
	sends.WithLabelValues(path).Inc()
	s.dropTask(ctx, wire.ClientID)
	s.confirm(m.ID, confirmed)
	if confirmed == nil {
		confirmed = wire.Clone()
		confirmed.State = chatstore.StateSent
	}
	return confirmed, nil
}

func (s *Session) dropTask(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.conf.Offline.DeleteBlob(ctx, key); err != nil {
		glog.V(5).Infof("session: delete blob %s: %v", key, err)
	}
	if err := s.conf.Offline.DeleteTask(ctx, key); err != nil {
		glog.V(5).Infof("session: delete task %s: %v", key, err)
	}
}

// Retry re-sends a failed message as a fresh pending one.
func (s *Session) Retry(ctx context.Context, id string) (*chatstore.Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	old, ok := s.store.Get(id)
	if !ok {
		return nil, chatstore.ErrNotFound
	}
	var att *attachment
	if needsUpload(old) {
		data, err := s.attachmentData(ctx, old)
		if err != nil {
			return nil, err
		}
		att = &attachment{data: data, name: "attachment"}
		if old.File != nil && old.File.Name != "" {
			att.name = old.File.Name
		} else if old.Kind == chatstore.KindAudio {
			att.name = fmt.Sprintf("voice-%d.opus", s.now().Unix())
		}
	}

	fresh, err := s.store.Retry(old.ID)
	if err != nil {
		return nil, err
	}
	s.engine.Resources().Reassign(old.ID, fresh.ID)
	if old.ClientID != "" && att != nil {
		s.dropTask(ctx, old.ClientID)
	}
	return s.send(ctx, fresh, att)
}

func (s *Session) attachmentData(ctx context.Context, m *chatstore.Message) ([]byte, error) {
	if m.Audio != nil && audio.Handle(m.Audio.URL).IsBlob() {
		if data, _, ok := s.engine.Resources().Data(audio.Handle(m.Audio.URL)); ok {
			return data, nil
		}
	}
	data, err := s.conf.Offline.Blob(ctx, m.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAttachmentGone
	}
	return data, err
}
