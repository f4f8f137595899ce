package session

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/audio"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/frame"
)

// ToggleReaction adds the emoji of the local user to a message, or removes it
// when present. The log changes at once; a rejected change is rolled back.
// It returns whether the reaction is present afterwards.
func (s *Session) ToggleReaction(ctx context.Context, messageID, emoji string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	m, ok := s.store.Get(messageID)
	if !ok {
		return false, chatstore.ErrNotFound
	}
	added, err := s.store.ToggleReaction(m.ID, emoji, s.conf.SelfID)
	if err != nil {
		return false, err
	}
	if m.IsLocal() {
		// not known by the server yet, keep it local
		return added, nil
	}

	if err := s.publishReaction(ctx, m.ID, emoji, added); err != nil {
		s.store.ToggleReaction(m.ID, emoji, s.conf.SelfID)
		s.notify("Reaction could not be saved", err)
		return !added, err
	}
	return added, nil
}

// publishCarried sends the reactions the local user made on a message before
// the server confirmed it. A rejected one is rolled back.
func (s *Session) publishCarried(carried []chatstore.Reaction) {
	var own []chatstore.Reaction
	for _, r := range carried {
		if r.UserID == s.conf.SelfID {
			own = append(own, r)
		}
	}
	if len(own) == 0 {
		return
	}
	s.spawn(func() {
		for _, r := range own {
			ctx, cancel := s.requestContext(s.ctx)
			err := s.publishReaction(ctx, r.MessageID, r.Emoji, true)
			cancel()
			if err != nil {
				glog.Errorf("session: publish reaction %s on %s: %v", r.Emoji, r.MessageID, err)
				s.store.ApplyReaction(r, false)
				s.notify("Reaction could not be saved", err)
			}
		}
	})
}

func (s *Session) publishReaction(ctx context.Context, messageID, emoji string, added bool) error {
	if s.conf.Channel.Connected() {
		var f frame.Outbound = &frame.RemoveReaction{MessageID: messageID, Emoji: emoji}
		if added {
			f = &frame.AddReaction{MessageID: messageID, Emoji: emoji}
		}
		err := s.conf.Channel.Send(ctx, f)
		if err == nil {
			return nil
		}
		glog.Warningf("session: channel reaction on %s: %v", messageID, err)
	}
	if s.conf.API == nil {
		return ErrUnavailable
	}
	if added {
		_, err := s.conf.API.AddReaction(ctx, messageID, emoji)
		return err
	}
	return s.conf.API.RemoveReaction(ctx, messageID, emoji)
}

// MarkRead acknowledges the conversation as read. Sent messages of the local
// user move to delivered, as a read acknowledgment is the only delivery signal.
func (s *Session) MarkRead(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.markRead(ctx)
}

func (s *Session) markRead(ctx context.Context) error {
	s.store.MarkDelivered(s.conv)
	if !s.conf.Channel.Connected() {
		return nil
	}
	return s.conf.Channel.Send(ctx, &frame.MarkRead{ConversationID: s.conv})
}

// DeleteMessage removes a message from the local log and cache and releases its audio.
func (s *Session) DeleteMessage(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.removeMessage(ctx, id) {
		return chatstore.ErrNotFound
	}
	return nil
}

func (s *Session) removeMessage(ctx context.Context, id string) bool {
	m, ok := s.store.Delete(id)
	if !ok {
		return false
	}
	s.engine.ReleaseMessage(m.ID)
	if m.ID != id {
		s.engine.ReleaseMessage(id)
	}
	if _, err := s.conf.Offline.DeleteMessage(ctx, s.conv, m.ID); err != nil {
		glog.Errorf("session: delete cached %s: %v", m.ID, err)
	}
	if m.ClientID != "" {
		s.dropTask(ctx, m.ClientID)
	}
	return true
}

// ClearConversation drops the whole log, the offline cache and the draft.
func (s *Session) ClearConversation(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, m := range s.store.Clear(s.conv) {
		s.engine.ReleaseMessage(m.ID)
	}
	s.Lock()
	s.draft = ""
	s.Unlock()
	return s.conf.Offline.ClearConversation(ctx, s.conv)
}

// StartRecording asks for the microphone and starts a voice note.
func (s *Session) StartRecording(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.conf.Recorder == nil {
		return audio.ErrNoDevice
	}
	return s.engine.Start(ctx)
}

// StopRecording finalizes the voice note and enters preview.
func (s *Session) StopRecording() (*audio.Clip, error) {
	return s.engine.Stop()
}

// SendRecording sends the voice note under preview, or stops and sends the one
// being recorded.
func (s *Session) SendRecording() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.engine.Send()
}

func (s *Session) DiscardRecording() {
	s.engine.Discard()
}

func (s *Session) CaptureState() audio.CaptureState {
	return s.engine.State()
}

func (s *Session) Elapsed() time.Duration {
	return s.engine.Elapsed()
}

func (s *Session) PlayPreview() error {
	if s.conf.Player == nil {
		return audio.ErrNoDevice
	}
	return s.engine.PlayPreview()
}

// Play plays the voice note of a message, pausing whatever plays.
func (s *Session) Play(messageID string) error {
	if s.conf.Player == nil {
		return audio.ErrNoDevice
	}
	m, ok := s.store.Get(messageID)
	if !ok {
		return chatstore.ErrNotFound
	}
	if m.Audio == nil || m.Audio.URL == "" {
		return ErrNotAudio
	}
	return s.engine.Play(m.ID, m.Audio.URL)
}

func (s *Session) Pause() {
	s.engine.Pause()
}

// Playing returns the id of the message playing, or "".
func (s *Session) Playing() string {
	return s.engine.Playing()
}

// nextAudio finds the voice note following key in the log as it is loaded now.
func (s *Session) nextAudio(key string) (string, string, bool) {
	msgs := s.store.Messages(s.conv)
	for i, m := range msgs {
		if m.ID != key {
			continue
		}
		for _, n := range msgs[i+1:] {
			if n.Kind == chatstore.KindAudio && n.Audio != nil && n.Audio.URL != "" {
				return n.ID, n.Audio.URL, true
			}
		}
		return "", "", false
	}
	return "", "", false
}
