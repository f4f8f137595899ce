package audio

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
	ErrNoDevice         = errors.New("audio: no capture device")
	ErrBusy             = errors.New("audio: capture already in progress")
	ErrCanceled         = errors.New("audio: capture canceled")
	ErrNotRecording     = errors.New("audio: not recording")
	ErrNoClip           = errors.New("audio: no clip to send")
	ErrClosed           = errors.New("audio: engine closed")
)

type CaptureState int

const (
	Idle CaptureState = iota
	Recording
	Previewing
)

func (s CaptureState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Previewing:
		return "previewing"
	}
	return "unknown"
}

// RawClip is what a platform capture hands back on stop.
// Packets holds the individual Opus packets when the platform exposes them.
type RawClip struct {
	Data     []byte
	Packets  [][]byte
	MimeType string
}

// Recorder acquires the platform microphone. Open blocks until permission is
// granted or denied.
type Recorder interface {
	Open(ctx context.Context) (Capture, error)
}

type Capture interface {
	Stop() (*RawClip, error)
	// Cancel releases the device and drops whatever was captured.
	Cancel()
}

// Player turns a playable url (remote, or a blob: handle) into a playback handle.
type Player interface {
	Load(url string) (Playback, error)
}

type Playback interface {
	Play() error
	Pause()
	Close()
	// Ended is closed when playback reaches the end of the clip.
	Ended() <-chan struct{}
}

// ClipInfo describes a decoded recording. Channels and Bandwidth stay zero
// when the codec parameters could not be decoded.
type ClipInfo struct {
	Duration  time.Duration
	Channels  int
	Bandwidth string
}

type ClipDecoder interface {
	Decode(raw *RawClip) (ClipInfo, error)
}

// Clip is a finalized recording waiting to be previewed, sent or discarded.
type Clip struct {
	Handle    Handle
	Duration  time.Duration
	Channels  int
	Bandwidth string
	MimeType  string
	Size      int
}

// NextFunc returns the audio message following key in the rendered log, if any.
type NextFunc func(key string) (next string, url string, ok bool)
