package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCapture struct {
	raw      *RawClip
	err      error
	release  chan struct{}
	canceled int32
}

func (c *fakeCapture) Stop() (*RawClip, error) {
	if c.release != nil {
		<-c.release
	}
	return c.raw, c.err
}

func (c *fakeCapture) Cancel() {
	atomic.AddInt32(&c.canceled, 1)
}

type fakeRecorder struct {
	capture *fakeCapture
	err     error
	gate    chan struct{}
}

func (r *fakeRecorder) Open(ctx context.Context) (Capture, error) {
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.capture, nil
}

type fakePlayback struct {
	sync.Mutex
	url     string
	playing bool
	closed  bool
	ended   chan struct{}
}

func (p *fakePlayback) Play() error {
	p.Lock()
	p.playing = true
	p.Unlock()
	return nil
}

func (p *fakePlayback) Pause() {
	p.Lock()
	p.playing = false
	p.Unlock()
}

func (p *fakePlayback) Close() {
	p.Lock()
	p.closed = true
	p.Unlock()
}

func (p *fakePlayback) Ended() <-chan struct{} { return p.ended }

func (p *fakePlayback) isPlaying() bool {
	p.Lock()
	defer p.Unlock()
	return p.playing && !p.closed
}

type fakePlayer struct {
	sync.Mutex
	loaded []*fakePlayback
}

func (f *fakePlayer) Load(url string) (Playback, error) {
	pb := &fakePlayback{url: url, ended: make(chan struct{})}
	f.Lock()
	f.loaded = append(f.loaded, pb)
	f.Unlock()
	return pb, nil
}

func (f *fakePlayer) get(i int) *fakePlayback {
	f.Lock()
	defer f.Unlock()
	return f.loaded[i]
}

func (f *fakePlayer) count() int {
	f.Lock()
	defer f.Unlock()
	return len(f.loaded)
}

func (f *fakePlayer) nowPlaying() int {
	f.Lock()
	defer f.Unlock()
	n := 0
	for _, pb := range f.loaded {
		if pb.isPlaying() {
			n++
		}
	}
	return n
}

// 60ms CELT fullband packets, three 20ms frames each
func celtPackets(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{0xfb, 0x03, 0x00, 0x00}
	}
	return out
}

type sendRecorder struct {
	sync.Mutex
	clips  []*Clip
	states []CaptureState
}

func (s *sendRecorder) onSend(c *Clip) {
	s.Lock()
	s.clips = append(s.clips, c)
	s.Unlock()
}

func (s *sendRecorder) onState(st CaptureState) {
	s.Lock()
	s.states = append(s.states, st)
	s.Unlock()
}

func (s *sendRecorder) sent() []*Clip {
	s.Lock()
	defer s.Unlock()
	return append([]*Clip(nil), s.clips...)
}

func newEngine(rec Recorder, player Player, sr *sendRecorder) *Engine {
	return NewEngine(Config{
		Recorder: rec,
		Player:   player,
		OnSend:   sr.onSend,
		OnState:  sr.onState,
	})
}

func TestRecordPreviewSend(t *testing.T) {
	capture := &fakeCapture{raw: &RawClip{Data: make([]byte, 4096), Packets: celtPackets(200), MimeType: "audio/ogg"}}
	player := &fakePlayer{}
	sr := &sendRecorder{}
	e := newEngine(&fakeRecorder{capture: capture}, player, sr)
	defer e.Close()

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, Recording, e.State())
	assert.Equal(t, ErrBusy, e.Start(context.Background()))

	clip, err := e.Stop()
	require.NoError(t, err)
	assert.Equal(t, Previewing, e.State())
	assert.Equal(t, 12*time.Second, clip.Duration)
	assert.True(t, clip.Handle.IsBlob())

	require.NoError(t, e.PlayPreview())
	assert.Equal(t, PreviewKey, e.Playing())

	require.NoError(t, e.Send())
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, "", e.Playing())
	assert.Equal(t, 0, player.nowPlaying())

	sent := sr.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, clip, sent[0])
	// the sent clip's resource is handed over, not revoked
	_, _, ok := e.Resources().Data(clip.Handle)
	assert.True(t, ok)

	assert.Equal(t, ErrNoClip, e.Send())
	assert.Equal(t, []CaptureState{Recording, Previewing, Idle}, sr.states)
}

func TestSendWhileRecordingIsQueuedOnce(t *testing.T) {
	capture := &fakeCapture{
		raw:     &RawClip{Data: []byte{1}, Packets: celtPackets(10)},
		release: make(chan struct{}),
	}
	sr := &sendRecorder{}
	e := newEngine(&fakeRecorder{capture: capture}, &fakePlayer{}, sr)
	defer e.Close()
	require.NoError(t, e.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- e.Send() }()

	// the first send is stopping the capture; further requests are absorbed
	assert.Eventually(t, func() bool {
		e.Lock()
		defer e.Unlock()
		return e.stopping
	}, time.Second, time.Millisecond)
	assert.NoError(t, e.Send())
	assert.NoError(t, e.Send())
	assert.Empty(t, sr.sent())

	close(capture.release)
	require.NoError(t, <-done)
	require.Len(t, sr.sent(), 1)
	assert.Equal(t, 600*time.Millisecond, sr.sent()[0].Duration)
	assert.Equal(t, Idle, e.State())
}

func TestPermissionDenied(t *testing.T) {
	var reported error
	e := NewEngine(Config{
		Recorder: &fakeRecorder{err: ErrPermissionDenied},
		Player:   &fakePlayer{},
		OnError:  func(err error) { reported = err },
	})
	defer e.Close()

	err := e.Start(context.Background())
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.Equal(t, ErrPermissionDenied, reported)
	assert.Equal(t, Idle, e.State())
	_, err = e.Stop()
	assert.Equal(t, ErrNotRecording, err)
}

func TestDiscardDuringPermissionPrompt(t *testing.T) {
	capture := &fakeCapture{raw: &RawClip{}}
	rec := &fakeRecorder{capture: capture, gate: make(chan struct{})}
	e := newEngine(rec, &fakePlayer{}, &sendRecorder{})
	defer e.Close()

	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background()) }()
	assert.Eventually(t, func() bool {
		e.Lock()
		defer e.Unlock()
		return e.starting
	}, time.Second, time.Millisecond)

	e.Discard()
	close(rec.gate)
	assert.Equal(t, ErrCanceled, <-done)
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&capture.canceled))
}

func TestDiscardRevokesClip(t *testing.T) {
	capture := &fakeCapture{raw: &RawClip{Data: []byte{1, 2}, Packets: celtPackets(1)}}
	sr := &sendRecorder{}
	e := newEngine(&fakeRecorder{capture: capture}, &fakePlayer{}, sr)
	defer e.Close()

	require.NoError(t, e.Start(context.Background()))
	clip, err := e.Stop()
	require.NoError(t, err)
	require.NoError(t, e.PlayPreview())

	e.Discard()
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, "", e.Playing())
	_, _, ok := e.Resources().Data(clip.Handle)
	assert.False(t, ok)
	assert.Empty(t, sr.sent())
}

func TestDiscardWhileRecordingCancelsCapture(t *testing.T) {
	capture := &fakeCapture{raw: &RawClip{}}
	e := newEngine(&fakeRecorder{capture: capture}, &fakePlayer{}, &sendRecorder{})
	defer e.Close()

	require.NoError(t, e.Start(context.Background()))
	e.Discard()
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&capture.canceled))
}

func TestDecodeFailureFallsBackToElapsed(t *testing.T) {
	capture := &fakeCapture{raw: &RawClip{Data: []byte{1}}}
	e := newEngine(&fakeRecorder{capture: capture}, &fakePlayer{}, &sendRecorder{})
	defer e.Close()

	require.NoError(t, e.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	clip, err := e.Stop()
	require.NoError(t, err)
	assert.True(t, clip.Duration >= 20*time.Millisecond)
	assert.Zero(t, clip.Channels)
}

type fixedDecoder ClipInfo

func (d fixedDecoder) Decode(*RawClip) (ClipInfo, error) { return ClipInfo(d), nil }

func TestClipCarriesCodecParams(t *testing.T) {
	capture := &fakeCapture{raw: &RawClip{Data: []byte{1}, Packets: celtPackets(1)}}
	e := NewEngine(Config{
		Recorder: &fakeRecorder{capture: capture},
		Player:   &fakePlayer{},
		Decoder:  fixedDecoder{Duration: time.Second, Channels: 2, Bandwidth: "fullband"},
	})
	defer e.Close()

	require.NoError(t, e.Start(context.Background()))
	clip, err := e.Stop()
	require.NoError(t, err)
	assert.Equal(t, time.Second, clip.Duration)
	assert.Equal(t, 2, clip.Channels)
	assert.Equal(t, "fullband", clip.Bandwidth)
}

func TestTicks(t *testing.T) {
	var ticks int32
	e := NewEngine(Config{
		Recorder: &fakeRecorder{capture: &fakeCapture{raw: &RawClip{}}},
		Player:   &fakePlayer{},
		Tick:     10 * time.Millisecond,
		OnTick:   func(time.Duration) { atomic.AddInt32(&ticks, 1) },
	})
	defer e.Close()

	require.NoError(t, e.Start(context.Background()))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 2 }, time.Second, 5*time.Millisecond)
	e.Discard()
	n := atomic.LoadInt32(&ticks)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&ticks))
}

func TestPlaybackExclusivity(t *testing.T) {
	player := &fakePlayer{}
	e := newEngine(&fakeRecorder{}, player, &sendRecorder{})
	defer e.Close()

	require.NoError(t, e.Play("m1", "https://files/a.ogg"))
	require.NoError(t, e.Play("m2", "https://files/b.ogg"))

	a, b := player.get(0), player.get(1)
	assert.False(t, a.isPlaying())
	assert.True(t, b.isPlaying())
	assert.Equal(t, 1, player.nowPlaying())
	assert.Equal(t, "m2", e.Playing())

	e.Pause()
	assert.Equal(t, 0, player.nowPlaying())
	assert.Equal(t, "", e.Playing())
}

func TestAutoAdvance(t *testing.T) {
	player := &fakePlayer{}
	order := map[string]string{"m1": "m2"}
	e := NewEngine(Config{
		Recorder: &fakeRecorder{},
		Player:   player,
		Next: func(key string) (string, string, bool) {
			next, ok := order[key]
			return next, "https://files/" + next, ok
		},
	})
	defer e.Close()

	require.NoError(t, e.Play("m1", "https://files/m1"))
	close(player.get(0).ended)
	assert.Eventually(t, func() bool { return e.Playing() == "m2" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "https://files/m2", player.get(1).url)

	// m2 is the last rendered audio message
	close(player.get(1).ended)
	assert.Eventually(t, func() bool { return e.Playing() == "" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, player.count())
}

func TestReleaseMessageAndClose(t *testing.T) {
	player := &fakePlayer{}
	e := newEngine(&fakeRecorder{}, player, &sendRecorder{})
	res := e.Resources()

	h1 := res.Create([]byte{1}, "audio/ogg")
	h2 := res.Create([]byte{2}, "audio/ogg")
	res.Assign(h1, "local-1")
	res.Assign(h2, "m9")
	assert.Equal(t, 1, res.Reassign("local-1", "m1"))

	require.NoError(t, e.Play("m1", string(h1)))
	e.ReleaseMessage("m1")
	assert.Equal(t, "", e.Playing())
	_, _, ok := res.Data(h1)
	assert.False(t, ok)
	assert.Equal(t, 1, res.Len())

	require.NoError(t, e.Play("m9", string(h2)))
	e.Close()
	e.Close()
	assert.Equal(t, 0, res.Len())
	assert.Equal(t, 0, player.nowPlaying())
	assert.Equal(t, ErrClosed, e.Play("m9", string(h2)))
	assert.Equal(t, ErrClosed, e.Start(context.Background()))
}
