package audio

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// PreviewKey is the playback key used for the clip under preview.
const PreviewKey = "preview"

type Config struct {
	Recorder  Recorder
	Player    Player
	Decoder   ClipDecoder
	Resources *Resources
	// Tick is the interval of elapsed-time reports while recording.
	Tick time.Duration

	// Callbacks run without engine locks held.
	OnTick  func(elapsed time.Duration)
	OnState func(CaptureState)
	OnSend  func(*Clip)
	OnError func(error)
	Next    NextFunc
}

type active struct {
	key  string
	pb   Playback
	stop chan struct{}
}

// Engine owns the capture state machine and the single active playback.
type Engine struct {
	sync.Mutex

	conf Config

	state       CaptureState
	gen         uint64
	starting    bool
	stopping    bool
	pendingSend bool
	capture     Capture
	startedAt   time.Time
	tickStop    chan struct{}
	clip        *Clip

	playing *active
	closed  bool
}

func NewEngine(conf Config) *Engine {
	if conf.Tick <= 0 {
		conf.Tick = time.Second
	}
	if conf.Resources == nil {
		conf.Resources = NewResources()
	}
	if conf.Decoder == nil {
		conf.Decoder = NewOpusDecoder()
	}
	return &Engine{conf: conf}
}

func (e *Engine) Resources() *Resources {
	return e.conf.Resources
}

func (e *Engine) State() CaptureState {
	e.Lock()
	defer e.Unlock()
	return e.state
}

// Start asks the platform for the microphone and enters Recording.
// On denial the engine stays Idle and the error is returned and reported.
func (e *Engine) Start(ctx context.Context) error {
	e.Lock()
	if e.closed {
		e.Unlock()
		return ErrClosed
	}
	if e.state != Idle || e.starting {
		e.Unlock()
		return ErrBusy
	}
	e.starting = true
	e.gen++
	gen := e.gen
	e.Unlock()

	capture, err := e.conf.Recorder.Open(ctx)

	e.Lock()
	e.starting = false
	if gen != e.gen || e.closed {
		e.Unlock()
		if capture != nil {
			capture.Cancel()
		}
		return ErrCanceled
	}
	if err != nil {
		e.Unlock()
		glog.Warningf("audio: open recorder: %v", err)
		e.reportError(err)
		return err
	}
	e.state = Recording
	e.capture = capture
	e.startedAt = time.Now()
	e.tickStop = make(chan struct{})
	go e.tickLoop(e.startedAt, e.tickStop)
	e.Unlock()

	e.stateChanged(Recording)
	return nil
}

func (e *Engine) tickLoop(started time.Time, stop chan struct{}) {
	ticker := time.NewTicker(e.conf.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if e.conf.OnTick != nil {
				e.conf.OnTick(now.Sub(started).Truncate(time.Second))
			}
		}
	}
}

func (e *Engine) stopTicker() {
	if e.tickStop != nil {
		close(e.tickStop)
		e.tickStop = nil
	}
}

// Elapsed returns how long the current recording has been running.
func (e *Engine) Elapsed() time.Duration {
	e.Lock()
	defer e.Unlock()
	if e.state != Recording {
		return 0
	}
	return time.Since(e.startedAt)
}

// Stop finalizes the recording, decodes its duration and enters Previewing.
// A send queued while recording is completed here.
func (e *Engine) Stop() (*Clip, error) {
	e.Lock()
	if e.state != Recording || e.stopping {
		e.Unlock()
		return nil, ErrNotRecording
	}
	e.stopping = true
	gen := e.gen
	capture := e.capture
	elapsed := time.Since(e.startedAt)
	e.stopTicker()
	e.Unlock()

	raw, err := capture.Stop()
	var clip *Clip
	if err == nil {
		clip = e.finalize(raw, elapsed)
	}

	e.Lock()
	e.stopping = false
	if gen != e.gen || e.closed {
		e.Unlock()
		if clip != nil {
			e.conf.Resources.Revoke(clip.Handle)
		}
		return nil, ErrCanceled
	}
	e.capture = nil
	if err != nil {
		e.state = Idle
		e.pendingSend = false
		e.Unlock()
		glog.Errorf("audio: stop capture: %v", err)
		e.stateChanged(Idle)
		e.reportError(err)
		return nil, err
	}
	e.clip = clip
	e.state = Previewing
	send := e.pendingSend
	e.pendingSend = false
	e.Unlock()

	e.stateChanged(Previewing)
	if send {
		if err := e.Send(); err != nil {
			return clip, err
		}
	}
	return clip, nil
}

func (e *Engine) finalize(raw *RawClip, elapsed time.Duration) *Clip {
	info, err := e.conf.Decoder.Decode(raw)
	if err != nil {
		glog.Warningf("audio: decode clip: %v, using elapsed %v", err, elapsed)
		info = ClipInfo{Duration: elapsed}
	}
	h := e.conf.Resources.Create(raw.Data, raw.MimeType)
	return &Clip{
		Handle:    h,
		Duration:  info.Duration,
		Channels:  info.Channels,
		Bandwidth: info.Bandwidth,
		MimeType:  raw.MimeType,
		Size:      len(raw.Data),
	}
}

// Send commits the previewed clip. While still recording it queues the send,
// stops the capture and completes once the clip is finalized. Repeated sends
// while queued are ignored.
func (e *Engine) Send() error {
	e.Lock()
	switch e.state {
	case Recording:
		if e.pendingSend {
			e.Unlock()
			return nil
		}
		e.pendingSend = true
		stopping := e.stopping
		e.Unlock()
		if stopping {
			return nil
		}
		_, err := e.Stop()
		return err
	case Previewing:
		clip := e.clip
		e.clip = nil
		e.state = Idle
		e.releasePlaying(PreviewKey)
		e.Unlock()

		e.stateChanged(Idle)
		if e.conf.OnSend != nil {
			e.conf.OnSend(clip)
		}
		return nil
	}
	e.Unlock()
	return ErrNoClip
}

// Discard drops the current recording or previewed clip and returns to Idle.
// A pending Start is canceled as well.
func (e *Engine) Discard() {
	e.Lock()
	e.gen++
	prev := e.state
	e.discardLocked()
	e.Unlock()

	if prev != Idle {
		e.stateChanged(Idle)
	}
}

func (e *Engine) discardLocked() {
	e.stopTicker()
	if e.capture != nil {
		e.capture.Cancel()
		e.capture = nil
	}
	if e.clip != nil {
		e.releasePlaying(PreviewKey)
		e.conf.Resources.Revoke(e.clip.Handle)
		e.clip = nil
	}
	e.pendingSend = false
	e.stopping = false
	e.state = Idle
}

// Play starts playback of url under key, pausing whatever was playing.
func (e *Engine) Play(key, url string) error {
	e.Lock()
	defer e.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.releaseLocked()

	pb, err := e.conf.Player.Load(url)
	if err != nil {
		return err
	}
	if err := pb.Play(); err != nil {
		pb.Close()
		return err
	}
	a := &active{key: key, pb: pb, stop: make(chan struct{})}
	e.playing = a
	go e.watch(a)
	glog.V(5).Infof("audio: playing %s", key)
	return nil
}

// PlayPreview plays the clip under preview.
func (e *Engine) PlayPreview() error {
	e.Lock()
	clip := e.clip
	e.Unlock()
	if clip == nil {
		return ErrNoClip
	}
	return e.Play(PreviewKey, string(clip.Handle))
}

func (e *Engine) watch(a *active) {
	select {
	case <-a.stop:
		return
	case <-a.pb.Ended():
	}

	e.Lock()
	if e.playing != a {
		e.Unlock()
		return
	}
	e.playing = nil
	close(a.stop)
	a.pb.Close()
	next := e.conf.Next
	closed := e.closed
	e.Unlock()

	if next == nil || closed || a.key == PreviewKey {
		return
	}
	if key, url, ok := next(a.key); ok {
		if err := e.Play(key, url); err != nil {
			glog.Warningf("audio: auto-advance to %s: %v", key, err)
		}
	}
}

func (e *Engine) releaseLocked() {
	if e.playing == nil {
		return
	}
	a := e.playing
	e.playing = nil
	close(a.stop)
	a.pb.Pause()
	a.pb.Close()
}

func (e *Engine) releasePlaying(key string) {
	if e.playing != nil && e.playing.key == key {
		e.releaseLocked()
	}
}

// Pause pauses and releases the active playback.
func (e *Engine) Pause() {
	e.Lock()
	e.releaseLocked()
	e.Unlock()
}

// Playing returns the key of the active playback, or "".
func (e *Engine) Playing() string {
	e.Lock()
	defer e.Unlock()
	if e.playing == nil {
		return ""
	}
	return e.playing.key
}

// ReleaseMessage stops playback of key and revokes every resource it owns.
func (e *Engine) ReleaseMessage(key string) {
	e.Lock()
	e.releasePlaying(key)
	e.Unlock()
	e.conf.Resources.ReleaseOwner(key)
}

// Close stops capture and playback and revokes every resource. Later calls are no-ops.
func (e *Engine) Close() {
	e.Lock()
	if e.closed {
		e.Unlock()
		return
	}
	e.closed = true
	e.gen++
	prev := e.state
	e.discardLocked()
	e.releaseLocked()
	e.Unlock()

	n := e.conf.Resources.RevokeAll()
	glog.V(5).Infof("audio: closed, revoked %d resources", n)
	if prev != Idle {
		e.stateChanged(Idle)
	}
}

func (e *Engine) stateChanged(s CaptureState) {
	if e.conf.OnState != nil {
		e.conf.OnState(s)
	}
}

func (e *Engine) reportError(err error) {
	if e.conf.OnError != nil {
		e.conf.OnError(err)
	}
}
