package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/store"
)

const (
	DefaultRate          = 5 // replays per second
	DefaultPruneInterval = time.Hour

	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

var ErrFlushing = errors.New("outbox: flush already running")

// Resender delivers one message that was written while offline. It returns the
// server confirmed form when known, nil when confirmation arrives later as an echo.
type Resender interface {
	Resend(ctx context.Context, m *chatstore.Message) (*chatstore.Message, error)
}

type Config struct {
	Store    store.IOfflineStore
	Resender Resender
	// Rate bounds replays per second so a long offline backlog does not flood the backend.
	Rate float64
	// TTLDays > 0 enables pruning of confirmed history older than TTLDays.
	TTLDays       int32
	PruneInterval time.Duration
}

// Outbox replays offline pending messages once the backend is reachable again.
// It also periodically prunes the offline history cache.
type Outbox struct {
	sync.Mutex
	conf     Config
	limiter  *rate.Limiter
	flushing map[string]bool
	notifyC  chan struct{}
	wg       sync.WaitGroup
}

func New(conf Config) *Outbox {
	if conf.Rate <= 0 {
		conf.Rate = DefaultRate
	}
	if conf.PruneInterval <= 0 {
		conf.PruneInterval = DefaultPruneInterval
	}
	return &Outbox{
		conf:     conf,
		limiter:  rate.NewLimiter(rate.Limit(conf.Rate), 1),
		flushing: make(map[string]bool),
		notifyC:  make(chan struct{}, 1),
	}
}

// Notify asks the run loop to flush every conversation with pending messages.
// It never blocks; notifications coalesce.
func (o *Outbox) Notify() {
	select {
	case o.notifyC <- struct{}{}:
	default:
	}
}

// Flush replays the pending messages of conv in creation order, each exactly
// once, stopping at the first failure. Concurrent flushes of the same
// conversation return ErrFlushing.
func (o *Outbox) Flush(ctx context.Context, conv string) (int, error) {
	o.Lock()
	if o.flushing[conv] {
		o.Unlock()
		return 0, ErrFlushing
	}
	o.flushing[conv] = true
	o.Unlock()

	defer func() {
		o.Lock()
		delete(o.flushing, conv)
		o.Unlock()
	}()

	pending, err := o.conf.Store.Pending(ctx, conv)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range pending {
		if err := o.limiter.Wait(ctx); err != nil {
			return n, err
		}
		confirmed, err := o.conf.Resender.Resend(ctx, m)
		if err != nil {
			replayFailures.Inc()
			glog.Errorf("outbox: resend %s in %s: %v", m.ID, conv, err)
			return n, err
		}
		if confirmed == nil {
			confirmed = m.Clone()
			confirmed.State = chatstore.StateSent
		}
		replayed.Inc()
		n++
		if err := o.conf.Store.MarkConfirmed(ctx, conv, m.ID, confirmed); err != nil {
			// the server has it; retrying the flush would send it twice
			confirmFailures.Inc()
			glog.Errorf("outbox: mark confirmed %s in %s: %v, skipped", m.ID, conv, err)
		}
	}
	if n > 0 {
		glog.Infof("outbox: replayed %d messages in %s", n, conv)
	}
	return n, nil
}

// FlushAll flushes every conversation holding pending messages.
func (o *Outbox) FlushAll(ctx context.Context) (int, error) {
	convs, err := o.conf.Store.PendingConversations(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, conv := range convs {
		n, err := o.Flush(ctx, conv)
		total += n
		if err != nil && err != ErrFlushing {
			return total, err
		}
	}
	return total, nil
}

// Run owns the notify and prune loops until ctx is done.
func (o *Outbox) Run(ctx context.Context) {
	glog.Info("outbox: enter")

	o.wg.Add(1)
	go o.notifyLoop(ctx)
	if o.conf.TTLDays > 0 {
		o.wg.Add(1)
		go o.pruneLoop(ctx)
	}

	<-ctx.Done()

	glog.Info("outbox: stop wait")
	o.wg.Wait()
	glog.Info("outbox: stopped")
}

func (o *Outbox) notifyLoop(ctx context.Context) {
	glog.Info("outbox: notify loop enter")
	defer func() {
		glog.Info("outbox: notify loop exit")
		o.wg.Done()
	}()

	var sleep time.Duration
	var retry <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.notifyC:
		case <-retry:
		}
		retry = nil

		if _, err := o.FlushAll(ctx); err != nil {
			if err == context.Canceled {
				glog.V(5).Info("outbox: flush was cancelled")
				return
			}
			backoff(&sleep)
			glog.Warningf("outbox: flush failed, retry in %s: %v", sleep, err)
			retry = time.After(sleep)
			continue
		}
		sleep = 0
	}
}

// pruneLoop deletes outdated offline history.
func (o *Outbox) pruneLoop(ctx context.Context) {
	glog.Info("outbox: prune loop enter")

	ticker := time.NewTicker(o.conf.PruneInterval)
	defer func() {
		ticker.Stop()
		glog.Info("outbox: prune loop exit")
		o.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			n, err := o.conf.Store.DeleteOutdated(ctx, o.conf.TTLDays)
			if err == nil {
				pruned.Add(float64(n))
				glog.Infof("outbox: deleted %d outdated messages, took %s", n, time.Since(start))
			} else {
				glog.Errorf("outbox: delete outdated messages error: %v", err)
			}
		}
	}
}

func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
		return
	}
	*d = time.Duration(float64(*d) * BackoffMultiplier)
	if *d > BackoffMaxInterval {
		*d = BackoffMaxInterval
	}
	*d = d.Truncate(time.Millisecond)
}
