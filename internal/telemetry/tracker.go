// Package telemetry sends fire-and-forget view counts to the backend.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/reelcache/internal/domain"
	"golang.org/x/time/rate"
)

const (
	DefaultQueueSize = 64
	DefaultRate      = 2 // views per second
	DefaultTimeout   = 8 * time.Second
)

var ErrTrackerClosed = errors.New("tracker closed")

// Options tunes the tracker.
type Options struct {
	QueueSize int
	// Rate caps outgoing view requests per second.
	Rate    float64
	Burst   int
	Timeout time.Duration
}

// Tracker queues view events and delivers them in the background. Delivery
// errors are logged and never surface to the caller.
type Tracker struct {
	recorder domain.ViewRecorder
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger

	queue chan string

	mu      sync.Mutex
	pending int
	idle    chan struct{} // closed when pending drops to zero
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTracker creates a stopped tracker.
func NewTracker(recorder domain.ViewRecorder, opts Options, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Tracker{
		recorder: recorder,
		limiter:  rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		timeout:  opts.Timeout,
		logger:   logger.With("component", "telemetry"),
		queue:    make(chan string, opts.QueueSize),
	}
}

// Start launches the delivery loop. Calling it more than once is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.closed {
		return
	}
	t.started = true

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.run(ctx)
}

// RecordView queues a view for id. It never blocks; a full queue drops the event.
func (t *Tracker) RecordView(id string) error {
	if id == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackerClosed
	}

	select {
	case t.queue <- id:
		if t.pending == 0 {
			t.idle = make(chan struct{})
		}
		t.pending++
	default:
		t.logger.Warn("view queue full, dropping event", "id", id)
	}
	return nil
}

func (t *Tracker) settle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending--
	if t.pending == 0 {
		close(t.idle)
	}
}

// Flush waits until every queued view has been attempted or ctx is done.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.pending == 0 {
		t.mu.Unlock()
		return nil
	}
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting views and stops the delivery loop. Undelivered
// views are discarded; call Flush first to drain them.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for {
		select {
		case <-t.queue:
			t.settle()
		default:
			return
		}
	}
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-t.queue:
			t.deliver(ctx, id)
			t.settle()
		}
	}
}

func (t *Tracker) deliver(ctx context.Context, id string) {
	if err := t.limiter.Wait(ctx); err != nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.recorder.IncrementViews(reqCtx, id); err != nil {
		t.logger.Warn("failed to record view", "id", id, "error", err)
		return
	}
	t.logger.Debug("view recorded", "id", id)
}
