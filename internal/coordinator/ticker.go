package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Ticker runs fn on a fixed interval until stopped. It is restarted on
// every connectivity flip so each consumer keeps its own cadence.
type Ticker struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTicker creates a stopped ticker.
func NewTicker(name string, interval time.Duration, fn func(context.Context), logger *slog.Logger) *Ticker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
	}
}

func (t *Ticker) Name() string { return t.name }

// Running reports whether the loop is active.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Restart stops any running loop and starts a new one under ctx. The first
// run happens one interval from now.
func (t *Ticker) Restart(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go t.loop(loopCtx, done)
	t.logger.Debug("ticker started", "ticker", t.name, "interval", t.interval)
}

// Stop cancels the loop and waits for an in-flight run to return.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Ticker) stopLocked() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
	t.logger.Debug("ticker stopped", "ticker", t.name)
}

func (t *Ticker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.run(ctx)
		}
	}
}

func (t *Ticker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("ticker run panicked", "ticker", t.name, "panic", r)
		}
	}()
	t.fn(ctx)
}
