// Package coordinator keeps the local media store in step with the featured
// set published by the API and reacts to connectivity changes.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmcdole/reelcache/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSyncInterval  = 5 * time.Minute
	DefaultFeaturedLimit = 3
	DefaultConcurrency   = 3
)

// Options tunes the coordinator.
type Options struct {
	FeaturedLimit int
	// Concurrency bounds parallel CacheVideo calls during a sync.
	Concurrency int
	// SyncInterval is the cadence of the periodic sync while online.
	SyncInterval time.Duration
}

// Coordinator reconciles the store with the featured set.
type Coordinator struct {
	api      domain.FeaturedSource
	store    domain.MediaStore
	observer domain.SyncObserver
	opts     Options
	logger   *slog.Logger

	syncMu sync.Mutex

	mu      sync.Mutex
	baseCtx context.Context
	online  bool
	tickers []*Ticker
	wg      sync.WaitGroup
	closed  bool
}

// New creates a coordinator. The periodic store sync is registered as its
// first ticker; more can be added with Watch.
func New(api domain.FeaturedSource, store domain.MediaStore, observer domain.SyncObserver, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = domain.NoOpObserver{}
	}
	if opts.FeaturedLimit <= 0 {
		opts.FeaturedLimit = DefaultFeaturedLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}

	c := &Coordinator{
		api:      api,
		store:    store,
		observer: observer,
		opts:     opts,
		logger:   logger.With("component", "coordinator"),
		baseCtx:  context.Background(),
	}
	c.tickers = []*Ticker{
		NewTicker("store-sync", opts.SyncInterval, func(ctx context.Context) {
			c.SyncFeaturedVideos(ctx)
		}, c.logger),
	}
	return c
}

// SyncFeaturedVideos fetches the featured set, downloads the entries not
// already stored and then removes cached videos that are no longer featured. When the fetch fails
// nothing is removed.
func (c *Coordinator) SyncFeaturedVideos(ctx context.Context) domain.SyncResult {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.observer.OnProgress(domain.SyncProgress{Stage: domain.SyncStageStarted})

	videos, err := c.api.FeaturedVideos(ctx, c.opts.FeaturedLimit)
	if err != nil {
		c.logger.Warn("featured fetch failed, keeping cached videos", "error", err)
		c.observer.OnProgress(domain.SyncProgress{Stage: domain.SyncStageFinished, Done: true, Error: err})
		return domain.SyncResult{Err: err}
	}

	result := domain.SyncResult{Fetched: len(videos)}
	var cached, skipped, failed atomic.Int32
	total := len(videos)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, v := range videos {
		g.Go(func() error {
			switch {
			case c.store.IsVideoCached(gctx, v.ID):
				skipped.Add(1)
			case c.store.CacheVideo(gctx, v):
				cached.Add(1)
			default:
				failed.Add(1)
				c.logger.Warn("failed to cache featured video", "id", v.ID)
			}
			c.observer.OnProgress(domain.SyncProgress{
				Stage:   domain.SyncStageCaching,
				Total:   total,
				Cached:  int(cached.Load()),
				Skipped: int(skipped.Load()),
				Failed:  int(failed.Load()),
			})
			return nil
		})
	}
	g.Wait()
	result.Cached = int(cached.Load())
	result.Skipped = int(skipped.Load())
	result.Failed = int(failed.Load())

	c.observer.OnProgress(domain.SyncProgress{
		Stage:   domain.SyncStageCleanup,
		Total:   total,
		Cached:  result.Cached,
		Skipped: result.Skipped,
		Failed:  result.Failed,
	})
	result.Removed = c.cleanup(ctx, videos)

	c.logger.Info("featured sync finished",
		"fetched", result.Fetched,
		"cached", result.Cached,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"removed", len(result.Removed))
	c.observer.OnProgress(domain.SyncProgress{
		Stage:   domain.SyncStageFinished,
		Total:   total,
		Cached:  result.Cached,
		Skipped: result.Skipped,
		Failed:  result.Failed,
		Done:    true,
		Videos:  videos,
	})
	return result
}

// cleanup removes every cached id absent from the featured set.
func (c *Coordinator) cleanup(ctx context.Context, featured []domain.VideoDescriptor) []string {
	keep := make(map[string]bool, len(featured))
	for _, v := range featured {
		keep[v.ID] = true
	}

	removed := []string{}
	for _, id := range c.store.CachedIDs(ctx) {
		if keep[id] {
			continue
		}
		if c.store.RemoveCachedVideo(ctx, id) {
			removed = append(removed, id)
			c.logger.Debug("evicted video no longer featured", "id", id)
		}
	}
	return removed
}

// Watch registers another ticker that follows connectivity flips.
func (c *Coordinator) Watch(t *Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers = append(c.tickers, t)
	if c.online && !c.closed {
		t.Restart(c.baseCtx)
	}
}

// Start sets the context periodic work runs under and applies the initial
// connectivity. A coordinator starts out offline.
func (c *Coordinator) Start(ctx context.Context, online bool) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()
	c.SetOnline(online)
}

// Online reports the last connectivity state passed to SetOnline.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline handles a connectivity change. Going online triggers an
// immediate sync and restarts every ticker; going offline stops them and
// leaves the store untouched. Repeating the current state is a no-op.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.online == online {
		return
	}
	c.online = online

	for _, t := range c.tickers {
		t.Stop()
	}
	if !online {
		c.logger.Info("offline, periodic sync paused")
		return
	}

	c.logger.Info("online, syncing featured videos")
	for _, t := range c.tickers {
		t.Restart(c.baseCtx)
	}
	ctx := c.baseCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.SyncFeaturedVideos(ctx)
	}()
}

// Close stops every ticker and waits for an in-flight triggered sync.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, t := range c.tickers {
		t.Stop()
	}
	c.mu.Unlock()
	c.wg.Wait()
}
