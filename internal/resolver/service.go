// Package resolver produces the current featured list by walking the
// fallback chain: static manifest, local store, network API, then the
// built-in defaults.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/search"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultManifestTTL   = 5 * time.Minute
	DefaultTierTimeout   = 10 * time.Second
	DefaultFeaturedLimit = 3

	manifestKey  = "manifest"
	probeWorkers = 4
)

// Options tunes the resolver.
type Options struct {
	ManifestTTL   time.Duration
	TierTimeout   time.Duration
	FeaturedLimit int
}

// Service resolves featured videos. Every public method returns a usable
// result; failures are logged and treated as an empty tier.
type Service struct {
	manifest domain.ManifestSource
	store    domain.MediaStore
	api      domain.FeaturedSource
	opts     Options
	logger   *slog.Logger

	cache   *ttlcache.Cache[string, *domain.Manifest]
	mu      sync.Mutex
	running bool
}

// NewService creates a resolver. Any source may be nil, in which case its
// tier is skipped.
func NewService(manifest domain.ManifestSource, store domain.MediaStore, api domain.FeaturedSource, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ManifestTTL <= 0 {
		opts.ManifestTTL = DefaultManifestTTL
	}
	if opts.TierTimeout <= 0 {
		opts.TierTimeout = DefaultTierTimeout
	}
	if opts.FeaturedLimit <= 0 {
		opts.FeaturedLimit = DefaultFeaturedLimit
	}

	cache := ttlcache.New[string, *domain.Manifest](
		ttlcache.WithTTL[string, *domain.Manifest](opts.ManifestTTL),
		ttlcache.WithDisableTouchOnHit[string, *domain.Manifest](),
	)

	return &Service{
		manifest: manifest,
		store:    store,
		api:      api,
		opts:     opts,
		logger:   logger.With("component", "resolver"),
		cache:    cache,
	}
}

// Start runs the expired-entry janitor. Resolution works without it.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.cache.Start()
}

// Close stops the janitor started by Start.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cache.Stop()
}

type tier struct {
	tier domain.Tier
	fn   func(context.Context) ([]domain.VideoDescriptor, error)
}

// Resolve returns the first non-empty tier, strictly in order. The result
// is never empty.
func (s *Service) Resolve(ctx context.Context) []domain.VideoDescriptor {
	tiers := []tier{
		{domain.TierManifest, s.fromManifest},
		{domain.TierCache, s.fromStore},
		{domain.TierAPI, s.fromAPI},
	}

	for _, t := range tiers {
		videos := s.runTier(ctx, t)
		if len(videos) > 0 {
			s.logger.Debug("resolved featured videos", "tier", t.tier.String(), "count", len(videos))
			return tag(videos, t.tier)
		}
	}

	s.logger.Info("all tiers empty, using defaults")
	return Defaults()
}

// runTier bounds a tier by its own timeout and contains any panic.
func (s *Service) runTier(ctx context.Context, t tier) (videos []domain.VideoDescriptor) {
	if ctx.Err() != nil {
		return nil
	}
	tierCtx, cancel := context.WithTimeout(ctx, s.opts.TierTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tier panicked", "tier", t.tier.String(), "panic", fmt.Sprint(r))
			videos = nil
		}
	}()

	videos, err := t.fn(tierCtx)
	if err != nil {
		s.logger.Warn("tier failed", "tier", t.tier.String(), "error", err)
		return nil
	}
	return videos
}

func tag(videos []domain.VideoDescriptor, t domain.Tier) []domain.VideoDescriptor {
	for i := range videos {
		videos[i].Source = t
	}
	return videos
}

func (s *Service) fromManifest(ctx context.Context) ([]domain.VideoDescriptor, error) {
	m, err := s.loadManifest(ctx)
	if err != nil {
		return nil, err
	}
	return m.Descriptors(), nil
}

func (s *Service) fromStore(ctx context.Context) ([]domain.VideoDescriptor, error) {
	if s.store == nil {
		return nil, nil
	}
	cached := s.store.CachedVideos(ctx)
	videos := make([]domain.VideoDescriptor, 0, len(cached))
	for _, m := range cached {
		videos = append(videos, m.Descriptor())
	}
	return videos, nil
}

func (s *Service) countStore(ctx context.Context) (n int) {
	if s.store == nil {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store count panicked", "panic", fmt.Sprint(r))
			n = 0
		}
	}()
	return s.store.FeaturedCount(ctx)
}

func (s *Service) fromAPI(ctx context.Context) ([]domain.VideoDescriptor, error) {
	if s.api == nil {
		return nil, nil
	}
	return s.api.FeaturedVideos(ctx, s.opts.FeaturedLimit)
}

// loadManifest returns the manifest, fetching it when the freshness window
// has lapsed. Failed fetches are not cached.
func (s *Service) loadManifest(ctx context.Context) (*domain.Manifest, error) {
	if item := s.cache.Get(manifestKey); item != nil && !item.IsExpired() {
		return item.Value(), nil
	}
	if s.manifest == nil {
		return nil, nil
	}

	m, err := s.manifest.FetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(manifestKey, m, ttlcache.DefaultTTL)
	return m, nil
}

// RefreshManifest discards the cached manifest so the next call refetches it.
func (s *Service) RefreshManifest() {
	s.cache.Delete(manifestKey)
	s.logger.Debug("manifest invalidated")
}

// IsOfflineReady reports whether the static manifest is reachable.
func (s *Service) IsOfflineReady(ctx context.Context) bool {
	if s.manifest == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.opts.TierTimeout)
	defer cancel()
	if err := s.manifest.ProbeManifest(probeCtx); err != nil {
		s.logger.Debug("manifest probe failed", "error", err)
		return false
	}
	return true
}

// AvailabilityStatus probes every tier independently. The store tier is
// counted without reading payloads or recording access.
func (s *Service) AvailabilityStatus(ctx context.Context) domain.Availability {
	var static, cached, api int
	var g errgroup.Group
	g.Go(func() error {
		static = len(s.runTier(ctx, tier{domain.TierManifest, s.fromManifest}))
		return nil
	})
	g.Go(func() error {
		cached = s.countStore(ctx)
		return nil
	})
	g.Go(func() error {
		api = len(s.runTier(ctx, tier{domain.TierAPI, s.fromAPI}))
		return nil
	})
	g.Wait()

	return domain.Availability{
		Static: static > 0,
		Cache:  cached > 0,
		API:    api > 0,
		Total:  static + cached + api,
	}
}

// ValidateStaticVideos probes the static path of every manifest entry and
// partitions the ids by whether the path answers.
func (s *Service) ValidateStaticVideos(ctx context.Context) domain.ValidationReport {
	report := domain.ValidationReport{Valid: []string{}, Missing: []string{}}

	videos := s.runTier(ctx, tier{domain.TierManifest, s.fromManifest})
	if len(videos) == 0 {
		return report
	}

	ok := make([]bool, len(videos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeWorkers)
	for i, v := range videos {
		g.Go(func() error {
			if v.StaticPath == "" {
				return nil
			}
			probeCtx, cancel := context.WithTimeout(gctx, s.opts.TierTimeout)
			defer cancel()
			if err := s.manifest.ProbeURL(probeCtx, v.StaticPath); err != nil {
				s.logger.Warn("static video missing", "id", v.ID, "path", v.StaticPath, "error", err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	g.Wait()

	for i, v := range videos {
		if ok[i] {
			report.Valid = append(report.Valid, v.ID)
		} else {
			report.Missing = append(report.Missing, v.ID)
		}
	}
	return report
}

// Search resolves the featured list and ranks it against query.
func (s *Service) Search(ctx context.Context, query string) []search.Result {
	return search.NewIndex(s.Resolve(ctx)).Search(query)
}
