package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManifest struct {
	manifest *domain.Manifest
	err      error
	missing  map[string]bool
	fetches  atomic.Int32
}

func (f *fakeManifest) FetchManifest(context.Context) (*domain.Manifest, error) {
	f.fetches.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.manifest, nil
}

func (f *fakeManifest) ProbeManifest(context.Context) error {
	return f.err
}

func (f *fakeManifest) ProbeURL(_ context.Context, rawURL string) error {
	if f.missing[rawURL] {
		return fmt.Errorf("%w: 404", domain.ErrUnexpectedStatus)
	}
	return nil
}

type fakeStore struct {
	domain.MediaStore
	cached []domain.CachedMedia
	calls  atomic.Int32
}

func (f *fakeStore) CachedVideos(context.Context) []domain.CachedMedia {
	f.calls.Add(1)
	return f.cached
}

func (f *fakeStore) FeaturedCount(context.Context) int {
	return len(f.cached)
}

type fakeAPI struct {
	videos []domain.VideoDescriptor
	err    error
	panics bool
	calls  atomic.Int32
}

func (f *fakeAPI) FeaturedVideos(_ context.Context, limit int) ([]domain.VideoDescriptor, error) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.videos) > limit {
		return f.videos[:limit], nil
	}
	return f.videos, nil
}

type blockingAPI struct{}

func (blockingAPI) FeaturedVideos(ctx context.Context, _ int) ([]domain.VideoDescriptor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func manifestWith(ids ...string) *domain.Manifest {
	m := &domain.Manifest{Version: "1", OfflineSupport: true}
	for _, id := range ids {
		m.Featured = append(m.Featured, domain.ManifestEntry{
			ID:         id,
			Title:      "Video " + id,
			Category:   "pet-care",
			StaticPath: "/videos/featured/" + id + ".mp4",
		})
	}
	return m
}

func offline() *fakeManifest {
	return &fakeManifest{err: fmt.Errorf("%w: 404", domain.ErrUnexpectedStatus)}
}

func ids(videos []domain.VideoDescriptor) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.ID
	}
	return out
}

func TestResolveManifestWins(t *testing.T) {
	store := &fakeStore{cached: []domain.CachedMedia{{ID: "c1"}}}
	api := &fakeAPI{videos: []domain.VideoDescriptor{{ID: "a1"}}}
	s := NewService(&fakeManifest{manifest: manifestWith("m1")}, store, api, Options{}, nil)

	videos := s.Resolve(context.Background())

	require.Len(t, videos, 1)
	assert.Equal(t, "m1", videos[0].ID)
	assert.Equal(t, "/videos/featured/m1.mp4", videos[0].StaticPath)
	assert.Equal(t, "/videos/featured/m1.mp4", videos[0].PlaybackURL())
	assert.Equal(t, domain.TierManifest, videos[0].Source)
	assert.Zero(t, store.calls.Load())
	assert.Zero(t, api.calls.Load())
}

func TestResolveFallsBackToStore(t *testing.T) {
	store := &fakeStore{cached: []domain.CachedMedia{
		{ID: "c1", Title: "One", VideoURL: "/blob/video/1"},
		{ID: "c2", Title: "Two", VideoURL: "/blob/video/2"},
	}}
	api := &fakeAPI{videos: []domain.VideoDescriptor{{ID: "a1"}}}
	s := NewService(offline(), store, api, Options{}, nil)

	videos := s.Resolve(context.Background())

	assert.Equal(t, []string{"c1", "c2"}, ids(videos))
	assert.Equal(t, "/blob/video/1", videos[0].URL)
	assert.Equal(t, domain.TierCache, videos[1].Source)
	assert.Zero(t, api.calls.Load())
}

func TestResolveFallsBackToAPI(t *testing.T) {
	api := &fakeAPI{videos: []domain.VideoDescriptor{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}}
	s := NewService(offline(), &fakeStore{}, api, Options{}, nil)

	videos := s.Resolve(context.Background())

	assert.Equal(t, []string{"a1", "a2", "a3"}, ids(videos))
	for _, v := range videos {
		assert.Equal(t, domain.TierAPI, v.Source)
	}
}

func TestResolveUsesDefaultsWhenEverythingFails(t *testing.T) {
	api := &fakeAPI{err: domain.ErrServerOffline}
	s := NewService(offline(), &fakeStore{}, api, Options{}, nil)

	videos := s.Resolve(context.Background())

	assert.Equal(t, []string{"default-house-cleaning", "default-pet-care", "default-shoe-care"}, ids(videos))
	for _, v := range videos {
		assert.Equal(t, domain.TierDefault, v.Source)
		assert.NotEmpty(t, v.StaticPath)
	}
}

func TestResolveWithNoSources(t *testing.T) {
	s := NewService(nil, nil, nil, Options{}, nil)
	assert.Len(t, s.Resolve(context.Background()), 3)
}

func TestDefaultsReturnsFreshSlice(t *testing.T) {
	a := Defaults()
	a[0].Title = "changed"
	assert.NotEqual(t, "changed", Defaults()[0].Title)
}

func TestResolveIsolatesPanickingTier(t *testing.T) {
	api := &fakeAPI{panics: true}
	s := NewService(offline(), &fakeStore{}, api, Options{}, nil)

	videos := s.Resolve(context.Background())

	assert.Len(t, videos, 3)
	assert.Equal(t, domain.TierDefault, videos[0].Source)
}

func TestResolveBoundsSlowTier(t *testing.T) {
	s := NewService(offline(), &fakeStore{}, blockingAPI{}, Options{TierTimeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	videos := s.Resolve(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.TierDefault, videos[0].Source)
}

func TestManifestIsCachedWithinTTL(t *testing.T) {
	manifest := &fakeManifest{manifest: manifestWith("m1")}
	s := NewService(manifest, nil, nil, Options{ManifestTTL: time.Hour}, nil)
	ctx := context.Background()

	s.Resolve(ctx)
	s.Resolve(ctx)
	assert.Equal(t, int32(1), manifest.fetches.Load())

	s.RefreshManifest()
	s.Resolve(ctx)
	assert.Equal(t, int32(2), manifest.fetches.Load())
}

func TestManifestExpiresAfterTTL(t *testing.T) {
	manifest := &fakeManifest{manifest: manifestWith("m1")}
	s := NewService(manifest, nil, nil, Options{ManifestTTL: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	s.Resolve(ctx)
	time.Sleep(30 * time.Millisecond)
	s.Resolve(ctx)

	assert.Equal(t, int32(2), manifest.fetches.Load())
}

func TestFailedManifestIsNotCached(t *testing.T) {
	manifest := offline()
	s := NewService(manifest, nil, nil, Options{ManifestTTL: time.Hour}, nil)
	ctx := context.Background()

	s.Resolve(ctx)
	manifest.err = nil
	manifest.manifest = manifestWith("m1")
	videos := s.Resolve(ctx)

	assert.Equal(t, []string{"m1"}, ids(videos))
	assert.Equal(t, int32(2), manifest.fetches.Load())
}

func TestAvailabilityStatus(t *testing.T) {
	store := &fakeStore{cached: []domain.CachedMedia{{ID: "c1"}, {ID: "c2"}}}
	api := &fakeAPI{videos: []domain.VideoDescriptor{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}}
	s := NewService(offline(), store, api, Options{}, nil)

	status := s.AvailabilityStatus(context.Background())

	assert.Equal(t, domain.Availability{Static: false, Cache: true, API: true, Total: 5}, status)
	assert.Zero(t, store.calls.Load(), "availability must not read cached videos")
}

type bytesFetcher struct{}

func (bytesFetcher) FetchPayload(context.Context, string) ([]byte, string, error) {
	return []byte("payload"), "video/mp4", nil
}

func TestAvailabilityDoesNotRecordAccess(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
	ms := store.NewMediaStore(filepath.Join(t.TempDir(), "media.db"), bytesFetcher{}, nil, store.Options{Clock: clock}, nil)
	t.Cleanup(func() { ms.Close() })

	require.True(t, ms.CacheVideo(ctx, domain.VideoDescriptor{ID: "a", URL: "http://backend/a.mp4", IsFeatured: true}))
	require.True(t, ms.CacheVideo(ctx, domain.VideoDescriptor{ID: "b", URL: "http://backend/b.mp4", IsFeatured: true}))
	before := ms.CacheStats(ctx)

	s := NewService(offline(), ms, nil, Options{}, nil)
	for i := 0; i < 3; i++ {
		status := s.AvailabilityStatus(ctx)
		assert.True(t, status.Cache)
		assert.Equal(t, 2, status.Total)
	}

	after := ms.CacheStats(ctx)
	assert.Equal(t, before.Oldest, after.Oldest)
	assert.Equal(t, before.Newest, after.Newest)
	assert.Zero(t, ms.Handles().Len())
}

func TestIsOfflineReady(t *testing.T) {
	ctx := context.Background()
	assert.True(t, NewService(&fakeManifest{manifest: manifestWith("m1")}, nil, nil, Options{}, nil).IsOfflineReady(ctx))
	assert.False(t, NewService(offline(), nil, nil, Options{}, nil).IsOfflineReady(ctx))
	assert.False(t, NewService(nil, nil, nil, Options{}, nil).IsOfflineReady(ctx))
}

func TestValidateStaticVideos(t *testing.T) {
	manifest := &fakeManifest{
		manifest: manifestWith("m1", "m2", "m3"),
		missing:  map[string]bool{"/videos/featured/m2.mp4": true},
	}
	s := NewService(manifest, nil, nil, Options{}, nil)

	report := s.ValidateStaticVideos(context.Background())

	assert.Equal(t, []string{"m1", "m3"}, report.Valid)
	assert.Equal(t, []string{"m2"}, report.Missing)
}

func TestValidateStaticVideosWithoutManifest(t *testing.T) {
	s := NewService(offline(), nil, nil, Options{}, nil)

	report := s.ValidateStaticVideos(context.Background())

	assert.NotNil(t, report.Valid)
	assert.NotNil(t, report.Missing)
	assert.Empty(t, report.Valid)
	assert.Empty(t, report.Missing)
}

func TestSearchRanksResolvedVideos(t *testing.T) {
	api := &fakeAPI{videos: []domain.VideoDescriptor{
		{ID: "a1", Title: "Laundry day"},
		{ID: "a2", Title: "Dog grooming"},
	}}
	s := NewService(offline(), &fakeStore{}, api, Options{}, nil)

	results := s.Search(context.Background(), "dog")

	require.NotEmpty(t, results)
	assert.Equal(t, "a2", results[0].Video.ID)
}

func TestStartAndCloseAreSafe(t *testing.T) {
	s := NewService(nil, nil, nil, Options{}, nil)
	s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Start()
		}()
	}
	wg.Wait()
	s.Close()
	s.Close()
}
