package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	calls    int
}

func (f *fakeFetcher) FetchPayload(_ context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data, ok := f.payloads[url]
	if !ok {
		return nil, "", fmt.Errorf("fetch %s: %w", url, domain.ErrServerOffline)
	}
	return data, "video/mp4", nil
}

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(t *testing.T, opts Options) (*MediaStore, *fakeFetcher) {
	t.Helper()
	fetcher := &fakeFetcher{payloads: map[string][]byte{}}
	if opts.Clock == nil {
		clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		opts.Clock = clock.Now
	}
	s := NewMediaStore(filepath.Join(t.TempDir(), "media.db"), fetcher, nil, opts, nil)
	t.Cleanup(func() { s.Close() })
	return s, fetcher
}

func descriptor(f *fakeFetcher, id string, size int) domain.VideoDescriptor {
	url := "http://backend/videos/" + id + ".mp4"
	f.payloads[url] = make([]byte, size)
	return domain.VideoDescriptor{
		ID:         id,
		Title:      "Video " + id,
		URL:        url,
		Category:   domain.CategoryPetCare,
		IsFeatured: true,
	}
}

func TestInitIsIdempotentUnderConcurrency(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Init(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 0, s.CacheStats(ctx).Count)
}

func TestCacheVideoRoundTrip(t *testing.T) {
	s, f := newTestStore(t, Options{})
	ctx := context.Background()

	desc := descriptor(f, "a", 128)
	desc.ThumbnailURL = "http://backend/thumbnails/a.jpg"
	f.payloads[desc.ThumbnailURL] = []byte("jpeg")

	require.True(t, s.CacheVideo(ctx, desc))
	assert.True(t, s.IsVideoCached(ctx, "a"))

	got, ok := s.CachedVideo(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "Video a", got.Title)
	assert.Equal(t, domain.MediaKindVideo, got.Kind)
	assert.Len(t, got.Video, 128)
	assert.Equal(t, []byte("jpeg"), got.Thumbnail)

	blob, ok := s.Handles().Open(got.VideoURL)
	require.True(t, ok)
	assert.Len(t, blob.Data, 128)
	_, ok = s.Handles().Open(got.ThumbnailURL)
	assert.True(t, ok)
}

func TestCacheVideoFailureLeavesNothing(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	desc := domain.VideoDescriptor{ID: "missing", URL: "http://backend/videos/missing.mp4", IsFeatured: true}
	assert.False(t, s.CacheVideo(ctx, desc))
	assert.False(t, s.IsVideoCached(ctx, "missing"))
	assert.Equal(t, 0, s.CacheStats(ctx).Count)
}

func TestCacheVideoToleratesMissingThumbnail(t *testing.T) {
	s, f := newTestStore(t, Options{})
	ctx := context.Background()

	desc := descriptor(f, "a", 16)
	desc.ThumbnailURL = "http://backend/thumbnails/gone.jpg"

	require.True(t, s.CacheVideo(ctx, desc))
	got, ok := s.CachedVideo(ctx, "a")
	require.True(t, ok)
	assert.Empty(t, got.Thumbnail)
	assert.Empty(t, got.ThumbnailURL)
}

func TestEvictsLeastRecentlyAccessed(t *testing.T) {
	s, f := newTestStore(t, Options{MaxItems: 3})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, s.CacheVideo(ctx, descriptor(f, id, 10)))
	}

	// Reading "a" makes "b" the oldest.
	_, ok := s.CachedVideo(ctx, "a")
	require.True(t, ok)

	require.True(t, s.CacheVideo(ctx, descriptor(f, "d", 10)))

	assert.ElementsMatch(t, []string{"a", "c", "d"}, s.CachedIDs(ctx))
}

func TestNeverExceedsItemCeiling(t *testing.T) {
	s, f := newTestStore(t, Options{MaxItems: 4})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.True(t, s.CacheVideo(ctx, descriptor(f, fmt.Sprintf("v%02d", i), 8)))
		assert.LessOrEqual(t, s.CacheStats(ctx).Count, 4)
	}

	// Without reads, insertion order is access order.
	assert.ElementsMatch(t, []string{"v08", "v09", "v10", "v11"}, s.CachedIDs(ctx))
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	s, f := newTestStore(t, Options{MaxItems: 2})
	ctx := context.Background()

	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 10)))
	require.True(t, s.CacheVideo(ctx, descriptor(f, "b", 10)))
	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 20)))

	assert.ElementsMatch(t, []string{"a", "b"}, s.CachedIDs(ctx))
	assert.Equal(t, int64(30), s.CacheStats(ctx).TotalBytes)
}

func TestEnforceBytesEvictsBySize(t *testing.T) {
	s, f := newTestStore(t, Options{MaxItems: 10, MaxBytes: 100, EnforceBytes: true})
	ctx := context.Background()

	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 40)))
	require.True(t, s.CacheVideo(ctx, descriptor(f, "b", 40)))
	require.True(t, s.CacheVideo(ctx, descriptor(f, "c", 40)))

	assert.ElementsMatch(t, []string{"b", "c"}, s.CachedIDs(ctx))

	assert.False(t, s.CacheVideo(ctx, descriptor(f, "huge", 101)))
	assert.False(t, s.IsVideoCached(ctx, "huge"))
}

func TestReadUpdatesLastAccessed(t *testing.T) {
	s, f := newTestStore(t, Options{})
	ctx := context.Background()

	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 10)))
	require.True(t, s.CacheVideo(ctx, descriptor(f, "b", 10)))

	before := s.CachedVideos(ctx)
	require.Len(t, before, 2)
	var stamp time.Time
	for _, m := range before {
		if m.ID == "a" {
			stamp = m.LastAccessed
		}
	}

	_, ok := s.CachedVideo(ctx, "a")
	require.True(t, ok)

	for _, m := range s.CachedVideos(ctx) {
		if m.ID == "a" {
			assert.False(t, m.LastAccessed.Before(stamp))
			assert.True(t, m.LastAccessed.After(stamp))
		}
	}
}

func TestCachedVideosOnlyReturnsFeatured(t *testing.T) {
	s, f := newTestStore(t, Options{})
	ctx := context.Background()

	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 10)))
	plain := descriptor(f, "b", 10)
	plain.IsFeatured = false
	require.True(t, s.CacheVideo(ctx, plain))

	videos := s.CachedVideos(ctx)
	require.Len(t, videos, 1)
	assert.Equal(t, "a", videos[0].ID)
	assert.True(t, s.IsVideoCached(ctx, "b"))
}

func TestFeaturedCountLeavesAccessUntouched(t *testing.T) {
	s, f := newTestStore(t, Options{})
	ctx := context.Background()

	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 10)))
	require.True(t, s.CacheVideo(ctx, descriptor(f, "b", 10)))
	plain := descriptor(f, "c", 10)
	plain.IsFeatured = false
	require.True(t, s.CacheVideo(ctx, plain))

	before := s.CacheStats(ctx)
	handles := s.Handles().Len()

	assert.Equal(t, 2, s.FeaturedCount(ctx))
	assert.Equal(t, 2, s.FeaturedCount(ctx))

	after := s.CacheStats(ctx)
	assert.Equal(t, before.Oldest, after.Oldest)
	assert.Equal(t, before.Newest, after.Newest)
	assert.Equal(t, handles, s.Handles().Len())

	require.True(t, s.RemoveCachedVideo(ctx, "a"))
	assert.Equal(t, 1, s.FeaturedCount(ctx))
}

func TestRemoveReleasesHandles(t *testing.T) {
	s, f := newTestStore(t, Options{})
	ctx := context.Background()

	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 10)))
	got, ok := s.CachedVideo(ctx, "a")
	require.True(t, ok)
	require.Equal(t, 1, s.Handles().Len())

	require.True(t, s.RemoveCachedVideo(ctx, "a"))
	assert.False(t, s.IsVideoCached(ctx, "a"))
	_, ok = s.Handles().Open(got.VideoURL)
	assert.False(t, ok)
}

func TestEvictionReleasesHandles(t *testing.T) {
	s, f := newTestStore(t, Options{MaxItems: 1})
	ctx := context.Background()

	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 10)))
	got, ok := s.CachedVideo(ctx, "a")
	require.True(t, ok)

	require.True(t, s.CacheVideo(ctx, descriptor(f, "b", 10)))
	_, ok = s.Handles().Open(got.VideoURL)
	assert.False(t, ok)
}

func TestClearCacheRoundTrip(t *testing.T) {
	s, f := newTestStore(t, Options{})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, s.CacheVideo(ctx, descriptor(f, id, 10)))
	}
	require.Len(t, s.CachedVideos(ctx), 3)

	require.True(t, s.ClearCache(ctx))

	stats := s.CacheStats(ctx)
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, int64(0), stats.TotalBytes)
	assert.Empty(t, s.CachedVideos(ctx))
	assert.Equal(t, 0, s.Handles().Len())
}

func TestReopenKeepsRecordsButNotHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media.db")
	f := &fakeFetcher{payloads: map[string][]byte{}}
	ctx := context.Background()

	s := NewMediaStore(path, f, nil, Options{}, nil)
	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 10)))
	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.Handles().Len())

	reopened := NewMediaStore(path, f, nil, Options{}, nil)
	defer reopened.Close()
	got, ok := reopened.CachedVideo(ctx, "a")
	require.True(t, ok)
	assert.NotEmpty(t, got.VideoURL)
}

func TestClosedStoreDoesNotReopen(t *testing.T) {
	s, f := newTestStore(t, Options{})
	ctx := context.Background()
	require.True(t, s.CacheVideo(ctx, descriptor(f, "a", 10)))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Init(ctx), domain.ErrStoreClosed)
	assert.False(t, s.CacheVideo(ctx, descriptor(f, "b", 10)))
	assert.False(t, s.IsVideoCached(ctx, "a"))
	assert.Empty(t, s.CachedVideos(ctx))
	assert.NoError(t, s.Close())
}

func TestCanceledContextFails(t *testing.T) {
	s, f := newTestStore(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, s.CacheVideo(ctx, descriptor(f, "a", 10)))
	err := s.Init(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
