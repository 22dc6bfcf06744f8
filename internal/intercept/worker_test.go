package intercept

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/reelcache/internal/messaging"
	"github.com/mmcdole/reelcache/internal/respcache"
	"github.com/mmcdole/reelcache/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const featuredBody = `{"success":true,"data":[{"id":"a","title":"Dusting","url":"/uploads/a.mp4","category":"house-cleaning"}]}`

// upstream serves both the app shell and the API. Offline requests are
// aborted so the proxy sees a transport error.
type upstream struct {
	srv     *httptest.Server
	offline atomic.Bool
	hits    atomic.Int32
	apiDown atomic.Bool
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>root</html>"))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>about</html>"))
	})
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Write([]byte("console.log(1)"))
	})
	mux.HandleFunc("/api/media", func(w http.ResponseWriter, r *http.Request) {
		if u.apiDown.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(featuredBody))
	})
	mux.HandleFunc("/api/contact", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/uploads/a.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("0123456789"))
	})
	mux.HandleFunc("/thumbnails/a.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg"))
	})

	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u.offline.Load() {
			panic(http.ErrAbortHandler)
		}
		u.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

type fixture struct {
	up      *upstream
	worker  *Worker
	caches  *respcache.Storage
	handles *store.Handles
}

func newFixture(t *testing.T, shell []string) *fixture {
	t.Helper()
	up := newUpstream(t)

	caches, err := respcache.Open(filepath.Join(t.TempDir(), "responses.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { caches.Close() })

	handles := store.NewHandles("")
	w, err := NewWorker(Config{
		Upstream: up.srv.URL,
		APIBase:  up.srv.URL + "/api",
		Shell:    shell,
		Timeout:  2 * time.Second,
	}, caches, handles, nil, nil)
	require.NoError(t, err)

	return &fixture{up: up, worker: w, caches: caches, handles: handles}
}

func (f *fixture) activate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.worker.Install(ctx))
	require.NoError(t, f.worker.Activate(ctx))
}

func (f *fixture) get(path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.worker.ServeHTTP(rec, req)
	return rec
}

var navigate = map[string]string{"Accept": "text/html", "Sec-Fetch-Mode": "navigate"}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t, []string{})
	ctx := context.Background()
	w := f.worker

	assert.Equal(t, StateInstalling, w.State())
	assert.ErrorIs(t, w.Activate(ctx), ErrInvalidTransition)

	require.NoError(t, w.Install(ctx))
	assert.Equal(t, StateInstalled, w.State())
	assert.ErrorIs(t, w.Install(ctx), ErrInvalidTransition)
	assert.False(t, w.Controlling())

	require.NoError(t, w.SkipWaiting(ctx))
	assert.Equal(t, StateActivated, w.State())
	assert.True(t, w.Controlling())
	require.NoError(t, w.SkipWaiting(ctx))

	w.MarkRedundant()
	w.MarkRedundant()
	assert.Equal(t, StateRedundant, w.State())
	assert.ErrorIs(t, w.SkipWaiting(ctx), ErrInvalidTransition)
	assert.Equal(t, "redundant", w.State().String())
}

func TestInstallPrecachesShell(t *testing.T) {
	f := newFixture(t, []string{"/", "/app.js"})
	require.NoError(t, f.worker.Install(context.Background()))

	cache, err := f.caches.Cache(StaticCacheName(1))
	require.NoError(t, err)
	keys, err := cache.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestInstallFailureAbortsPrecacheButInstalls(t *testing.T) {
	f := newFixture(t, []string{"/", "/missing.css"})
	require.NoError(t, f.worker.Install(context.Background()))

	assert.Equal(t, StateInstalled, f.worker.State())
	_, ok := f.caches.Match(http.MethodGet, f.up.srv.URL+"/")
	assert.False(t, ok, "no partial pre-population")
}

func TestActivateDeletesStaleCaches(t *testing.T) {
	f := newFixture(t, []string{"/"})
	for _, name := range []string{"static-v0", "api-v0", "thumbnails"} {
		_, err := f.caches.Cache(name)
		require.NoError(t, err)
	}

	f.activate(t)

	names, err := f.caches.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{StaticCacheName(1)}, names)
}

func TestPassThroughBeforeActivation(t *testing.T) {
	f := newFixture(t, []string{})

	rec := f.get("/app.js", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statusBypass, rec.Header().Get(CacheStatusHeader))

	_, ok := f.caches.Match(http.MethodGet, f.up.srv.URL+"/app.js")
	assert.False(t, ok)
}

func TestNonGetPassesThrough(t *testing.T) {
	f := newFixture(t, []string{})
	f.activate(t)

	req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	f.worker.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestFeaturedRouteNetworkFirst(t *testing.T) {
	f := newFixture(t, []string{})
	f.activate(t)
	path := "/api/media?featured=true&limit=3&type=videos"

	rec := f.get(path, nil)
	assert.Equal(t, statusNetwork, rec.Header().Get(CacheStatusHeader))
	assert.JSONEq(t, featuredBody, rec.Body.String())

	f.up.offline.Store(true)
	rec = f.get(path, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statusFallback, rec.Header().Get(CacheStatusHeader))
	assert.JSONEq(t, featuredBody, rec.Body.String())
}

func TestFeaturedRouteSyntheticWhenNothingWorks(t *testing.T) {
	f := newFixture(t, []string{})
	f.activate(t)

	f.up.offline.Store(true)
	rec := f.get("/api/media?featured=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statusSynthetic, rec.Header().Get(CacheStatusHeader))
	assert.JSONEq(t, `{"success":true,"data":[]}`, rec.Body.String())

	f.up.offline.Store(false)
	f.up.apiDown.Store(true)
	rec = f.get("/api/media?featured=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statusSynthetic, rec.Header().Get(CacheStatusHeader))
}

func TestMediaCacheFirst(t *testing.T) {
	f := newFixture(t, []string{})
	f.activate(t)

	rec := f.get("/uploads/a.mp4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statusNetwork, rec.Header().Get(CacheStatusHeader))
	hits := f.up.hits.Load()

	f.up.offline.Store(true)
	rec = f.get("/uploads/a.mp4", nil)
	assert.Equal(t, statusHit, rec.Header().Get(CacheStatusHeader))
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, hits, f.up.hits.Load())

	rec = f.get("/uploads/a.mp4", map[string]string{"Range": "bytes=2-4"})
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "234", rec.Body.String())
}

func TestMediaTotalFailure(t *testing.T) {
	f := newFixture(t, []string{})
	f.activate(t)
	f.up.offline.Store(true)

	rec := f.get("/thumbnails/a.jpg", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")

	rec = f.get("/uploads/a.mp4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNavigationFallsBackToCachedRoot(t *testing.T) {
	f := newFixture(t, []string{"/"})
	f.activate(t)

	rec := f.get("/about", navigate)
	assert.Equal(t, statusNetwork, rec.Header().Get(CacheStatusHeader))

	f.up.offline.Store(true)

	rec = f.get("/about", navigate)
	assert.Equal(t, statusFallback, rec.Header().Get(CacheStatusHeader))
	assert.Contains(t, rec.Body.String(), "about")

	rec = f.get("/never-visited", navigate)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "root")
}

func TestNavigationOfflineWithoutShell(t *testing.T) {
	f := newFixture(t, []string{})
	f.activate(t)
	f.up.offline.Store(true)

	rec := f.get("/about", navigate)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStaticAssetsCacheFirst(t *testing.T) {
	f := newFixture(t, []string{})
	f.activate(t)

	rec := f.get("/app.js", nil)
	assert.Equal(t, statusNetwork, rec.Header().Get(CacheStatusHeader))
	hits := f.up.hits.Load()

	rec = f.get("/app.js", nil)
	assert.Equal(t, statusHit, rec.Header().Get(CacheStatusHeader))
	assert.Equal(t, "console.log(1)", rec.Body.String())
	assert.Equal(t, hits, f.up.hits.Load())
}

func TestServesPlaybackHandles(t *testing.T) {
	f := newFixture(t, []string{})

	url := f.handles.Acquire("a", store.KindVideo, "video/mp4", []byte("payload"))
	rec := f.get(url, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "payload", rec.Body.String())

	f.handles.Revoke("a")
	rec = f.get(url, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearCachesCommand(t *testing.T) {
	f := newFixture(t, []string{"/"})
	f.activate(t)
	sub := f.worker.Hub().Subscribe(1)

	require.NoError(t, f.worker.HandleCommand(context.Background(), messaging.ClearCaches()))

	names, err := f.caches.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, messaging.KindCachesCleared, (<-sub.C).Kind)
}

func TestCacheVideoCommand(t *testing.T) {
	f := newFixture(t, []string{})
	f.activate(t)

	require.NoError(t, f.worker.HandleCommand(context.Background(), messaging.CacheVideo("/uploads/a.mp4", "a")))

	f.up.offline.Store(true)
	rec := f.get("/uploads/a.mp4", nil)
	assert.Equal(t, statusHit, rec.Header().Get(CacheStatusHeader))

	err := f.worker.HandleCommand(context.Background(), messaging.CacheVideo("/uploads/b.mp4", "b"))
	assert.Error(t, err)

	err = f.worker.HandleCommand(context.Background(), messaging.SyncStarted())
	assert.ErrorIs(t, err, messaging.ErrUnsupportedCommand)
}

func TestSkipWaitingOverMessaging(t *testing.T) {
	f := newFixture(t, []string{})
	require.NoError(t, f.worker.Install(context.Background()))

	proxy := httptest.NewServer(f.worker)
	defer proxy.Close()

	client := messaging.NewClient(proxy.URL, 2*time.Second, nil)
	require.NoError(t, client.Send(context.Background(), messaging.SkipWaiting()))
	assert.Equal(t, StateActivated, f.worker.State())
}

func TestBackgroundSyncBroadcasts(t *testing.T) {
	f := newFixture(t, []string{})
	f.activate(t)
	sub := f.worker.Hub().Subscribe(4)
	ctx := context.Background()

	require.NoError(t, f.worker.Sync(ctx, SyncTagFeatured))
	started := <-sub.C
	assert.Equal(t, messaging.KindSyncStarted, started.Kind)
	assert.Equal(t, SyncTagFeatured, started.Tag)
	done := <-sub.C
	require.Equal(t, messaging.KindSyncSucceeded, done.Kind)
	assert.Equal(t, SyncTagFeatured, done.Tag)
	p, err := done.SyncSucceededPayload()
	require.NoError(t, err)
	require.Len(t, p.Data, 1)
	assert.Equal(t, "a", p.Data[0].ID)
	assert.Equal(t, f.up.srv.URL+"/uploads/a.mp4", p.Data[0].URL)

	_, ok := f.caches.Match(http.MethodGet, f.worker.FeaturedURL())
	assert.True(t, ok, "sync writes through the featured cache")

	f.up.offline.Store(true)
	assert.Error(t, f.worker.Sync(ctx, SyncTagFeatured))
	assert.Equal(t, messaging.KindSyncStarted, (<-sub.C).Kind)
	assert.Equal(t, messaging.KindSyncFailed, (<-sub.C).Kind)

	assert.ErrorIs(t, f.worker.Sync(ctx, "sync-everything"), ErrUnknownSyncTag)
}
