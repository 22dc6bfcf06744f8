// Package intercept is the caching proxy that sits between the application
// and the network. It owns the response caches, answers requests with
// per-route policies once activated, and broadcasts sync lifecycle events.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mmcdole/reelcache/internal/adapter/source/backend"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/messaging"
	"github.com/mmcdole/reelcache/internal/respcache"
	"github.com/mmcdole/reelcache/internal/store"
	"resty.dev/v3"
)

// SyncTagFeatured is the background sync that refreshes the featured route.
const SyncTagFeatured = "sync-featured-videos"

const (
	defaultTimeout       = 8 * time.Second
	defaultFeaturedLimit = 3
)

// DefaultShell is pre-populated into the static cache on install.
var DefaultShell = []string{"/", "/manifest.json", "/favicon.ico"}

var ErrUnknownSyncTag = errors.New("unknown sync tag")

// Config describes where the proxy forwards requests.
type Config struct {
	// Upstream is the origin serving documents and static assets.
	Upstream string
	// APIBase is the media API root. Requests under its path go to its origin.
	APIBase string
	// MediaOrigin serves the video and thumbnail byte routes. Defaults to Upstream.
	MediaOrigin   string
	CacheVersion  int
	Shell         []string
	FeaturedLimit int
	// Timeout bounds each upstream attempt.
	Timeout time.Duration
}

// Worker is the interception layer.
type Worker struct {
	upstream      *url.URL
	apiOrigin     *url.URL
	apiPath       string
	mediaOrigin   *url.URL
	shell         []string
	featuredLimit int
	timeout       time.Duration

	staticCache string
	apiCache    string

	caches  *respcache.Storage
	handles *store.Handles
	hub     *messaging.Hub
	http    *resty.Client
	logger  *slog.Logger

	stateMu sync.RWMutex
	state   State

	router chi.Router
}

// NewWorker creates a worker in the installing state. handles may be nil
// when playback handles are not served by this process.
func NewWorker(cfg Config, caches *respcache.Storage, handles *store.Handles, hub *messaging.Hub, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if caches == nil {
		return nil, errors.New("response cache storage is required")
	}
	if hub == nil {
		hub = messaging.NewHub(logger)
	}

	upstream, err := parseOrigin(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	apiBase, err := parseOrigin(cfg.APIBase)
	if err != nil {
		return nil, fmt.Errorf("invalid api base: %w", err)
	}
	mediaOrigin := upstream
	if cfg.MediaOrigin != "" {
		if mediaOrigin, err = parseOrigin(cfg.MediaOrigin); err != nil {
			return nil, fmt.Errorf("invalid media origin: %w", err)
		}
	}

	if cfg.CacheVersion <= 0 {
		cfg.CacheVersion = 1
	}
	if cfg.Shell == nil {
		cfg.Shell = DefaultShell
	}
	if cfg.FeaturedLimit <= 0 {
		cfg.FeaturedLimit = defaultFeaturedLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	w := &Worker{
		upstream:      upstream,
		apiOrigin:     &url.URL{Scheme: apiBase.Scheme, Host: apiBase.Host},
		apiPath:       strings.TrimRight(apiBase.Path, "/"),
		mediaOrigin:   mediaOrigin,
		shell:         cfg.Shell,
		featuredLimit: cfg.FeaturedLimit,
		timeout:       cfg.Timeout,
		staticCache:   StaticCacheName(cfg.CacheVersion),
		apiCache:      APICacheName(cfg.CacheVersion),
		caches:        caches,
		handles:       handles,
		hub:           hub,
		http:          resty.New(),
		logger:        logger.With("component", "intercept"),
		state:         StateInstalling,
	}
	w.router = w.routes()
	return w, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", raw)
	}
	return u, nil
}

// StaticCacheName is the long-lived cache for shell documents and assets.
func StaticCacheName(version int) string {
	return "static-v" + strconv.Itoa(version)
}

// APICacheName is the cache for API responses and media bytes.
func APICacheName(version int) string {
	return "api-v" + strconv.Itoa(version)
}

// Hub returns the notification hub events are broadcast on.
func (w *Worker) Hub() *messaging.Hub {
	return w.hub
}

func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.router.ServeHTTP(rw, r)
}

func (w *Worker) routes() chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.RealIP)
		r.Use(chimiddleware.Recoverer)
		r.Use(requestLog(w.logger))

		r.Handle(messaging.CommandsPath, messaging.NewCommandEndpoint(w, w.logger))
		r.Handle(messaging.EventsPath, messaging.NewEventStream(w.hub, w.logger))
		if w.handles != nil {
			r.Get(w.handles.Prefix()+"*", w.serveBlob)
		}
		r.HandleFunc("/*", w.dispatch)
	})
	return r
}

// Install pre-populates the static cache with the shell. A failed resource
// aborts the whole pre-population but the worker still becomes installed.
func (w *Worker) Install(ctx context.Context) error {
	if s := w.State(); s != StateInstalling {
		return fmt.Errorf("%w: install from %s", ErrInvalidTransition, s)
	}

	if err := w.precache(ctx); err != nil {
		w.logger.Warn("shell pre-population aborted", "error", err)
	} else {
		w.logger.Info("shell pre-populated", "resources", len(w.shell), "cache", w.staticCache)
	}
	return w.transition(StateInstalled)
}

func (w *Worker) precache(ctx context.Context) error {
	entries := make([]*respcache.Entry, 0, len(w.shell))
	for _, path := range w.shell {
		target := resolve(w.upstream, path)
		entry, err := w.fetch(ctx, http.MethodGet, target, nil, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if !entry.OK() {
			return fmt.Errorf("%s: %w: %d", path, domain.ErrUnexpectedStatus, entry.Status)
		}
		entries = append(entries, entry)
	}

	cache, err := w.caches.Cache(w.staticCache)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := cache.Put(*entry); err != nil {
			return err
		}
	}
	return nil
}

// Activate removes caches left behind by other versions and starts
// answering requests with caching policies.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateActivating); err != nil {
		return err
	}

	names, err := w.caches.Names()
	if err != nil {
		w.logger.Error("failed to list caches", "error", err)
	}
	current := map[string]bool{w.staticCache: true, w.apiCache: true}
	for _, name := range names {
		if current[name] {
			continue
		}
		if _, err := w.caches.Delete(name); err != nil {
			w.logger.Error("failed to delete stale cache", "error", err, "cache", name)
			continue
		}
		w.logger.Info("deleted stale cache", "cache", name)
	}

	return w.transition(StateActivated)
}

// SkipWaiting activates an installed worker immediately.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	switch s := w.State(); s {
	case StateInstalled:
		return w.Activate(ctx)
	case StateActivating, StateActivated:
		return nil
	default:
		return fmt.Errorf("%w: skip waiting from %s", ErrInvalidTransition, s)
	}
}

// MarkRedundant retires the worker. Requests pass straight through afterwards.
func (w *Worker) MarkRedundant() {
	if w.State() == StateRedundant {
		return
	}
	if err := w.transition(StateRedundant); err != nil {
		w.logger.Warn("failed to retire worker", "error", err)
	}
}

// HandleCommand executes a command received over the messaging channel.
func (w *Worker) HandleCommand(ctx context.Context, msg messaging.Message) error {
	switch msg.Kind {
	case messaging.KindSkipWaiting:
		return w.SkipWaiting(ctx)

	case messaging.KindCacheVideo:
		p, err := msg.CacheVideoPayload()
		if err != nil {
			return err
		}
		return w.cacheURL(ctx, p.URL, p.ID)

	case messaging.KindClearCaches:
		names, err := w.caches.Clear()
		if err != nil {
			return fmt.Errorf("failed to clear caches: %w", err)
		}
		w.logger.Info("caches cleared", "caches", names)
		w.hub.Broadcast(messaging.CachesCleared())
		return nil

	default:
		return fmt.Errorf("%w: %s", messaging.ErrUnsupportedCommand, msg.Kind)
	}
}

func (w *Worker) cacheURL(ctx context.Context, ref, id string) error {
	target := resolve(w.mediaOrigin, ref)
	entry, err := w.fetch(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return err
	}
	if !entry.OK() {
		return fmt.Errorf("%w: %d", domain.ErrUnexpectedStatus, entry.Status)
	}
	w.put(w.apiCache, entry)
	w.logger.Info("cached video on request", "id", id, "url", target)
	return nil
}

// Sync runs a tagged background sync. The featured sync refetches the
// featured route and broadcasts its outcome to every listener.
func (w *Worker) Sync(ctx context.Context, tag string) error {
	if tag != SyncTagFeatured {
		return fmt.Errorf("%w: %s", ErrUnknownSyncTag, tag)
	}

	w.hub.Broadcast(messaging.SyncStarted().WithTag(tag))
	videos, err := w.refreshFeatured(ctx)
	if err != nil {
		w.logger.Warn("background sync failed", "error", err, "tag", tag)
		w.hub.Broadcast(messaging.SyncFailed(err).WithTag(tag))
		return err
	}
	w.logger.Info("background sync finished", "tag", tag, "videos", len(videos))
	w.hub.Broadcast(messaging.SyncSucceeded(videos).WithTag(tag))
	return nil
}

func (w *Worker) refreshFeatured(ctx context.Context) ([]domain.VideoDescriptor, error) {
	entry, err := w.fetch(ctx, http.MethodGet, w.FeaturedURL(), nil, nil)
	if err != nil {
		return nil, err
	}
	if !entry.OK() {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnexpectedStatus, entry.Status)
	}
	w.put(w.apiCache, entry)

	payload, err := decodeFeatured(entry.Body)
	if err != nil {
		return nil, err
	}
	return backend.MapMedia(payload.Data, func(ref string) string {
		return resolve(w.mediaOrigin, ref)
	}), nil
}

// FeaturedURL is the upstream URL of the featured media route.
func (w *Worker) FeaturedURL() string {
	q := url.Values{}
	q.Set("featured", "true")
	q.Set("limit", strconv.Itoa(w.featuredLimit))
	q.Set("type", "videos")
	u := *w.apiOrigin
	u.Path = w.apiPath + "/media"
	u.RawQuery = q.Encode()
	return u.String()
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return base.ResolveReference(u).String()
}
