package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/mmcdole/reelcache/internal/adapter/source/backend"
	"github.com/mmcdole/reelcache/internal/respcache"
)

// CacheStatusHeader tells the caller how a response was produced.
const CacheStatusHeader = "X-Reel-Cache"

const (
	statusNetwork   = "network"
	statusHit       = "hit"
	statusFallback  = "fallback"
	statusSynthetic = "synthetic"
	statusBypass    = "bypass"
)

const maxBodyBytes = 1 << 30

// emptyFeatured is returned when the featured route has neither network nor cache.
var emptyFeatured = []byte(`{"success":true,"data":[]}`)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="320" height="180" viewBox="0 0 320 180">` +
	`<rect width="320" height="180" fill="#e5e7eb"/>` +
	`<path d="M140 60v60l50-30z" fill="#9ca3af"/>` +
	`</svg>`

var mediaPrefixes = []string{"/videos/", "/thumbnails/", "/uploads/"}

var videoExts = map[string]bool{".mp4": true, ".webm": true, ".mov": true, ".m4v": true, ".ogv": true}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true}

var forwardHeaders = []string{
	"Accept",
	"Accept-Language",
	"Authorization",
	"Content-Type",
	"Cookie",
	"User-Agent",
}

var hopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Content-Length":    true,
	"Upgrade":           true,
}

func isMediaPath(p string) bool {
	for _, prefix := range mediaPrefixes {
		if strings.Contains(p, prefix) {
			return true
		}
	}
	return videoExts[strings.ToLower(path.Ext(p))]
}

func isThumbnailPath(p string) bool {
	return strings.Contains(p, "/thumbnails/") || imageExts[strings.ToLower(path.Ext(p))]
}

func isNavigation(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "navigate" ||
		strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (w *Worker) isFeatured(r *http.Request) bool {
	return r.Method == http.MethodGet &&
		r.URL.Path == w.apiPath+"/media" &&
		r.URL.Query().Get("featured") == "true"
}

func (w *Worker) isAPI(p string) bool {
	if w.apiPath == "" {
		return p == "/media"
	}
	return p == w.apiPath || strings.HasPrefix(p, w.apiPath+"/")
}

// target maps a proxied request onto the upstream that serves it.
func (w *Worker) target(r *http.Request) string {
	base := w.upstream
	switch {
	case w.isAPI(r.URL.Path):
		base = w.apiOrigin
	case isMediaPath(r.URL.Path):
		base = w.mediaOrigin
	}
	u := *base
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery
	return u.String()
}

func (w *Worker) dispatch(rw http.ResponseWriter, r *http.Request) {
	if !w.Controlling() || r.Method != http.MethodGet {
		w.passThrough(rw, r)
		return
	}

	target := w.target(r)
	switch {
	case w.isFeatured(r):
		w.serveFeatured(rw, r, target)
	case isMediaPath(r.URL.Path):
		w.serveMedia(rw, r, target)
	case isNavigation(r):
		w.serveNavigation(rw, r, target)
	default:
		w.serveStatic(rw, r, target)
	}
}

// serveFeatured is network-first with write-through; it never fails.
func (w *Worker) serveFeatured(rw http.ResponseWriter, r *http.Request, target string) {
	entry, err := w.fetch(r.Context(), http.MethodGet, target, r.Header, nil)
	if err == nil && entry.OK() {
		w.put(w.apiCache, entry)
		respond(rw, entry, statusNetwork)
		return
	}
	if err == nil {
		w.logger.Warn("featured route returned error status", "status", entry.Status, "url", target)
	}

	if cached, ok := w.match(w.apiCache, target); ok {
		respond(rw, cached, statusFallback)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set(CacheStatusHeader, statusSynthetic)
	rw.WriteHeader(http.StatusOK)
	rw.Write(emptyFeatured)
}

// serveMedia is cache-first. Total failure yields a placeholder for
// thumbnails and a 404 for video.
func (w *Worker) serveMedia(rw http.ResponseWriter, r *http.Request, target string) {
	if cached, ok := w.caches.Match(http.MethodGet, target); ok {
		serveContent(rw, r, cached, statusHit)
		return
	}

	entry, err := w.fetch(r.Context(), http.MethodGet, target, r.Header, nil)
	if err == nil && entry.OK() {
		w.put(w.apiCache, entry)
		serveContent(rw, r, entry, statusNetwork)
		return
	}
	if err != nil {
		w.logger.Debug("media fetch failed", "error", err, "url", target)
	}

	rw.Header().Set(CacheStatusHeader, statusSynthetic)
	if isThumbnailPath(r.URL.Path) {
		rw.Header().Set("Content-Type", "image/svg+xml")
		rw.WriteHeader(http.StatusOK)
		io.WriteString(rw, placeholderSVG)
		return
	}
	http.NotFound(rw, r)
}

// serveNavigation is network-first so an online user always sees the
// latest shell. Offline it falls back to the cached page, then the cached root.
func (w *Worker) serveNavigation(rw http.ResponseWriter, r *http.Request, target string) {
	entry, err := w.fetch(r.Context(), http.MethodGet, target, r.Header, nil)
	if err == nil {
		if entry.OK() {
			w.put(w.staticCache, entry)
		}
		respond(rw, entry, statusNetwork)
		return
	}

	if cached, ok := w.caches.Match(http.MethodGet, target); ok {
		respond(rw, cached, statusFallback)
		return
	}
	if cached, ok := w.caches.Match(http.MethodGet, resolve(w.upstream, "/")); ok {
		respond(rw, cached, statusFallback)
		return
	}

	w.logger.Warn("navigation failed with no cached shell", "error", err, "url", target)
	http.Error(rw, "offline", http.StatusServiceUnavailable)
}

// serveStatic is cache-first with network fallback.
func (w *Worker) serveStatic(rw http.ResponseWriter, r *http.Request, target string) {
	if cached, ok := w.caches.Match(http.MethodGet, target); ok {
		respond(rw, cached, statusHit)
		return
	}

	entry, err := w.fetch(r.Context(), http.MethodGet, target, r.Header, nil)
	if err != nil {
		w.logger.Debug("static fetch failed", "error", err, "url", target)
		http.Error(rw, "upstream unavailable", http.StatusBadGateway)
		return
	}
	if entry.OK() {
		w.put(w.staticCache, entry)
	}
	respond(rw, entry, statusNetwork)
}

// passThrough forwards the request without touching any cache.
func (w *Worker) passThrough(rw http.ResponseWriter, r *http.Request) {
	var body io.Reader
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(rw, "failed to read body", http.StatusBadRequest)
			return
		}
		body = bytes.NewReader(data)
	}

	entry, err := w.fetch(r.Context(), r.Method, w.target(r), r.Header, body)
	if err != nil {
		w.logger.Debug("pass-through failed", "error", err, "url", r.URL.String())
		http.Error(rw, "upstream unavailable", http.StatusBadGateway)
		return
	}
	respond(rw, entry, statusBypass)
}

// fetch performs one upstream attempt bounded by the worker timeout and
// buffers the whole response.
func (w *Worker) fetch(ctx context.Context, method, target string, header http.Header, body io.Reader) (*respcache.Entry, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req := w.http.R().
		SetContext(attemptCtx).
		SetDoNotParseResponse(true).
		SetHeader("Accept-Encoding", "identity")
	for _, name := range forwardHeaders {
		if v := header.Get(name); v != "" {
			req.SetHeader(name, v)
		}
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.RawResponse.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.RawResponse.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	h := make(http.Header, len(resp.RawResponse.Header))
	for k, vs := range resp.RawResponse.Header {
		if hopHeaders[k] {
			continue
		}
		h[k] = append([]string(nil), vs...)
	}
	return &respcache.Entry{
		Method: method,
		URL:    target,
		Status: resp.RawResponse.StatusCode,
		Header: h,
		Body:   data,
	}, nil
}

func (w *Worker) put(cacheName string, entry *respcache.Entry) {
	cache, err := w.caches.Cache(cacheName)
	if err == nil {
		err = cache.Put(*entry)
	}
	if err != nil {
		w.logger.Error("failed to write cache entry", "error", err, "cache", cacheName, "url", entry.URL)
	}
}

func (w *Worker) match(cacheName, target string) (*respcache.Entry, bool) {
	if !w.caches.Has(cacheName) {
		return nil, false
	}
	cache, err := w.caches.Cache(cacheName)
	if err != nil {
		return nil, false
	}
	return cache.Match(http.MethodGet, target)
}

func respond(rw http.ResponseWriter, entry *respcache.Entry, status string) {
	rw.Header().Set(CacheStatusHeader, status)
	entry.Write(rw)
}

// serveContent replays a media entry with range support.
func serveContent(rw http.ResponseWriter, r *http.Request, entry *respcache.Entry, status string) {
	h := rw.Header()
	for k, vs := range entry.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set(CacheStatusHeader, status)
	http.ServeContent(rw, r, "", time.Time{}, bytes.NewReader(entry.Body))
}

func (w *Worker) serveBlob(rw http.ResponseWriter, r *http.Request) {
	blob, ok := w.handles.Open(r.URL.Path)
	if !ok {
		http.NotFound(rw, r)
		return
	}
	if blob.MimeType != "" {
		rw.Header().Set("Content-Type", blob.MimeType)
	}
	http.ServeContent(rw, r, "", time.Time{}, bytes.NewReader(blob.Data))
}

func decodeFeatured(body []byte) (*backend.FeaturedResponse, error) {
	var payload backend.FeaturedResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse featured response: %w", err)
	}
	if !payload.Success {
		return nil, fmt.Errorf("api reported failure: %s", payload.Error)
	}
	return &payload, nil
}
