package store

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultHandlePrefix is the URL path under which playback handles are served.
const DefaultHandlePrefix = "/blob/"

// Handle kinds
const (
	KindVideo     = "video"
	KindThumbnail = "thumbnail"
)

// Blob is the payload behind a playback handle.
type Blob struct {
	OwnerID  string
	Kind     string
	MimeType string
	Data     []byte
}

// Handles is an in-process registry of playback handles. A handle is a URL
// that resolves to a payload until it is revoked. Handles are never persisted.
type Handles struct {
	prefix string

	mu     sync.RWMutex
	blobs  map[string]Blob     // url -> blob
	owners map[string][]string // owner id -> urls
}

// NewHandles creates an empty registry whose URLs start with prefix.
func NewHandles(prefix string) *Handles {
	if prefix == "" {
		prefix = DefaultHandlePrefix
	}
	return &Handles{
		prefix: prefix,
		blobs:  make(map[string]Blob),
		owners: make(map[string][]string),
	}
}

// Prefix returns the URL prefix shared by all handles.
func (h *Handles) Prefix() string {
	return h.prefix
}

// Acquire registers data and returns its handle URL. An owner holds at most
// one handle per kind; acquiring again swaps the payload and keeps the URL.
func (h *Handles) Acquire(ownerID, kind, mimeType string, data []byte) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	blob := Blob{OwnerID: ownerID, Kind: kind, MimeType: mimeType, Data: data}
	for _, u := range h.owners[ownerID] {
		if h.blobs[u].Kind == kind {
			h.blobs[u] = blob
			return u
		}
	}

	url := h.prefix + uuid.NewString()
	h.blobs[url] = blob
	h.owners[ownerID] = append(h.owners[ownerID], url)
	return url
}

// Open resolves a handle URL. Full URLs are accepted as long as their path
// carries the registry prefix.
func (h *Handles) Open(url string) (Blob, bool) {
	if i := strings.Index(url, h.prefix); i > 0 {
		url = url[i:]
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.blobs[url]
	return b, ok
}

// Revoke releases every handle owned by ownerID and returns how many were released.
func (h *Handles) Revoke(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	urls := h.owners[ownerID]
	for _, u := range urls {
		delete(h.blobs, u)
	}
	delete(h.owners, ownerID)
	return len(urls)
}

// RevokeAll releases every handle.
func (h *Handles) RevokeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.blobs)
	h.blobs = make(map[string]Blob)
	h.owners = make(map[string][]string)
	return n
}

// Len returns the number of live handles.
func (h *Handles) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.blobs)
}
