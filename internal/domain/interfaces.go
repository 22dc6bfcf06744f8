package domain

import "context"

// MediaStore is the local persistent store of cached videos.
// Every method converts failures into a false/empty result.
type MediaStore interface {
	CacheVideo(ctx context.Context, desc VideoDescriptor) bool
	CachedVideos(ctx context.Context) []CachedMedia
	CachedVideo(ctx context.Context, id string) (CachedMedia, bool)
	IsVideoCached(ctx context.Context, id string) bool
	RemoveCachedVideo(ctx context.Context, id string) bool
	CachedIDs(ctx context.Context) []string
	FeaturedCount(ctx context.Context) int
	CacheStats(ctx context.Context) CacheStats
	ClearCache(ctx context.Context) bool
}

// FeaturedSource returns the authoritative featured set from the network API.
type FeaturedSource interface {
	FeaturedVideos(ctx context.Context, limit int) ([]VideoDescriptor, error)
}

// ManifestSource fetches and probes the static manifest document.
type ManifestSource interface {
	FetchManifest(ctx context.Context) (*Manifest, error)
	ProbeManifest(ctx context.Context) error
	ProbeURL(ctx context.Context, rawURL string) error
}

// PayloadFetcher downloads binary payloads. It returns the body and its content type.
type PayloadFetcher interface {
	FetchPayload(ctx context.Context, rawURL string) ([]byte, string, error)
}

// ViewRecorder increments the view count of a video on the backend.
type ViewRecorder interface {
	IncrementViews(ctx context.Context, id string) error
}
