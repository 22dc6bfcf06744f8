package source

import (
	"fmt"
	"log/slog"

	"github.com/mmcdole/reelcache/internal/adapter"
	"github.com/mmcdole/reelcache/internal/adapter/source/backend"
	"github.com/mmcdole/reelcache/internal/domain"
)

// MediaBackend combines every interface the media backend must implement.
type MediaBackend interface {
	domain.FeaturedSource // FeaturedVideos
	domain.ManifestSource // FetchManifest, ProbeManifest, ProbeURL
	domain.PayloadFetcher // FetchPayload
	domain.ViewRecorder   // IncrementViews
}

var _ MediaBackend = (*backend.Client)(nil)

// NewClientFromConfig creates the backend client from the application config.
func NewClientFromConfig(cfg *adapter.Config, logger *slog.Logger) (*backend.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.API.Base == "" {
		return nil, fmt.Errorf("api base URL is required")
	}

	maxRetries := cfg.API.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1 // explicit zero disables retries
	}
	return backend.NewClient(backend.Options{
		APIBase:     cfg.API.Base,
		ManifestURL: cfg.API.ManifestURL,
		Timeout:     cfg.Network.Timeout,
		MaxRetries:  maxRetries,
		RetryDelay:  cfg.API.RetryDelay,
	}, logger)
}
