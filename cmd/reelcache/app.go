package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mmcdole/reelcache/internal/adapter"
	"github.com/mmcdole/reelcache/internal/adapter/source"
	"github.com/mmcdole/reelcache/internal/adapter/source/backend"
	"github.com/mmcdole/reelcache/internal/coordinator"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/messaging"
	"github.com/mmcdole/reelcache/internal/resolver"
	"github.com/mmcdole/reelcache/internal/store"
)

// app holds the components shared by every command that works on the
// local store.
type app struct {
	cfg      *adapter.Config
	logger   *slog.Logger
	client   *backend.Client
	store    *store.MediaStore
	resolver *resolver.Service

	closers []func()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, logger, logCloser, err := setup()
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	// The log file closes last.
	a.closers = append([]func(){func() { logCloser.Close() }}, a.closers...)
	return a, nil
}

// newApp opens the store and builds the resolver for an already loaded config.
func newApp(ctx context.Context, cfg *adapter.Config, logger *slog.Logger) (*app, error) {
	client, err := source.NewClientFromConfig(cfg, logger.With("component", "backend"))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	handles := store.NewHandles(cfg.Store.HandlePrefix)
	mediaStore := store.NewMediaStore(cfg.MediaDBPath(), client, handles, store.Options{
		MaxBytes:     cfg.Store.MaxBytes,
		MaxItems:     cfg.Store.MaxItems,
		EnforceBytes: cfg.Store.EnforceBytes,
	}, logger.With("component", "store"))
	if err := mediaStore.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open media store (is the server running?): %w", err)
	}

	res := resolver.NewService(client, mediaStore, client, resolver.Options{
		ManifestTTL:   cfg.Resolver.ManifestTTL,
		TierTimeout:   cfg.Resolver.TierTimeout,
		FeaturedLimit: cfg.Resolver.FeaturedLimit,
	}, logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		store:    mediaStore,
		resolver: res,
	}
	a.onClose(func() { mediaStore.Close() })
	a.onClose(res.Close)
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) coordinator(observer domain.SyncObserver) *coordinator.Coordinator {
	return coordinator.New(a.client, a.store, observer, coordinator.Options{
		FeaturedLimit: a.cfg.Resolver.FeaturedLimit,
		Concurrency:   a.cfg.Sync.Concurrency,
		SyncInterval:  a.cfg.Sync.Interval,
	}, a.logger)
}

func (a *app) messagingClient() *messaging.Client {
	return messaging.NewClient(a.cfg.Server.URL, a.cfg.Network.Timeout, a.logger)
}

// probeTarget is the URL connectivity checks hit.
func (a *app) probeTarget() string {
	switch {
	case a.cfg.Network.ProbeURL != "":
		return a.client.Resolve(a.cfg.Network.ProbeURL)
	case a.client.ManifestURL() != "":
		return a.client.ManifestURL()
	default:
		return a.client.APIBase()
	}
}

// remote builds a messaging client without opening the local store, for
// commands that only talk to a running server.
func remote() (*messaging.Client, *adapter.Config, io.Closer, error) {
	cfg, logger, closer, err := setup()
	if err != nil {
		return nil, nil, nil, err
	}
	return messaging.NewClient(cfg.Server.URL, cfg.Network.Timeout, logger), cfg, closer, nil
}
