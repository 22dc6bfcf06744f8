package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mmcdole/reelcache/internal/coordinator"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/intercept"
	"github.com/mmcdole/reelcache/internal/messaging"
	"github.com/mmcdole/reelcache/internal/respcache"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func serveCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching proxy with background sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "override server.listen")
	return cmd
}

func runServe(ctx context.Context, listen string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger
	if listen == "" {
		listen = cfg.Server.Listen
	}

	caches, err := respcache.Open(cfg.ResponsesDBPath(), logger.With("component", "respcache"))
	if err != nil {
		return fmt.Errorf("failed to open response caches: %w", err)
	}
	a.onClose(func() { caches.Close() })

	hub := messaging.NewHub(logger)
	a.onClose(hub.Close)

	worker, err := intercept.NewWorker(intercept.Config{
		Upstream:      cfg.Proxy.Upstream,
		APIBase:       cfg.API.Base,
		MediaOrigin:   cfg.Proxy.MediaOrigin,
		CacheVersion:  cfg.Proxy.CacheVersion,
		Shell:         cfg.Proxy.Shell,
		FeaturedLimit: cfg.Resolver.FeaturedLimit,
		Timeout:       cfg.Network.Timeout,
	}, caches, a.store.Handles(), hub, logger)
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}
	a.onClose(worker.MarkRedundant)

	if err := worker.Install(ctx); err != nil {
		return fmt.Errorf("install failed: %w", err)
	}
	if cfg.Proxy.SkipWaiting {
		if err := worker.SkipWaiting(ctx); err != nil {
			return fmt.Errorf("activation failed: %w", err)
		}
	}

	// Store syncs reach every hub listener and invalidate the status snapshot.
	featured := newFeaturedSnapshot(a.resolver, cfg.Resolver.ManifestTTL, hub)
	coord := a.coordinator(featured)
	a.onClose(coord.Close)
	coord.Watch(coordinator.NewTicker("resolver-refresh", cfg.Resolver.RefreshInterval, func(ctx context.Context) {
		a.resolver.RefreshManifest()
		snap := featured.Refresh(ctx)
		logger.Debug("featured list refreshed", "count", len(snap.Featured), "available", snap.Availability.Total)
	}, logger))
	coord.Start(ctx, false)

	a.resolver.Start()

	conn := coordinator.NewConnectivity(a.client, a.probeTarget(), cfg.Network.ProbeInterval, cfg.Network.Timeout, func(online bool) {
		coord.SetOnline(online)
		if online && cfg.Proxy.BackgroundTag != "" {
			go func() {
				if err := worker.Sync(ctx, cfg.Proxy.BackgroundTag); err != nil {
					logger.Debug("background sync did not complete", "error", err)
				}
			}()
		}
	}, logger)
	go conn.Run(ctx)

	router := chi.NewRouter()
	router.Get(messaging.StatusPath, messaging.NewStatusEndpoint(func(ctx context.Context) domain.Status {
		names, err := caches.Names()
		if err != nil {
			logger.Warn("failed to list caches", "error", err)
		}
		snap := featured.Get(ctx)
		return domain.Status{
			Lifecycle:    worker.State().String(),
			Online:       coord.Online(),
			Featured:     snap.Featured,
			Availability: snap.Availability,
			Stats:        a.store.CacheStats(ctx),
			Caches:       names,
		}
	}).ServeHTTP)
	router.Handle("/*", worker)

	server := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("proxy listening", "addr", listen, "upstream", cfg.Proxy.Upstream, "version", Version)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Event streams stay open until the hub closes.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
	}
	return nil
}
