package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmcdole/reelcache/internal/adapter"
	"github.com/mmcdole/reelcache/internal/adapter/source"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/messaging"
	"github.com/mmcdole/reelcache/internal/telemetry"
	"github.com/spf13/cobra"
)

const (
	flushTimeout = 5 * time.Second

	// Players open the file after launch returns, so playback files are
	// swept by a later run rather than removed here.
	playbackFileAge     = 24 * time.Hour
	playbackFilePattern = "reelcache-play-*"
)

func playCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "play [id]",
		Short: "Open a featured video in an external player",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 0 {
				id = args[0]
			}
			ctx := cmd.Context()

			client, cfg, closer, err := remote()
			if err != nil {
				return err
			}
			defer closer.Close()
			logger := slog.Default()

			if n := sweepPlaybackFiles(os.TempDir(), playbackFileAge, time.Now()); n > 0 {
				logger.Debug("removed stale playback files", "count", n)
			}

			video, target, cleanup, err := playbackTarget(ctx, cfg, client, id)
			if err != nil {
				return err
			}

			launcher := adapter.NewLauncher(cfg.Player.Command, cfg.Player.Args, logger)
			if err := launcher.Launch(target); err != nil {
				cleanup()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s playing %s\n", mark(true), video.Title)

			if !cfg.Telemetry.Enabled {
				return nil
			}
			backend, err := source.NewClientFromConfig(cfg, logger.With("component", "backend"))
			if err != nil {
				return err
			}
			tracker := telemetry.NewTracker(backend, telemetry.Options{
				Rate:      cfg.Telemetry.Rate,
				QueueSize: cfg.Telemetry.QueueSize,
				Timeout:   cfg.Network.Timeout,
			}, logger)
			tracker.Start(ctx)
			defer tracker.Close()

			if err := tracker.RecordView(video.ID); err != nil {
				logger.Warn("view not recorded", "id", video.ID, "error", err)
				return nil
			}
			flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
			defer cancel()
			if err := tracker.Flush(flushCtx); err != nil {
				logger.Warn("view delivery still pending", "id", video.ID, "error", err)
			}
			return nil
		},
	}
}

// playbackTarget picks the video and the URL a player can open. A running
// proxy is preferred so playback goes through its caches; otherwise the
// local store and resolver are used directly. The returned cleanup removes
// any file written for the player.
func playbackTarget(ctx context.Context, cfg *adapter.Config, client *messaging.Client, id string) (domain.VideoDescriptor, string, func(), error) {
	noop := func() {}
	if status, ok := withStatus(ctx, client); ok {
		video, err := pick(status.Featured, id)
		if err != nil {
			return video, "", noop, err
		}
		return video, absolute(cfg.Server.URL, video.PlaybackURL()), noop, nil
	}

	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return domain.VideoDescriptor{}, "", noop, err
	}
	defer a.Close()

	video, err := pick(a.resolver.Resolve(ctx), id)
	if err != nil {
		return video, "", noop, err
	}
	if video.Source != domain.TierCache {
		return video, a.client.Resolve(video.PlaybackURL()), noop, nil
	}

	// Store handles die with this process, so hand the player a file.
	media, found := a.store.CachedVideo(ctx, video.ID)
	if !found {
		return video, "", noop, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, video.ID)
	}
	path, err := writeTemp(os.TempDir(), media)
	if err != nil {
		return video, "", noop, err
	}
	return video, path, func() { os.Remove(path) }, nil
}

func pick(videos []domain.VideoDescriptor, id string) (domain.VideoDescriptor, error) {
	if id == "" && len(videos) > 0 {
		return videos[0], nil
	}
	for _, v := range videos {
		if v.ID == id {
			return v, nil
		}
	}
	return domain.VideoDescriptor{}, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
}

func absolute(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
}

func writeTemp(dir string, media domain.CachedMedia) (string, error) {
	ext := ".mp4"
	if strings.Contains(media.MimeType, "webm") {
		ext = ".webm"
	}
	f, err := os.CreateTemp(dir, playbackFilePattern+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create playback file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(media.Video); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write playback file: %w", err)
	}
	return filepath.Clean(f.Name()), nil
}

// sweepPlaybackFiles removes playback files in dir last written before
// now-maxAge and reports how many it removed.
func sweepPlaybackFiles(dir string, maxAge time.Duration, now time.Time) int {
	matches, err := filepath.Glob(filepath.Join(dir, playbackFilePattern))
	if err != nil {
		return 0
	}
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if os.Remove(path) == nil {
			removed++
		}
	}
	return removed
}
