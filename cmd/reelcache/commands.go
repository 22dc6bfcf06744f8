package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/messaging"
	"github.com/mmcdole/reelcache/internal/respcache"
	"github.com/mmcdole/reelcache/internal/tui/styles"
	"github.com/spf13/cobra"
)

func resolveCommand() *cobra.Command {
	var (
		refresh      bool
		availability bool
		validate     bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the current featured list and the tier that produced it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if refresh {
				a.resolver.RefreshManifest()
			}
			out := cmd.OutOrStdout()

			switch {
			case availability:
				status := a.resolver.AvailabilityStatus(ctx)
				if jsonOutput() {
					return writeJSON(out, status)
				}
				fmt.Fprintf(out, "%s static  %s cache  %s api  (%d videos)\n",
					mark(status.Static), mark(status.Cache), mark(status.API), status.Total)
				return nil

			case validate:
				report := a.resolver.ValidateStaticVideos(ctx)
				if jsonOutput() {
					return writeJSON(out, report)
				}
				for _, id := range report.Valid {
					fmt.Fprintf(out, "%s %s\n", mark(true), id)
				}
				for _, id := range report.Missing {
					fmt.Fprintf(out, "%s %s\n", mark(false), id)
				}
				if len(report.Missing) > 0 {
					return fmt.Errorf("%d static videos missing", len(report.Missing))
				}
				return nil
			}

			videos := a.resolver.Resolve(ctx)
			if jsonOutput() {
				return writeJSON(out, videos)
			}
			fmt.Fprintln(out, videoTable(videos))
			fmt.Fprintf(out, "%s %s\n", styles.DimStyle.Render("offline ready:"), mark(a.resolver.IsOfflineReady(ctx)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "discard the cached manifest first")
	cmd.Flags().BoolVar(&availability, "availability", false, "probe every tier instead of resolving")
	cmd.Flags().BoolVar(&validate, "validate", false, "check that every manifest entry's static file answers")
	cmd.MarkFlagsMutuallyExclusive("availability", "validate")
	return cmd
}

func searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy-search the featured list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.resolver.Search(ctx, args[0])
			videos := make([]domain.VideoDescriptor, 0, len(results))
			for _, r := range results {
				videos = append(videos, r.Video)
			}
			out := cmd.OutOrStdout()
			if jsonOutput() {
				return writeJSON(out, videos)
			}
			if len(videos) == 0 {
				fmt.Fprintln(out, styles.DimStyle.Render("No matches"))
				return nil
			}
			fmt.Fprintln(out, videoTable(videos))
			return nil
		},
	}
}

func syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirror the featured set into the local store once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var observer domain.SyncObserver = domain.NoOpObserver{}
			if !jsonOutput() {
				observer = progressPrinter{w: cmd.ErrOrStderr()}
			}
			coord := a.coordinator(observer)
			defer coord.Close()

			result := coord.SyncFeaturedVideos(ctx)
			out := cmd.OutOrStdout()
			if jsonOutput() {
				payload := map[string]any{
					"fetched": result.Fetched,
					"cached":  result.Cached,
					"skipped": result.Skipped,
					"failed":  result.Failed,
					"removed": result.Removed,
				}
				if result.Err != nil {
					payload["error"] = result.Err.Error()
				}
				if err := writeJSON(out, payload); err != nil {
					return err
				}
				return result.Err
			}
			if result.Err != nil {
				return fmt.Errorf("sync failed, cached videos kept: %w", result.Err)
			}
			fmt.Fprintf(out, "%s fetched %d, cached %d, already stored %d, failed %d, removed %d\n",
				mark(result.Failed == 0), result.Fetched, result.Cached, result.Skipped, result.Failed, len(result.Removed))
			printStats(out, a.store.CacheStats(ctx))
			return nil
		},
	}
}

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show local store usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stats := a.store.CacheStats(ctx)
			out := cmd.OutOrStdout()
			if jsonOutput() {
				return writeJSON(out, stats)
			}
			printStats(out, stats)
			for _, m := range a.store.CachedVideos(ctx) {
				fmt.Fprintf(out, "  %s %s %s\n", styles.AccentStyle.Render(m.ID), m.Title,
					styles.DimStyle.Render(m.LastAccessed.Local().Format("2006-01-02 15:04")))
			}
			return nil
		},
	}
}

func clearCommand() *cobra.Command {
	var responses bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every video from the local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.store.ClearCache(ctx) {
				return errors.New("failed to clear the media store")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s media store cleared\n", mark(true))

			if !responses {
				return nil
			}
			caches, err := respcache.Open(a.cfg.ResponsesDBPath(), a.logger.With("component", "respcache"))
			if err != nil {
				return fmt.Errorf("failed to open response caches (is the server running?): %w", err)
			}
			defer caches.Close()
			names, err := caches.Clear()
			if err != nil {
				return fmt.Errorf("failed to clear response caches: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed %d response caches\n", mark(true), len(names))
			return nil
		},
	}
	cmd.Flags().BoolVar(&responses, "responses", false, "also drop the proxy's response caches")
	return cmd
}

func sendCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "send <skip-waiting|cache-video|clear-caches> [url] [id]",
		Short:     "Send a command to the running proxy",
		Args:      cobra.RangeArgs(1, 3),
		ValidArgs: []string{string(messaging.KindSkipWaiting), string(messaging.KindCacheVideo), string(messaging.KindClearCaches)},
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := commandMessage(args)
			if err != nil {
				return err
			}
			client, _, closer, err := remote()
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := client.Send(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s accepted\n", mark(true), msg.Kind)
			return nil
		},
	}
}

// commandMessage builds the command envelope named by args.
func commandMessage(args []string) (messaging.Message, error) {
	switch kind := messaging.Kind(args[0]); kind {
	case messaging.KindSkipWaiting:
		return messaging.SkipWaiting(), nil
	case messaging.KindClearCaches:
		return messaging.ClearCaches(), nil
	case messaging.KindCacheVideo:
		if len(args) < 2 {
			return messaging.Message{}, errors.New("cache-video needs a url")
		}
		id := ""
		if len(args) > 2 {
			id = args[2]
		}
		return messaging.CacheVideo(args[1], id), nil
	default:
		if kind.Valid() {
			return messaging.Message{}, fmt.Errorf("%s is a notification, not a command", kind)
		}
		return messaging.Message{}, fmt.Errorf("%w: %s", messaging.ErrUnknownKind, kind)
	}
}

// withStatus fetches the running proxy's snapshot, if any.
func withStatus(ctx context.Context, client *messaging.Client) (domain.Status, bool) {
	status, err := client.Status(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, styles.DimStyle.Render("proxy not reachable, using the local store"))
		}
		return domain.Status{}, false
	}
	return status, true
}
