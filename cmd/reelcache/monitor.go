package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/reelcache/internal/tui"
	"github.com/spf13/cobra"
)

const eventBuffer = 64

func monitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Watch a running proxy in a terminal dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !isTerminal(os.Stdout) {
				return errors.New("monitor needs a terminal")
			}
			client, cfg, closer, err := remote()
			if err != nil {
				return err
			}
			defer closer.Close()
			logger := slog.Default()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			events := make(chan tea.Msg, eventBuffer)
			observer := tui.NewChannelObserver(events)
			go func() {
				defer close(events)
				if err := client.Listen(ctx, observer.OnMessage); err != nil {
					logger.Warn("event stream ended", "error", err)
				}
			}()

			logger.Info("starting monitor", "server", cfg.Server.URL)
			p := tea.NewProgram(
				tui.NewModel(client, events),
				tea.WithAltScreen(),
				tea.WithContext(ctx),
			)
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				logger.Error("TUI error", "error", err)
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}
}
