package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/messaging"
)

const (
	requestTimeout  = 10 * time.Second
	refreshInterval = 15 * time.Second
)

// Source is the running proxy the monitor observes.
type Source interface {
	Status(ctx context.Context) (domain.Status, error)
	Send(ctx context.Context, cmd messaging.Message) error
}

// Command factories for async operations

// LoadStatusCmd fetches a fresh snapshot
func LoadStatusCmd(src Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		status, err := src.Status(ctx)
		if err != nil {
			return ErrMsg{Err: err, Context: "loading status"}
		}
		return StatusLoadedMsg{Status: status}
	}
}

// SendCmd posts a command to the proxy
func SendCmd(src Source, cmd messaging.Message) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if err := src.Send(ctx, cmd); err != nil {
			return ErrMsg{Err: err, Context: string(cmd.Kind)}
		}
		return CommandSentMsg{Kind: cmd.Kind}
	}
}

// WaitForEventCmd blocks until the next message arrives on ch
func WaitForEventCmd(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return StreamClosedMsg{}
		}
		return msg
	}
}

func refreshTickCmd(delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}
