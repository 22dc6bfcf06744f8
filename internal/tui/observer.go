package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/messaging"
)

// ChannelObserver adapts sync progress and proxy notifications to a channel for Bubble Tea.
type ChannelObserver struct {
	ch chan<- tea.Msg
}

// NewChannelObserver creates a new channel-based observer.
func NewChannelObserver(ch chan<- tea.Msg) *ChannelObserver {
	return &ChannelObserver{ch: ch}
}

// OnProgress sends progress to the channel (non-blocking if full).
func (o *ChannelObserver) OnProgress(progress domain.SyncProgress) {
	o.send(SyncProgressMsg{Progress: progress})
}

// OnMessage forwards a proxy notification; it matches messaging.Client.Listen.
func (o *ChannelObserver) OnMessage(msg messaging.Message) {
	o.send(EventMsg{Message: msg})
}

func (o *ChannelObserver) send(msg tea.Msg) {
	select {
	case o.ch <- msg:
	default: // Non-blocking if channel full
	}
}
