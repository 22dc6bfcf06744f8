package tui

import (
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/messaging"
)

// Message types for the TUI

// ErrMsg represents an error
type ErrMsg struct {
	Err     error
	Context string
}

// Error implements the error interface
func (e ErrMsg) Error() string {
	if e.Context != "" {
		return e.Context + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// StatusLoadedMsg carries a fresh proxy snapshot
type StatusLoadedMsg struct {
	Status domain.Status
}

// EventMsg carries a notification received from the proxy
type EventMsg struct {
	Message messaging.Message
}

// SyncProgressMsg carries progress from a sync running in this process
type SyncProgressMsg struct {
	Progress domain.SyncProgress
}

// StreamClosedMsg signals that the event channel was closed
type StreamClosedMsg struct{}

// CommandSentMsg signals that a command was accepted by the proxy
type CommandSentMsg struct {
	Kind messaging.Kind
}

// refreshTickMsg triggers the periodic status refresh
type refreshTickMsg struct{}
