package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all key bindings for the monitor
type KeyMap struct {
	// Navigation
	Up   key.Binding
	Down key.Binding

	// Actions
	Quit        key.Binding
	Refresh     key.Binding
	CacheVideo  key.Binding
	ClearCaches key.Binding
	SkipWaiting key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		CacheVideo: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "cache video"),
		),
		ClearCaches: key.NewBinding(
			key.WithKeys("X"),
			key.WithHelp("X", "clear caches"),
		),
		SkipWaiting: key.NewBinding(
			key.WithKeys("w"),
			key.WithHelp("w", "skip waiting"),
		),
	}
}

// ShortHelp returns the bindings shown in the footer
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.CacheVideo, k.Refresh, k.SkipWaiting, k.ClearCaches, k.Quit}
}
