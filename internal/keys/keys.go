package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the application.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Notification actions
	MarkRead    key.Binding
	MarkAllRead key.Binding

	// Manual refresh
	Refresh key.Binding

	// Reconnect the push socket after a suspension or a disconnect.
	Reconnect key.Binding

	// Help toggle
	Help key.Binding

	// Drop the stored credential.
	Logout key.Binding

	// Back / Quit
	Back key.Binding
	Quit key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		MarkRead: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "mark read"),
		),
		MarkAllRead: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "mark all read"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "reconnect"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Logout: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "log out"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.MarkRead, k.MarkAllRead,
		k.Quit, k.Help,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Back, k.Quit},
		{k.MarkRead, k.MarkAllRead},
		{k.Refresh, k.Reconnect, k.Logout, k.Help},
	}
}
