package notifylist

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/keys"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/theme"
)

// MarkReadMsg asks for the given notifications to be marked read.
type MarkReadMsg struct {
	IDs []string
}

// MarkAllReadMsg asks for every notification to be marked read.
type MarkAllReadMsg struct{}

// Model is the notification list view.
type Model struct {
	list   list.Model
	keys   *keys.KeyMap
	width  int
	height int
}

// New creates an empty list view.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Notifications"
	l.SetShowTitle(false)
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("notification", "notifications")

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// SetPage replaces the items shown, keeping the cursor on the same
// notification when it is still present.
func (m *Model) SetPage(page model.NotificationPage) tea.Cmd {
	selected := m.SelectedID()

	items := make([]list.Item, len(page.Notifications))
	cursor := 0
	for i, n := range page.Notifications {
		items[i] = Item{Notification: n}
		if n.ID == selected {
			cursor = i
		}
	}
	cmd := m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(cursor)
	}
	return cmd
}

// SelectedID returns the id under the cursor, or "".
func (m Model) SelectedID() string {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return ""
	}
	return it.Notification.ID
}

// Len returns the number of items shown.
func (m Model) Len() int { return len(m.list.Items()) }

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.MarkRead):
			it, ok := m.list.SelectedItem().(Item)
			if !ok || it.Notification.Read {
				return m, nil
			}
			id := it.Notification.ID
			return m, func() tea.Msg { return MarkReadMsg{IDs: []string{id}} }

		case key.Matches(msg, m.keys.MarkAllRead):
			if m.Len() == 0 {
				return m, nil
			}
			return m, func() tea.Msg { return MarkAllReadMsg{} }
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the list, or a placeholder when it is empty.
func (m Model) View() string {
	if m.Len() == 0 {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notifications.\n\nNew ones appear here as they arrive.")
	}
	return m.list.View()
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
