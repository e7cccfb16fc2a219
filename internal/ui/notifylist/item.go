package notifylist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/theme"
)

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title }

// Title returns the notification title.
func (i Item) Title() string { return i.Notification.Title }

// Description returns a short summary line.
func (i Item) Description() string {
	parts := []string{i.Notification.Type, relativeTime(i.Notification.CreatedAt)}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for notification rows.
type ItemDelegate struct {
	// now is the clock used for relative times.
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 2 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws one notification: a title line and a message line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	n := it.Notification
	isSelected := index == m.Index()

	marker := "●"
	if n.Read {
		marker = " "
	}

	kind := n.Type
	if kind == "" {
		kind = "notice"
	}
	typeBadge := theme.TypeStyle(n.Type).Render("[" + kind + "]")

	now := time.Now
	if d.now != nil {
		now = d.now
	}
	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTimeFrom(n.CreatedAt, now()))

	title := n.Title
	if title == "" {
		title = "(untitled)"
	}

	first := fmt.Sprintf("%s %s %s  %s", marker, typeBadge, title, timeStr)
	second := "  " + truncate(n.Message, m.Width()-6)

	var style lipgloss.Style
	switch {
	case isSelected:
		style = theme.SelectedItemStyle
	case n.Read:
		style = theme.ReadItemStyle
	default:
		style = theme.ListItemStyle
	}

	fmt.Fprint(w, style.Render(first+"\n"+second))
}

// truncate cuts s to width runes, adding an ellipsis when it was longer.
func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if width <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	return relativeTimeFrom(t, time.Now())
}

func relativeTimeFrom(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
