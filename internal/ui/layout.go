package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/theme"
)

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// ConnectionLabel maps a connection state name to the text shown in the
// header.
func ConnectionLabel(state string) string {
	switch state {
	case "connected":
		return "● live"
	case "connecting":
		return "◌ connecting"
	case "suspended":
		return "✕ auth suspended"
	default:
		return "○ offline"
	}
}

// RenderHeader renders the top bar: the title with the unread badge on the
// left and the connection indicator on the right.
func (l Layout) RenderHeader(title string, unread int, state string) string {
	left := theme.HeaderStyle.Render(title)
	if unread > 0 {
		left = lipgloss.JoinHorizontal(
			lipgloss.Top,
			left,
			theme.UnreadBadgeStyle.Render(fmt.Sprintf("%d", unread)),
		)
	}

	statusRendered := theme.ConnectionStyle(state).
		Background(theme.HeaderStyle.GetBackground()).
		Render(ConnectionLabel(state))

	gap := l.Width -
		lipgloss.Width(left) -
		lipgloss.Width(statusRendered)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(theme.HeaderStyle.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		left,
		filler,
		statusRendered,
	)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)

	gap := l.Width - lipgloss.Width(rendered)
	if gap < 0 {
		gap = 0
	}

	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(
	header string,
	content string,
	statusBar string,
) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}
