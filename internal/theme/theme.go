package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the title bar.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// SelectedItemStyle highlights the focused notification.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// ListItemStyle is the base style for notifications in the list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// ReadItemStyle dims notifications already read.
var ReadItemStyle = ListItemStyle.
	Foreground(ColorGray)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// BorderStyle provides a standard rounded border for panels.
var BorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// UnreadBadgeStyle renders the unread counter.
var UnreadBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorRed).
	Padding(0, 1)

// ConnectionStyle returns a color-coded style for a push connection state
// name as produced by realtime.State.String.
func ConnectionStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch state {
	case "connected":
		return base.Foreground(ColorGreen)
	case "connecting":
		return base.Foreground(ColorYellow)
	case "suspended":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// TypeStyle returns a color for a notification type tag. Unknown tags
// render gray.
func TypeStyle(kind string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch kind {
	case "health_event", "health":
		return base.Foreground(ColorRed)
	case "milk_delivery", "milk_production":
		return base.Foreground(ColorBlue)
	case "reproduction", "calving", "heat":
		return base.Foreground(ColorMagenta)
	case "report":
		return base.Foreground(ColorGreen)
	case "alert":
		return base.Foreground(ColorOrange)
	default:
		return base.Foreground(ColorGray)
	}
}
