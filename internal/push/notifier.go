package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/theme"
)

// Notifier surfaces one notification to the user outside the list view.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
	Name() string
}

// CommandNotifier runs a desktop notification command (for example
// notify-send or terminal-notifier) with the title and message appended
// as the last two arguments.
type CommandNotifier struct {
	command string
	args    []string
}

// NewCommandNotifier parses command into a program and leading arguments.
func NewCommandNotifier(command string) (*CommandNotifier, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("empty notify command")
	}
	return &CommandNotifier{command: fields[0], args: fields[1:]}, nil
}

func (c *CommandNotifier) Name() string { return "command:" + c.command }

// Notify runs the command and waits for it to exit.
func (c *CommandNotifier) Notify(ctx context.Context, n model.Notification) error {
	args := append(append([]string(nil), c.args...), titleOf(n), n.Message)
	out, err := exec.CommandContext(ctx, c.command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s: %w: %s", c.command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// TerminalNotifier prints a styled line per notification.
type TerminalNotifier struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewTerminalNotifier writes to out.
func NewTerminalNotifier(out io.Writer) *TerminalNotifier {
	return &TerminalNotifier{out: out, now: time.Now}
}

func (t *TerminalNotifier) Name() string { return "terminal" }

// Notify writes "HH:MM [type] title: message".
func (t *TerminalNotifier) Notify(_ context.Context, n model.Notification) error {
	stamp := n.CreatedAt
	if stamp.IsZero() {
		stamp = t.now()
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(theme.ColorGray).Render(stamp.Local().Format("15:04")))
	b.WriteString(" ")
	if n.Type != "" {
		b.WriteString(theme.TypeStyle(n.Type).Render("[" + n.Type + "]"))
		b.WriteString(" ")
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(titleOf(n)))
	if n.Message != "" {
		b.WriteString(": ")
		b.WriteString(n.Message)
	}
	b.WriteString("\n")

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.out, b.String()); err != nil {
		return fmt.Errorf("writing notification: %w", err)
	}
	return nil
}

func titleOf(n model.Notification) string {
	if n.Title != "" {
		return n.Title
	}
	return "LecheFacil"
}

// Select picks the notifier once at startup: the configured command when
// it resolves on PATH, otherwise the terminal notifier. lookPath defaults
// to exec.LookPath.
func Select(
	cfg model.PushConfig,
	out io.Writer,
	lookPath func(string) (string, error),
) Notifier {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if cfg.Command != "" {
		if cn, err := NewCommandNotifier(cfg.Command); err == nil {
			if _, err := lookPath(cn.command); err == nil {
				return cn
			}
		}
	}
	return NewTerminalNotifier(out)
}
