package notifylist

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/keys"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

func page(ids ...string) model.NotificationPage {
	p := model.NotificationPage{}
	for _, id := range ids {
		p.Notifications = append(p.Notifications, model.Notification{ID: id, Title: "t-" + id})
	}
	return p
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, ""},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-2 * 24 * time.Hour), "2d ago"},
		{now.Add(-15 * 24 * time.Hour), "2w ago"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, relativeTimeFrom(tt.at, now))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "", truncate("abc", 0))
}

func TestSetPageKeepsSelection(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetPage(page("n1", "n2", "n3"))
	m.list.Select(1)
	require.Equal(t, "n2", m.SelectedID())

	// A pushed notification moves n2 down one row.
	m.SetPage(page("n0", "n1", "n2", "n3"))
	assert.Equal(t, "n2", m.SelectedID())
	assert.Equal(t, 4, m.Len())
}

func TestMarkReadKeys(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetPage(page("n1", "n2"))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, MarkReadMsg{IDs: []string{"n1"}}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	require.NotNil(t, cmd)
	assert.Equal(t, MarkAllReadMsg{}, cmd())
}

func TestMarkReadSkipsReadAndEmpty(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	assert.Nil(t, cmd)

	p := page("n1")
	p.Notifications[0].Read = true
	m.SetPage(p)
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}
