package app

import (
	"testing"
	"time"

	"github.com/99designs/keyring"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/api"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/credential"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/notification"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/realtime"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/session"
)

func accessToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

// newTestModel builds a model over a session that is never initialised,
// so nothing touches the network.
func newTestModel(t *testing.T, token string) (Model, *session.Session) {
	t.Helper()
	logger := zap.NewNop()
	creds := credential.NewStore(keyring.NewArrayKeyring(nil), logger)
	if token != "" {
		require.NoError(t, creds.Login("farm-1", token, ""))
	}
	client := api.NewClient("http://127.0.0.1:1", creds, logger)
	s := session.New(session.Deps{
		Credentials:   creds,
		Manager:       realtime.NewManager(realtime.Config{BaseURL: client.BaseURL()}, creds, logger),
		Notifications: notification.NewStore(client, logger),
	}, session.Options{}, logger)

	m := New(s)
	t.Cleanup(m.events.stop)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model), s
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestStartsOnLoginWithoutCredential(t *testing.T) {
	m, _ := newTestModel(t, "")
	m = update(t, m, changedMsg{})
	assert.Equal(t, ViewLogin, m.currentView)
	assert.Contains(t, m.View(), "Sign in")
}

func TestSyncShowsUnreadAndSubject(t *testing.T) {
	m, s := newTestModel(t, accessToken(t, "ana@farm"))

	s.Notifications().OnPush(model.Notification{ID: "n1", Type: "health_event", Title: "Vaca 12 con fiebre"})
	m = update(t, m, changedMsg{})

	assert.Equal(t, ViewList, m.currentView)
	assert.Equal(t, 1, m.unread)
	assert.Equal(t, "ana@farm", m.subject)
	assert.Equal(t, realtime.Disconnected, m.state)

	view := m.View()
	assert.Contains(t, view, "Vaca 12 con fiebre")
	assert.Contains(t, view, "ana@farm")
	assert.Contains(t, view, "offline")
}

func TestStoreChangesAreSignalled(t *testing.T) {
	m, s := newTestModel(t, accessToken(t, "ana@farm"))

	done := make(chan tea.Msg, 1)
	go func() { done <- m.events.wait()() }()

	s.Notifications().OnPush(model.Notification{ID: "n1"})

	select {
	case msg := <-done:
		assert.Equal(t, changedMsg{}, msg)
	case <-time.After(time.Second):
		t.Fatal("no change signalled")
	}
}

func TestHelpToggle(t *testing.T) {
	m, _ := newTestModel(t, accessToken(t, "ana@farm"))
	m = update(t, m, changedMsg{})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	assert.Equal(t, ViewHelp, m.currentView)
	assert.Contains(t, m.View(), "Keyboard Shortcuts")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewList, m.currentView)
}

func TestLogoutReturnsToLogin(t *testing.T) {
	m, s := newTestModel(t, accessToken(t, "ana@farm"))
	m = update(t, m, changedMsg{})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("L")})
	require.NotNil(t, cmd)
	m = update(t, m, cmd())
	assert.Empty(t, s.Credentials().AccessToken())

	m = update(t, m, changedMsg{})
	assert.Equal(t, ViewLogin, m.currentView)
}

func TestWaitReturnsNilAfterStop(t *testing.T) {
	m, _ := newTestModel(t, "")
	m.events.stop()
	assert.Nil(t, m.events.wait()())
}

func TestInitDoesNotLeaveAWaiterBehind(t *testing.T) {
	m, _ := newTestModel(t, "")

	batch, ok := m.Init()().(tea.BatchMsg)
	require.True(t, ok)

	results := make(chan tea.Msg, len(batch))
	for _, cmd := range batch {
		go func(cmd tea.Cmd) { results <- cmd() }(cmd)
	}

	var changed int
	for range batch {
		select {
		case msg := <-results:
			if _, ok := msg.(changedMsg); ok {
				changed++
			}
		case <-time.After(time.Second):
			t.Fatal("an Init command is still waiting")
		}
	}
	assert.Equal(t, 1, changed)
}
