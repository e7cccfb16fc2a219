package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/credential"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/keys"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/realtime"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/session"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/ui"
	helpview "github.com/gcobena-dev/lechefacil-frontend-sub000/internal/ui/help"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/ui/login"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/ui/notifylist"
)

const mutationTimeout = 30 * time.Second

// actionDoneMsg reports the end of a background action.
type actionDoneMsg struct {
	status string
	err    error
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewHelp
	ViewLogin
)

// Model is the root Bubble Tea model: the notification list with the
// connection indicator and unread badge in the header.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	session      *session.Session
	events       *events

	list      notifylist.Model
	helpView  helpview.Model
	loginView login.Model
	spinner   spinner.Model

	ready   bool
	unread  int
	state   realtime.State
	subject string
	status  string
}

// New creates the root model for s. The session must already be
// initialised; the caller disposes it after the program exits.
func New(s *session.Session) Model {
	k := keys.DefaultKeyMap()
	return Model{
		currentView: ViewList,
		keys:        k,
		session:     s,
		events:      watch(s),
		list:        notifylist.New(k, 80, 22),
		helpView:    helpview.New(k, 80, 22),
		loginView:   login.New(80, 22),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		layout:      ui.NewLayout(80, 24),
	}
}

// Init syncs the initial view. Handling that first changedMsg starts the
// single wait for session changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg { return changedMsg{} },
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.list.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.loginView.SetSize(w, h)
		return m.updateActiveView(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case changedMsg:
		cmd := m.sync()
		return m, tea.Batch(m.events.wait(), cmd)

	case notifylist.MarkReadMsg:
		return m, m.markRead(msg.IDs)

	case notifylist.MarkAllReadMsg:
		return m, m.markAllRead()

	case login.SubmittedMsg:
		m.currentView = ViewList
		return m, m.login(msg.Values)

	case login.CancelMsg:
		if m.session.Credentials().AccessToken() == "" {
			return m, m.quit()
		}
		m.currentView = ViewList
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		} else {
			m.status = msg.status
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.currentView == ViewLogin {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, m.quit()

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}

		case key.Matches(msg, m.keys.Refresh):
			m.session.RequestRefetch()
			m.status = "refreshing…"
			return m, nil

		case key.Matches(msg, m.keys.Reconnect):
			m.session.Manager().Connect()
			return m, nil

		case key.Matches(msg, m.keys.Logout):
			return m, m.logout()
		}
	}

	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.list, cmd = m.list.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	}

	return m, cmd
}

// sync re-reads the session into the model. Losing the credential brings
// up the login form.
func (m *Model) sync() tea.Cmd {
	s := m.session
	page := s.Notifications().Snapshot()
	m.unread = page.UnreadCount
	m.state = s.Manager().State()
	cmd := m.list.SetPage(page)

	token := s.Credentials().AccessToken()
	m.subject = ""
	if claims, err := credential.ParseClaims(token); err == nil {
		m.subject = claims.Subject
	}

	if token == "" && m.currentView != ViewLogin {
		m.currentView = ViewLogin
		return tea.Batch(cmd, m.loginView.Start(s.Credentials().TenantID()))
	}
	if m.status == "refreshing…" {
		m.status = ""
	}
	return cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := "LecheFacil"
	if m.subject != "" {
		title = fmt.Sprintf("LecheFacil · %s", m.subject)
	}
	if m.state == realtime.Connecting {
		title = m.spinner.View() + " " + title
	}
	header := m.layout.RenderHeader(title, m.unread, m.state.String())
	statusBar := m.layout.RenderStatusBar(m.keyHints())

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewHelp:
		return m.helpView.View()
	case ViewLogin:
		return m.loginView.View()
	default:
		return m.list.View()
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewLogin:
		return "enter next | shift+tab back | ctrl+c quit"
	}

	if m.status != "" {
		return m.status
	}
	if m.state == realtime.SuspendedAuthFailure {
		return "push rejected the token | L log out | c retry"
	}
	return "q quit | ? help | enter read | a read all | r refresh"
}

func (m Model) markRead(ids []string) tea.Cmd {
	store := m.session.Notifications()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		defer cancel()
		store.MarkAsRead(ctx, ids)
		return nil
	}
}

func (m Model) markAllRead() tea.Cmd {
	store := m.session.Notifications()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		defer cancel()
		store.MarkAllAsRead(ctx)
		return nil
	}
}

func (m Model) login(v login.Values) tea.Cmd {
	creds := m.session.Credentials()
	return func() tea.Msg {
		if err := creds.Login(v.TenantID, v.AccessToken, v.RefreshToken); err != nil {
			return actionDoneMsg{err: fmt.Errorf("storing credentials: %w", err)}
		}
		return actionDoneMsg{status: "signed in"}
	}
}

func (m Model) logout() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		if err := s.Logout(context.Background()); err != nil {
			return actionDoneMsg{err: fmt.Errorf("logging out: %w", err)}
		}
		return actionDoneMsg{}
	}
}

func (m Model) quit() tea.Cmd {
	m.events.stop()
	return tea.Quit
}
