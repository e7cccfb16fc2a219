package login

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/credential"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/theme"
)

// SubmittedMsg is dispatched when the form completes.
type SubmittedMsg struct {
	Values Values
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// Values are the credentials entered by the user.
type Values struct {
	TenantID     string
	AccessToken  string
	RefreshToken string
}

// Trimmed returns v with surrounding whitespace removed.
func (v Values) Trimmed() Values {
	return Values{
		TenantID:     strings.TrimSpace(v.TenantID),
		AccessToken:  strings.TrimSpace(v.AccessToken),
		RefreshToken: strings.TrimSpace(v.RefreshToken),
	}
}

// ValidateTenant rejects an empty tenant id.
func ValidateTenant(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("tenant id is required")
	}
	return nil
}

// ValidateAccessToken requires a JWT that has not expired yet.
func ValidateAccessToken(s string) error {
	claims, err := credential.ParseClaims(strings.TrimSpace(s))
	if err != nil {
		return errors.New("not a valid JWT")
	}
	if claims.Expired(time.Now()) {
		return fmt.Errorf("token expired at %s", claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// ValidateRefreshToken accepts an empty value or a JWT.
func ValidateRefreshToken(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := credential.ParseClaims(s); err != nil {
		return errors.New("not a valid JWT")
	}
	return nil
}

// NewForm builds the login form bound to v.
func NewForm(v *Values) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Farm (tenant id)").
				Placeholder("tenant uuid").
				Value(&v.TenantID).
				Validate(ValidateTenant),
			huh.NewInput().
				Title("Access token").
				EchoMode(huh.EchoModePassword).
				Value(&v.AccessToken).
				Validate(ValidateAccessToken),
			huh.NewInput().
				Title("Refresh token").
				Description("Optional. Without it the session ends when the access token expires.").
				EchoMode(huh.EchoModePassword).
				Value(&v.RefreshToken).
				Validate(ValidateRefreshToken),
		),
	)
}

// Model wraps the login form for use inside the application.
type Model struct {
	form   *huh.Form
	values *Values
	width  int
	height int
}

// New creates an idle login view; call Start to show the form.
func New(width, height int) Model {
	return Model{values: &Values{}, width: width, height: height}
}

// Start resets the form, prefilling the tenant id.
func (m *Model) Start(tenantID string) tea.Cmd {
	m.values = &Values{TenantID: tenantID}
	m.form = NewForm(m.values).WithWidth(m.formWidth())
	return m.form.Init()
}

// Update handles messages for the login form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		values := m.values.Trimmed()
		m.form = nil
		return m, func() tea.Msg { return SubmittedMsg{Values: values} }
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the login form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render("Sign in to LecheFacil") + "\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth())
	}
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w > 80 {
		w = 80
	}
	if w < 20 {
		w = 20
	}
	return w
}
