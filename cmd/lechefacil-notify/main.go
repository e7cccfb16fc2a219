package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/app"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/credential"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/crosstab"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/logging"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/session"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/ui/login"
)

const usage = `Usage: lechefacil-notify [flags] <command>

Commands:
  watch    show notifications in the terminal UI (default)
  tail     print pushed notifications until interrupted
  login    store the farm id and tokens
  logout   remove the stored tokens

Flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("lechefacil-notify", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", model.DefaultConfigPath(), "path to the config file")
	logLevel := flags.String("log-level", "", "override log.level (debug, info, warn, error)")
	tenant := flags.String("tenant", "", "login: farm (tenant) id")
	accessToken := flags.String("access-token", "", "login: access token (prompted when empty)")
	refreshToken := flags.String("refresh-token", "", "login: refresh token")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	command := "watch"
	if flags.NArg() > 0 {
		command = flags.Arg(0)
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if command == "watch" && cfg.Log.File == "" {
		// The UI owns the terminal.
		cfg.Log.File = filepath.Join(model.ConfigDir(), "lechefacil.log")
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "watch":
		return watch(ctx, cfg, logger)
	case "tail":
		return tail(ctx, cfg, logger)
	case "login":
		return doLogin(ctx, cfg, logger, login.Values{
			TenantID:     *tenant,
			AccessToken:  *accessToken,
			RefreshToken: *refreshToken,
		})
	case "logout":
		return doLogout(ctx, cfg, logger)
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func watch(ctx context.Context, cfg *model.AppConfig, logger *zap.Logger) error {
	s, err := session.Open(cfg, logger, io.Discard)
	if err != nil {
		return err
	}
	defer s.Dispose()

	if err := s.Init(ctx); err != nil {
		return err
	}

	p := tea.NewProgram(app.New(s), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running terminal UI: %w", err)
	}
	return nil
}

func tail(ctx context.Context, cfg *model.AppConfig, logger *zap.Logger) error {
	s, err := session.Open(cfg, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer s.Dispose()

	if s.Credentials().AccessToken() == "" {
		return errors.New("not logged in; run lechefacil-notify login")
	}
	if err := s.Init(ctx); err != nil {
		return err
	}

	unread := s.Notifications().UnreadCount()
	fmt.Fprintf(os.Stdout, "%d unread. Waiting for notifications (ctrl+c to stop)...\n", unread)

	<-ctx.Done()
	return nil
}

// credentials opens the credential store with a beacon attached, so
// running sibling processes pick up the change.
func credentials(cfg *model.AppConfig, logger *zap.Logger) (*credential.Store, func(), error) {
	ring, err := credential.OpenKeyring(cfg.Credentials)
	if err != nil {
		return nil, nil, err
	}
	creds := credential.NewStore(ring, logger.Named("credential"))

	transport, err := session.NewTransport(cfg.CrossTab, logger)
	if err != nil {
		logger.Warn("sibling processes will not be told about the change", zap.Error(err))
		return creds, func() {}, nil
	}
	creds.SetAnnouncer(crosstab.NewBeacon(transport, logger.Named("crosstab")))
	return creds, func() { _ = transport.Close() }, nil
}

func doLogin(ctx context.Context, cfg *model.AppConfig, logger *zap.Logger, v login.Values) error {
	creds, closeFn, err := credentials(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	if v.AccessToken == "" {
		if v.TenantID == "" {
			v.TenantID = creds.TenantID()
		}
		if err := login.NewForm(&v).RunWithContext(ctx); err != nil {
			return fmt.Errorf("reading credentials: %w", err)
		}
	}
	v = v.Trimmed()

	for _, check := range []func() error{
		func() error { return login.ValidateTenant(v.TenantID) },
		func() error { return login.ValidateAccessToken(v.AccessToken) },
		func() error { return login.ValidateRefreshToken(v.RefreshToken) },
	} {
		if err := check(); err != nil {
			return err
		}
	}

	if err := creds.Login(v.TenantID, v.AccessToken, v.RefreshToken); err != nil {
		return err
	}

	claims, _ := credential.ParseClaims(v.AccessToken)
	msg := "Logged in"
	if claims != nil && claims.Subject != "" {
		msg += " as " + claims.Subject
	}
	if claims != nil && !claims.ExpiresAt.IsZero() {
		msg += fmt.Sprintf(" (token valid until %s)", claims.ExpiresAt.Local().Format(time.DateTime))
	}
	fmt.Println(msg + ".")
	return nil
}

func doLogout(_ context.Context, cfg *model.AppConfig, logger *zap.Logger) error {
	creds, closeFn, err := credentials(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := creds.Clear(); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}
