package session

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/api"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/credential"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/crosstab"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/notification"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/push"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/realtime"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/store"
)

// fetchTimeout is the maximum time allowed for a single fetch.
const fetchTimeout = 30 * time.Second

// Deps are the collaborators of a Session. Cache and Closers are optional.
type Deps struct {
	Credentials   *credential.Store
	Manager       *realtime.Manager
	Notifications *notification.Store
	Bus           *crosstab.Bus
	Beacon        *crosstab.Beacon
	Bridge        *push.Bridge
	Cache         *store.TenantCache

	// Closers are closed last by Dispose, in order.
	Closers []io.Closer
}

// Options tune the session.
type Options struct {
	// Query is used for the first fetch and every refetch.
	Query api.ListOptions

	// PollInterval refetches while the socket is not connected. Zero
	// disables polling.
	PollInterval time.Duration

	DeviceToken string
	Platform    string
}

// Session ties the pipeline of one context together: it restores the
// cache, connects the push socket while a credential exists, refetches on
// sibling signals and polls during outages.
type Session struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	running   bool
	disposed  bool
	stopCh    chan struct{}
	triggerCh chan struct{}
	wg        sync.WaitGroup
	cleanup   []func()
	tenant    string
}

// New creates a session. Nothing runs until Init.
func New(deps Deps, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		deps:      deps,
		opts:      opts,
		logger:    logger,
		stopCh:    make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
	}
}

// Credentials returns the credential store.
func (s *Session) Credentials() *credential.Store { return s.deps.Credentials }

// Notifications returns the notification store.
func (s *Session) Notifications() *notification.Store { return s.deps.Notifications }

// Manager returns the push connection manager.
func (s *Session) Manager() *realtime.Manager { return s.deps.Manager }

// Init starts the session. The first fetch failing is not an error: the
// cached page stays visible and polling retries.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.tenant = s.deps.Credentials.TenantID()
	s.mu.Unlock()

	d := s.deps

	if d.Beacon != nil {
		d.Credentials.SetAnnouncer(d.Beacon)
		stop, err := d.Beacon.Listen(ctx, d.Credentials.ExternalChange)
		if err != nil {
			s.logger.Warn("listening for sibling credential changes", zap.Error(err))
		} else {
			s.defer_(stop)
		}
		s.defer_(func() { d.Credentials.SetAnnouncer(nil) })
	}

	s.restoreCache(ctx)

	s.defer_(d.Credentials.Subscribe(s.onCredentialChange))

	if d.Bus != nil {
		if err := d.Bus.OnSignal(ctx, s.RequestRefetch); err != nil {
			s.logger.Warn("listening for sibling notification changes", zap.Error(err))
		}
		s.defer_(d.Bus.Close)
	}

	d.Manager.OnNotification(s.deliver)
	s.defer_(d.Manager.OnStateChange(s.onStateChange))
	d.Manager.Init()
	s.defer_(d.Manager.Dispose)

	if d.Credentials.AccessToken() != "" {
		s.fetch(ctx)
		d.Manager.Connect()
		s.registerDevice(ctx)
	}

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Dispose stops everything Init started, in reverse order. It is safe to
// call more than once.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	wasRunning := s.running
	s.running = false
	cleanup := s.cleanup
	s.cleanup = nil
	s.mu.Unlock()

	if wasRunning {
		close(s.stopCh)
		s.wg.Wait()
	}
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	for _, c := range s.deps.Closers {
		if err := c.Close(); err != nil {
			s.logger.Debug("closing session resource", zap.Error(err))
		}
	}
}

// Logout clears the stored credential, which disconnects the socket here
// and, through the beacon, in sibling contexts.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.deps.Credentials.Clear(); err != nil {
		return err
	}
	s.deps.Notifications.Restore(model.NotificationPage{})
	return nil
}

// RequestRefetch schedules a refetch on the session goroutine. Requests
// made while one is pending are merged.
func (s *Session) RequestRefetch() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Session) defer_(fn func()) {
	s.mu.Lock()
	s.cleanup = append(s.cleanup, fn)
	s.mu.Unlock()
}

// loop serves refetch requests and the fallback poll.
func (s *Session) loop() {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.opts.PollInterval > 0 {
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.triggerCh:
			s.refetch()
		case <-tick:
			if s.deps.Manager.State() == realtime.Connected {
				continue
			}
			s.logger.Debug("push socket not connected; polling notifications")
			s.refetch()
		}
	}
}

func (s *Session) refetch() {
	if s.deps.Credentials.AccessToken() == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	// Fetch rather than Refetch: the first fetch may not have happened yet
	// when the session started logged out.
	if err := s.deps.Notifications.Fetch(ctx, s.opts.Query); err != nil {
		s.logger.Warn("refetching notifications", zap.Error(err))
	}
}

func (s *Session) fetch(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	if err := s.deps.Notifications.Fetch(ctx, s.opts.Query); err != nil {
		s.logger.Warn("fetching notifications", zap.Error(err))
	}
}

func (s *Session) restoreCache(ctx context.Context) {
	if s.deps.Cache == nil {
		return
	}
	cached, err := s.deps.Cache.Load(ctx)
	if err != nil {
		s.logger.Warn("loading cached notifications", zap.Error(err))
		return
	}
	if cached != nil {
		s.deps.Notifications.Restore(cached.Page)
	}
}

// deliver runs on the socket's read goroutine. The bridge feeds the store
// inline and shows the notification from its own goroutine.
func (s *Session) deliver(n model.Notification) {
	if s.deps.Bridge == nil {
		s.deps.Notifications.OnPush(n)
		return
	}
	s.deps.Bridge.Deliver(n)
}

func (s *Session) registerDevice(ctx context.Context) {
	if s.opts.DeviceToken == "" || s.deps.Bridge == nil {
		return
	}
	if err := s.deps.Bridge.Register(ctx, s.opts.DeviceToken, s.opts.Platform); err != nil {
		s.logger.Warn("registering push device", zap.Error(err))
	}
}

// onCredentialChange enables or disables the session as the access token
// appears or disappears. A tenant switch reloads the list.
func (s *Session) onCredentialChange() {
	creds := s.deps.Credentials
	if creds.AccessToken() == "" {
		s.mu.Lock()
		s.tenant = ""
		s.mu.Unlock()
		s.deps.Manager.Disconnect()
		return
	}

	tenant := creds.TenantID()
	s.mu.Lock()
	switched := tenant != s.tenant
	s.tenant = tenant
	s.mu.Unlock()

	s.deps.Manager.Connect()
	if switched {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		s.restoreCache(ctx)
		cancel()
		s.RequestRefetch()
	}
}

func (s *Session) onStateChange(state realtime.State) {
	s.logger.Debug("push socket state", zap.Stringer("state", state))
	if state == realtime.Connected {
		// Catch up on anything pushed while the socket was down.
		s.RequestRefetch()
	}
}
