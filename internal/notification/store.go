package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/api"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

// persistTimeout bounds a cache write triggered by a push.
const persistTimeout = 5 * time.Second

// API is the part of the REST client the store calls.
type API interface {
	ListNotifications(ctx context.Context, opts api.ListOptions) (*model.NotificationPage, error)
	MarkRead(ctx context.Context, ids []string) (*model.MarkResult, error)
	MarkAllRead(ctx context.Context) (*model.MarkResult, error)
}

// Broadcaster tells sibling contexts that notifications changed.
type Broadcaster interface {
	Broadcast(ctx context.Context) error
}

// Persister saves the current page after it changes.
type Persister interface {
	Persist(ctx context.Context, page model.NotificationPage) error
}

// Store is the client-side view of the user's notifications: the item
// list (newest first), the unread counter and the server-reported total.
//
// The unread counter is maintained on its own and may drift from the
// items until the next fetch.
type Store struct {
	api     API
	logger  *zap.Logger
	bus     Broadcaster
	persist Persister
	now     func() time.Time

	mu        sync.Mutex
	items     []model.Notification
	unread    int
	total     int
	lastQuery api.ListOptions

	subMu  sync.Mutex
	subs   map[int]func()
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithBroadcaster sets the cross-context broadcaster used after mutations.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Store) { s.bus = b }
}

// WithPersister sets the cache the store writes through to.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithClock overrides the clock used for read_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store backed by client.
func NewStore(client API, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		api:    client,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to run after every state change and returns a
// function that removes it.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() model.NotificationPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// UnreadCount returns the unread counter.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Restore seeds the store from a cached page without touching the network.
func (s *Store) Restore(page model.NotificationPage) {
	s.mu.Lock()
	s.replaceLocked(page)
	s.mu.Unlock()
	s.changed()
}

// Fetch loads one page and replaces the state with it. Overlapping
// fetches are not ordered; the last one to complete wins.
func (s *Store) Fetch(ctx context.Context, opts api.ListOptions) error {
	page, err := s.api.ListNotifications(ctx, opts)
	if err != nil {
		return fmt.Errorf("fetching notifications: %w", err)
	}

	s.mu.Lock()
	s.lastQuery = opts
	s.replaceLocked(*page)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(ctx, snap)
	s.changed()
	return nil
}

// Refetch repeats the most recent Fetch query.
func (s *Store) Refetch(ctx context.Context) error {
	s.mu.Lock()
	opts := s.lastQuery
	s.mu.Unlock()
	return s.Fetch(ctx, opts)
}

// OnPush prepends a pushed notification and increments the unread counter.
// An older copy with the same id is dropped from the list; the counter is
// incremented regardless.
func (s *Store) OnPush(n model.Notification) {
	s.mu.Lock()
	items := make([]model.Notification, 0, len(s.items)+1)
	items = append(items, n)
	for _, it := range s.items {
		if it.ID != n.ID {
			items = append(items, it)
		}
	}
	s.items = items
	s.unread++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	s.save(ctx, snap)
	cancel()
	s.changed()
}

// MarkAsRead marks ids read on the server and then locally. Failures are
// logged and leave the state unchanged.
func (s *Store) MarkAsRead(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if _, err := s.api.MarkRead(ctx, ids); err != nil {
		s.logger.Error("marking notifications read",
			zap.Strings("ids", ids), zap.Error(err))
		return
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	now := s.now()

	s.mu.Lock()
	for i := range s.items {
		if !wanted[s.items[i].ID] {
			continue
		}
		if s.items[i].MarkRead(now) && s.unread > 0 {
			s.unread--
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(ctx, snap)
	s.changed()
	s.broadcast(ctx)
}

// MarkAllAsRead marks everything read on the server and then locally.
// Failures are logged and leave the state unchanged.
func (s *Store) MarkAllAsRead(ctx context.Context) {
	if _, err := s.api.MarkAllRead(ctx); err != nil {
		s.logger.Error("marking all notifications read", zap.Error(err))
		return
	}

	now := s.now()
	s.mu.Lock()
	for i := range s.items {
		if !s.items[i].MarkRead(now) && s.items[i].ReadAt == nil {
			// Read on the server without a timestamp.
			stamp := now.UTC()
			s.items[i].ReadAt = &stamp
		}
	}
	s.unread = 0
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(ctx, snap)
	s.changed()
	s.broadcast(ctx)
}

func (s *Store) replaceLocked(page model.NotificationPage) {
	s.items = append([]model.Notification(nil), page.Notifications...)
	s.unread = page.UnreadCount
	if s.unread < 0 {
		s.unread = 0
	}
	s.total = page.Total
}

func (s *Store) snapshotLocked() model.NotificationPage {
	items := make([]model.Notification, len(s.items))
	copy(items, s.items)
	return model.NotificationPage{
		Notifications: items,
		Total:         s.total,
		UnreadCount:   s.unread,
	}
}

func (s *Store) save(ctx context.Context, page model.NotificationPage) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Persist(ctx, page); err != nil {
		s.logger.Warn("caching notifications", zap.Error(err))
	}
}

func (s *Store) broadcast(ctx context.Context) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Broadcast(ctx); err != nil {
		s.logger.Warn("broadcasting notification change", zap.Error(err))
	}
}

func (s *Store) changed() {
	s.subMu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
