package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/99designs/keyring"
	"go.uber.org/zap"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

// announceTimeout bounds the cross-context announcement after a write.
const announceTimeout = 5 * time.Second

// Announcer tells sibling contexts that the stored credentials changed.
type Announcer interface {
	Announce(ctx context.Context) error
}

// Store holds the access token, refresh token and tenant id in a keyring.
//
// Values are never cached: every getter reads the keyring, so two callers
// in the same instant may observe different values while a write is in
// progress. Subscribers are signalled after every write that changes a
// value and whenever a sibling context announces a change.
type Store struct {
	ring   keyring.Keyring
	logger *zap.Logger

	// ringMu serialises keyring access; some backends are not safe for
	// concurrent use.
	ringMu sync.Mutex

	mu        sync.Mutex
	subs      map[int]func()
	nextID    int
	announcer Announcer
}

// NewStore wraps ring. Use keyring.NewArrayKeyring for an in-memory store.
func NewStore(ring keyring.Keyring, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		ring:   ring,
		logger: logger,
		subs:   make(map[int]func()),
	}
}

// SetAnnouncer installs the cross-context announcer. Passing nil removes it.
func (s *Store) SetAnnouncer(a Announcer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announcer = a
}

// AccessToken returns the current access token, or "" when logged out.
func (s *Store) AccessToken() string { return s.get(keyAccessToken) }

// RefreshToken returns the current refresh token, or "".
func (s *Store) RefreshToken() string { return s.get(keyRefreshToken) }

// TenantID returns the current tenant id, or "".
func (s *Store) TenantID() string { return s.get(keyTenantID) }

// Login stores a complete session.
func (s *Store) Login(tenantID, accessToken, refreshToken string) error {
	return s.write(map[string]string{
		keyTenantID:     tenantID,
		keyAccessToken:  accessToken,
		keyRefreshToken: refreshToken,
	})
}

// SetAccessToken replaces the access token.
func (s *Store) SetAccessToken(token string) error {
	return s.write(map[string]string{keyAccessToken: token})
}

// SetTenantID replaces the tenant id.
func (s *Store) SetTenantID(tenantID string) error {
	return s.write(map[string]string{keyTenantID: tenantID})
}

// ApplyRefresh stores the result of a refresh call. Empty optional fields
// keep their current values.
func (s *Store) ApplyRefresh(pair model.TokenPair) error {
	values := map[string]string{keyAccessToken: pair.AccessToken}
	if pair.RefreshToken != "" {
		values[keyRefreshToken] = pair.RefreshToken
	}
	if pair.TenantID != "" {
		values[keyTenantID] = pair.TenantID
	}
	return s.write(values)
}

// Clear removes every stored value (logout).
func (s *Store) Clear() error {
	return s.write(map[string]string{
		keyAccessToken:  "",
		keyRefreshToken: "",
		keyTenantID:     "",
	})
}

// Subscribe registers fn to be called after each credential change. The
// returned function removes the subscription and is safe to call twice.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// ExternalChange signals subscribers that another context rewrote the
// shared keyring. Nothing is written and nothing is announced.
func (s *Store) ExternalChange() {
	s.emit()
}

// get reads key from the keyring. Missing keys read as "".
func (s *Store) get(key string) string {
	s.ringMu.Lock()
	defer s.ringMu.Unlock()

	item, err := s.ring.Get(key)
	if err != nil {
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			s.logger.Warn("reading credential",
				zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return string(item.Data)
}

// write applies values (an empty value deletes the key) and signals
// subscribers when at least one value actually changed, including when a
// later key failed and the keyring is left partly written.
func (s *Store) write(values map[string]string) error {
	changed, err := s.apply(values)
	if changed {
		s.emit()
		s.announce()
	}
	return err
}

func (s *Store) apply(values map[string]string) (bool, error) {
	s.ringMu.Lock()
	defer s.ringMu.Unlock()

	changed := false
	for key, value := range values {
		current := ""
		if item, err := s.ring.Get(key); err == nil {
			current = string(item.Data)
		}
		if current == value {
			continue
		}

		if value == "" {
			err := s.ring.Remove(key)
			if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
				return changed, fmt.Errorf("deleting credential %q: %w", key, err)
			}
		} else {
			err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value)})
			if err != nil {
				return changed, fmt.Errorf("setting credential %q: %w", key, err)
			}
		}
		changed = true
	}
	return changed, nil
}

// emit calls every subscriber outside the lock.
func (s *Store) emit() {
	s.mu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

func (s *Store) announce() {
	s.mu.Lock()
	a := s.announcer
	s.mu.Unlock()
	if a == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if err := a.Announce(ctx); err != nil {
		s.logger.Warn("announcing credential change", zap.Error(err))
	}
}
