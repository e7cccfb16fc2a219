package store

import (
	"context"
	"time"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

// CachedPage is the last known notification page of a tenant.
type CachedPage struct {
	Page    model.NotificationPage
	SavedAt time.Time
}

// Store defines the offline cache of notification pages, one per tenant.
type Store interface {
	// SaveNotificationPage replaces the cached page of tenantID.
	SaveNotificationPage(ctx context.Context, tenantID string, page model.NotificationPage) error

	// LoadNotificationPage returns the cached page of tenantID, or nil
	// when nothing is cached.
	LoadNotificationPage(ctx context.Context, tenantID string) (*CachedPage, error)

	// DeleteTenant drops everything cached for tenantID.
	DeleteTenant(ctx context.Context, tenantID string) error

	Close() error
}

// TenantCache writes pages through to a Store under the tenant that is
// current at the moment of each write.
type TenantCache struct {
	store  Store
	tenant func() string
}

// NewTenantCache binds s to the tenant returned by tenant.
func NewTenantCache(s Store, tenant func() string) *TenantCache {
	return &TenantCache{store: s, tenant: tenant}
}

// Persist saves page for the current tenant. Without a tenant it does
// nothing.
func (c *TenantCache) Persist(ctx context.Context, page model.NotificationPage) error {
	tenantID := c.tenant()
	if tenantID == "" {
		return nil
	}
	return c.store.SaveNotificationPage(ctx, tenantID, page)
}

// Load returns the cached page for the current tenant, or nil.
func (c *TenantCache) Load(ctx context.Context) (*CachedPage, error) {
	tenantID := c.tenant()
	if tenantID == "" {
		return nil, nil
	}
	return c.store.LoadNotificationPage(ctx, tenantID)
}
