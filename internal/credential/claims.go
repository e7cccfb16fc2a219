package credential

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of access-token claims the client displays. The
// signature is not verified; the backend remains the authority.
type Claims struct {
	Subject   string
	TenantID  string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its exp claim at now. Tokens
// without exp never expire.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseClaims decodes a JWT access token without verifying it.
func ParseClaims(token string) (*Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}

	claims := &Claims{}
	if sub, err := mc.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if tenant, ok := mc["tenant_id"].(string); ok {
		claims.TenantID = tenant
	}

	return claims, nil
}
