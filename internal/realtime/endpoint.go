package realtime

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/api"
)

const socketPath = "/api/v1/notifications/ws"

// Endpoint derives the push socket URL from the REST base URL. A trailing
// /api/v1 is consumed once; http maps to ws and everything else to wss.
// The token is only added when the base does not already carry one.
func Endpoint(baseURL, tenantID, token string) (string, error) {
	base := strings.TrimRight(baseURL, "/")
	base = strings.TrimSuffix(base, api.APIPrefix)
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + socketPath

	q := u.Query()
	if tenantID != "" {
		q.Set("tenant_id", tenantID)
	}
	if token != "" && q.Get("token") == "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
