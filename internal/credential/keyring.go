package credential

import (
	"fmt"

	"github.com/99designs/keyring"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

const serviceName = "lechefacil"

// Keys under which the session values are stored.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyTenantID     = "tenant_id"
)

// OpenKeyring returns a configured keyring instance. The "file" backend
// skips the OS keychains, which is what headless hosts need.
func OpenKeyring(cfg model.CredentialConfig) (keyring.Keyring, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if cfg.Backend == "file" {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("lechefacil-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}
