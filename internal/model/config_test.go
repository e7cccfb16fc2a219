package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval())
	assert.Equal(t, 5*time.Second, cfg.Realtime.ReconnectDelay())
	assert.Equal(t, "constant", cfg.Realtime.ReconnectStrategy)
	assert.Equal(t, 300*time.Millisecond, cfg.CrossTab.Debounce())
	assert.Equal(t, "file", cfg.CrossTab.Transport)
	assert.Equal(t, filepath.Join(ConfigDir(), "signals"), cfg.CrossTab.SignalDir)
	assert.True(t, cfg.Auth.ShareRefresh)
	assert.Equal(t, 20, cfg.Notifications.PageSize)
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://api.lechefacil.example
realtime:
  reconnect_strategy: exponential
  reconnect_delay_sec: 2
crosstab:
  transport: redis
  redis_url: redis://localhost:6379/0
notifications:
  unread_only: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.lechefacil.example", cfg.API.BaseURL)
	assert.Equal(t, "exponential", cfg.Realtime.ReconnectStrategy)
	assert.Equal(t, 2*time.Second, cfg.Realtime.ReconnectDelay())
	assert.Equal(t, "redis", cfg.CrossTab.Transport)
	assert.True(t, cfg.Notifications.UnreadOnly)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30, cfg.API.TimeoutSec)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("LECHEFACIL_API_BASE_URL", "https://env.example/api/v1")
	t.Setenv("LECHEFACIL_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example/api/v1", cfg.API.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{
			name:  "bad strategy",
			body:  "realtime:\n  reconnect_strategy: random\n",
			field: "AppConfig.Realtime.ReconnectStrategy",
		},
		{
			name:  "redis without url",
			body:  "crosstab:\n  transport: redis\n",
			field: "AppConfig.CrossTab.RedisURL",
		},
		{
			name:  "page too large",
			body:  "notifications:\n  page_size: 500\n",
			field: "AppConfig.Notifications.PageSize",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "api: [unclosed"))
	assert.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultAppConfig()
	cfg.API.BaseURL = "https://saved.example/api/v1"
	cfg.Push.Command = "notify-send"

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://saved.example/api/v1", loaded.API.BaseURL)
	assert.Equal(t, "notify-send", loaded.Push.Command)
}

func TestNotificationMarkRead(t *testing.T) {
	n := Notification{ID: "n1"}
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.FixedZone("ECT", -5*3600))

	assert.True(t, n.MarkRead(at))
	require.NotNil(t, n.ReadAt)
	assert.Equal(t, time.UTC, n.ReadAt.Location())

	first := *n.ReadAt
	assert.False(t, n.MarkRead(at.Add(time.Hour)))
	assert.Equal(t, first, *n.ReadAt)
}
