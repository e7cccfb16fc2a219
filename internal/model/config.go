package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// APIConfig holds settings for the REST backend.
type APIConfig struct {
	// BaseURL is the REST root, e.g. https://api.example.com/api/v1.
	// A bare host URL is accepted; the /api/v1 suffix is added.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`

	// TimeoutSec bounds a single HTTP round trip.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec" validate:"gte=0"`
}

// AuthConfig controls the credential refresh behaviour.
type AuthConfig struct {
	// ShareRefresh makes concurrent 401s wait on a single refresh call.
	ShareRefresh bool `mapstructure:"share_refresh" yaml:"share_refresh"`
}

// RealtimeConfig holds settings for the push socket.
type RealtimeConfig struct {
	HeartbeatIntervalSec int    `mapstructure:"heartbeat_interval_sec" yaml:"heartbeat_interval_sec" validate:"gt=0"`
	ReconnectDelaySec    int    `mapstructure:"reconnect_delay_sec" yaml:"reconnect_delay_sec" validate:"gt=0"`
	ReconnectStrategy    string `mapstructure:"reconnect_strategy" yaml:"reconnect_strategy" validate:"oneof=constant exponential"`
	MaxReconnectDelaySec int    `mapstructure:"max_reconnect_delay_sec" yaml:"max_reconnect_delay_sec" validate:"gte=0"`
}

// NotificationsConfig controls the notification cache.
type NotificationsConfig struct {
	PageSize        int    `mapstructure:"page_size" yaml:"page_size" validate:"gt=0,lte=200"`
	UnreadOnly      bool   `mapstructure:"unread_only" yaml:"unread_only"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec" validate:"gte=0"`
	CachePath       string `mapstructure:"cache_path" yaml:"cache_path"`
}

// CrossTabConfig selects how sibling contexts of the same user signal
// each other.
type CrossTabConfig struct {
	// Transport is "file" (processes on this host, through SignalDir),
	// "local" (one process only) or "redis" (across hosts).
	Transport     string `mapstructure:"transport" yaml:"transport" validate:"oneof=file local redis"`
	SignalDir     string `mapstructure:"signal_dir" yaml:"signal_dir"`
	RedisURL      string `mapstructure:"redis_url" yaml:"redis_url" validate:"required_if=Transport redis"`
	ChannelPrefix string `mapstructure:"channel_prefix" yaml:"channel_prefix"`
	DebounceMs    int    `mapstructure:"debounce_ms" yaml:"debounce_ms" validate:"gte=0"`
}

// CredentialConfig selects the keyring backend.
type CredentialConfig struct {
	// Backend is "auto" (OS keyring first) or "file".
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=auto file"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// PushConfig holds native push settings.
type PushConfig struct {
	DeviceToken string `mapstructure:"device_token" yaml:"device_token"`
	Platform    string `mapstructure:"platform" yaml:"platform"`

	// Command, when set and found on PATH, is run for every pushed
	// notification with the title and message as arguments.
	Command string `mapstructure:"command" yaml:"command"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API           APIConfig           `mapstructure:"api" yaml:"api"`
	Auth          AuthConfig          `mapstructure:"auth" yaml:"auth"`
	Realtime      RealtimeConfig      `mapstructure:"realtime" yaml:"realtime"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	CrossTab      CrossTabConfig      `mapstructure:"crosstab" yaml:"crosstab"`
	Credentials   CredentialConfig    `mapstructure:"credentials" yaml:"credentials"`
	Push          PushConfig          `mapstructure:"push" yaml:"push"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
}

// ValidationError reports the first configuration field that failed
// validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// HeartbeatInterval returns the ping period.
func (c RealtimeConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

// ReconnectDelay returns the delay before reconnecting after a close.
func (c RealtimeConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySec) * time.Second
}

// MaxReconnectDelay caps the exponential strategy.
func (c RealtimeConfig) MaxReconnectDelay() time.Duration {
	return time.Duration(c.MaxReconnectDelaySec) * time.Second
}

// Timeout returns the HTTP timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// PollInterval returns the fallback poll period; zero disables polling.
func (c NotificationsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// Debounce returns the cross-tab debounce window.
func (c CrossTabConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// ConfigDir returns ~/.config/lechefacil, or the working directory when
// the home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "lechefacil")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/lechefacil/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL:    "http://localhost:8000/api/v1",
			TimeoutSec: 30,
		},
		Auth: AuthConfig{ShareRefresh: true},
		Realtime: RealtimeConfig{
			HeartbeatIntervalSec: 30,
			ReconnectDelaySec:    5,
			ReconnectStrategy:    "constant",
			MaxReconnectDelaySec: 60,
		},
		Notifications: NotificationsConfig{
			PageSize:        20,
			PollIntervalSec: 120,
			CachePath:       filepath.Join(ConfigDir(), "cache.db"),
		},
		CrossTab: CrossTabConfig{
			Transport:     "file",
			SignalDir:     filepath.Join(ConfigDir(), "signals"),
			ChannelPrefix: "lechefacil",
			DebounceMs:    300,
		},
		Credentials: CredentialConfig{
			Backend: "auto",
			FileDir: filepath.Join(ConfigDir(), "credentials"),
		},
		Log: LogConfig{Level: "info"},
	}
}

// setDefaults mirrors defaultAppConfig so that env overrides and partial
// files resolve against the same values.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout_sec", d.API.TimeoutSec)
	v.SetDefault("auth.share_refresh", d.Auth.ShareRefresh)
	v.SetDefault("realtime.heartbeat_interval_sec", d.Realtime.HeartbeatIntervalSec)
	v.SetDefault("realtime.reconnect_delay_sec", d.Realtime.ReconnectDelaySec)
	v.SetDefault("realtime.reconnect_strategy", d.Realtime.ReconnectStrategy)
	v.SetDefault("realtime.max_reconnect_delay_sec", d.Realtime.MaxReconnectDelaySec)
	v.SetDefault("notifications.page_size", d.Notifications.PageSize)
	v.SetDefault("notifications.unread_only", d.Notifications.UnreadOnly)
	v.SetDefault("notifications.poll_interval_sec", d.Notifications.PollIntervalSec)
	v.SetDefault("notifications.cache_path", d.Notifications.CachePath)
	v.SetDefault("crosstab.transport", d.CrossTab.Transport)
	v.SetDefault("crosstab.signal_dir", d.CrossTab.SignalDir)
	v.SetDefault("crosstab.redis_url", "")
	v.SetDefault("crosstab.channel_prefix", d.CrossTab.ChannelPrefix)
	v.SetDefault("crosstab.debounce_ms", d.CrossTab.DebounceMs)
	v.SetDefault("credentials.backend", d.Credentials.Backend)
	v.SetDefault("credentials.file_dir", d.Credentials.FileDir)
	v.SetDefault("push.device_token", "")
	v.SetDefault("push.platform", "")
	v.SetDefault("push.command", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", "")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with LECHEFACIL_ override file values
// (api.base_url -> LECHEFACIL_API_BASE_URL). A missing file yields the
// defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LECHEFACIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags and returns
// the first failure as a *ValidationError.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Field:   fe.Namespace(),
				Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
			}
		}
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("auth", cfg.Auth)
	v.Set("realtime", cfg.Realtime)
	v.Set("notifications", cfg.Notifications)
	v.Set("crosstab", cfg.CrossTab)
	v.Set("credentials", cfg.Credentials)
	v.Set("push", cfg.Push)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
