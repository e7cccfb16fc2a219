package session

import (
	"fmt"
	"io"
	"path/filepath"

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

// NewTransport returns the sibling transport selected by cfg. Only "file"
// and "redis" reach other processes.
func NewTransport(cfg model.CrossTabConfig, logger *zap.Logger) (crosstab.Transport, error) {
	switch cfg.Transport {
	case "", "file":
		dir := cfg.SignalDir
		if dir == "" {
			dir = filepath.Join(model.ConfigDir(), "signals")
		}
		return crosstab.NewFileTransport(dir, logger.Named("signals"))
	case "local":
		return crosstab.NewLocalHub(), nil
	case "redis":
		prefix := cfg.ChannelPrefix
		if prefix == "" {
			prefix = crosstab.DefaultChannelPrefix
		}
		return crosstab.NewRedisTransport(cfg.RedisURL, prefix, logger.Named("redis"))
	default:
		return nil, fmt.Errorf("unknown crosstab transport %q", cfg.Transport)
	}
}

// Open builds a session from cfg. Pushed notifications are shown on
// notifyOut unless a notifier command is configured. The offline cache is
// optional: when it cannot be opened the session runs without it.
func Open(cfg *model.AppConfig, logger *zap.Logger, notifyOut io.Writer) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ring, err := credential.OpenKeyring(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	creds := credential.NewStore(ring, logger.Named("credential"))

	client := api.NewClient(cfg.API.BaseURL, creds, logger.Named("api"),
		api.WithTimeout(cfg.API.Timeout()),
		api.WithSharedRefresh(cfg.Auth.ShareRefresh),
	)

	transport, err := NewTransport(cfg.CrossTab, logger)
	if err != nil {
		return nil, fmt.Errorf("opening crosstab transport: %w", err)
	}
	closers := []io.Closer{transport}

	var cache *store.TenantCache
	if cfg.Notifications.CachePath != "" {
		db, err := store.NewSQLiteStore(cfg.Notifications.CachePath)
		if err != nil {
			logger.Warn("notification cache unavailable", zap.Error(err))
		} else {
			cache = store.NewTenantCache(db, creds.TenantID)
			closers = append(closers, db)
		}
	}

	bus := crosstab.NewBus(transport, cfg.CrossTab.Debounce(), logger.Named("crosstab"))
	beacon := crosstab.NewBeacon(transport, logger.Named("crosstab"))

	storeOpts := []notification.Option{notification.WithBroadcaster(bus)}
	if cache != nil {
		storeOpts = append(storeOpts, notification.WithPersister(cache))
	}
	notifications := notification.NewStore(client, logger.Named("notifications"), storeOpts...)

	manager := realtime.NewManager(realtime.Config{
		BaseURL:           client.BaseURL(),
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval(),
		ReconnectDelay:    cfg.Realtime.ReconnectDelay(),
		BackOff: realtime.NewBackOff(
			cfg.Realtime.ReconnectStrategy,
			cfg.Realtime.ReconnectDelay(),
			cfg.Realtime.MaxReconnectDelay(),
		),
	}, creds, logger.Named("realtime"))

	bridge := push.NewBridge(client, notifications, push.Select(cfg.Push, notifyOut, nil), logger.Named("push"))
	// The bridge stops before the transport and the cache close.
	closers = append([]io.Closer{bridge}, closers...)

	return New(Deps{
		Credentials:   creds,
		Manager:       manager,
		Notifications: notifications,
		Bus:           bus,
		Beacon:        beacon,
		Bridge:        bridge,
		Cache:         cache,
		Closers:       closers,
	}, Options{
		Query: api.ListOptions{
			UnreadOnly: cfg.Notifications.UnreadOnly,
			Limit:      cfg.Notifications.PageSize,
		},
		PollInterval: cfg.Notifications.PollInterval(),
		DeviceToken:  cfg.Push.DeviceToken,
		Platform:     cfg.Push.Platform,
	}, logger), nil
}
