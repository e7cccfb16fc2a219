package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

// ErrNoDeviceToken is returned by Register without a token.
var ErrNoDeviceToken = errors.New("no device token")

// Registrar binds a device token to the user on the backend.
type Registrar interface {
	RegisterDevice(ctx context.Context, reg model.DeviceRegistration) error
}

// Sink receives delivered notifications.
type Sink interface {
	OnPush(n model.Notification)
}

// notifyQueueSize bounds notifications waiting for the notifier.
const notifyQueueSize = 32

// notifyTimeout bounds one notifier call.
const notifyTimeout = 30 * time.Second

// Bridge feeds natively delivered notifications into the same store the
// push socket feeds, and shows them through the selected notifier. The
// notifier runs on its own goroutine so a slow one never holds up the
// caller of Deliver.
type Bridge struct {
	registrar Registrar
	sink      Sink
	notifier  Notifier
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan model.Notification
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates a bridge. notifier may be nil. Close stops the
// notifier goroutine.
func NewBridge(r Registrar, sink Sink, notifier Notifier, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		registrar: r,
		sink:      sink,
		notifier:  notifier,
		logger:    logger,
	}
	if notifier != nil {
		b.queue = make(chan model.Notification, notifyQueueSize)
		b.ctx, b.cancel = context.WithCancel(context.Background())
		b.wg.Add(1)
		go b.notifyLoop()
	}
	return b
}

// Register sends the device token for platform to the backend.
func (b *Bridge) Register(ctx context.Context, token, platform string) error {
	if token == "" {
		return ErrNoDeviceToken
	}
	if platform == "" {
		platform = "desktop"
	}
	if err := b.registrar.RegisterDevice(ctx, model.DeviceRegistration{
		Token:    token,
		Platform: platform,
	}); err != nil {
		return fmt.Errorf("registering device: %w", err)
	}
	b.logger.Info("push device registered", zap.String("platform", platform))
	return nil
}

// Deliver hands n to the store before returning and queues it for the
// notifier. When the queue is full the notifier skips n.
func (b *Bridge) Deliver(n model.Notification) {
	b.sink.OnPush(n)
	if b.queue == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- n:
	default:
		b.logger.Warn("notifier queue full; not showing notification", zap.String("id", n.ID))
	}
}

func (b *Bridge) notifyLoop() {
	defer b.wg.Done()
	for n := range b.queue {
		ctx, cancel := context.WithTimeout(b.ctx, notifyTimeout)
		if err := b.notifier.Notify(ctx, n); err != nil {
			b.logger.Warn("showing notification",
				zap.String("notifier", b.notifier.Name()),
				zap.String("id", n.ID), zap.Error(err))
		}
		cancel()
	}
}

// Close cancels a running notifier call and waits for the notifier
// goroutine to finish what is queued. It is safe to call more than once.
func (b *Bridge) Close() error {
	if b.queue == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}
