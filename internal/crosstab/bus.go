package crosstab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a signal reaches the handler.
const DefaultDebounce = 300 * time.Millisecond

// ErrClosed is returned by a closed Bus.
var ErrClosed = errors.New("cross-context bus closed")

// Bus broadcasts and receives the "notifications changed" signal for one
// context. A context skips the echo of each of its own broadcasts once;
// every other signal is debounced before the handler runs.
type Bus struct {
	transport Transport
	topic     string
	origin    string
	debounce  time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	selfPending int
	handler     func()
	timer       *time.Timer
	timerSeq    uint64
	unsubscribe func()
	done        chan struct{}
	closed      bool
}

// NewBus creates a bus for this context on TopicNotifications. A
// non-positive debounce uses DefaultDebounce.
func NewBus(t Transport, debounce time.Duration, logger *zap.Logger) *Bus {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		transport: t,
		topic:     TopicNotifications,
		origin:    uuid.NewString(),
		debounce:  debounce,
		logger:    logger,
	}
}

// Origin identifies this context on the transport.
func (b *Bus) Origin() string { return b.origin }

// Broadcast marks the next echo of this context's signal as self-originated
// and publishes the signal.
func (b *Bus) Broadcast(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.selfPending++
	b.mu.Unlock()

	err := b.transport.Publish(ctx, Envelope{
		Topic:  b.topic,
		Origin: b.origin,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		b.mu.Lock()
		if b.selfPending > 0 {
			b.selfPending--
		}
		b.mu.Unlock()
		return fmt.Errorf("broadcasting change: %w", err)
	}
	return nil
}

// OnSignal starts listening and calls handler, debounced, for each signal
// that is not this context's own echo. Only one handler is kept; a second
// call replaces it.
func (b *Bus) OnSignal(ctx context.Context, handler func()) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.handler = handler
	listening := b.unsubscribe != nil
	b.mu.Unlock()
	if listening {
		return nil
	}

	ch, unsubscribe, err := b.transport.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("listening for changes: %w", err)
	}

	done := make(chan struct{})
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		unsubscribe()
		return ErrClosed
	}
	b.unsubscribe = unsubscribe
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		for env := range ch {
			b.receive(env)
		}
	}()
	return nil
}

func (b *Bus) receive(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if env.Origin == b.origin && b.selfPending > 0 {
		b.selfPending--
		return
	}

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timerSeq++
	seq := b.timerSeq
	b.timer = time.AfterFunc(b.debounce, func() { b.fire(seq) })
}

func (b *Bus) fire(seq uint64) {
	b.mu.Lock()
	if b.closed || seq != b.timerSeq {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	handler := b.handler
	b.mu.Unlock()

	if handler != nil {
		handler()
	}
}

// Close stops listening and cancels a pending debounce. It is safe to
// call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.timerSeq++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	unsubscribe := b.unsubscribe
	done := b.done
	b.unsubscribe = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		<-done
	}
}
