package crosstab

import (
	"context"
	"sync"
	"time"
)

// Topics shared by every context of the same user.
const (
	TopicNotifications = "notifications:changed"
	TopicCredentials   = "credentials:changed"
)

// Envelope is one signal. It carries no payload beyond its origin.
type Envelope struct {
	Topic  string    `json:"topic"`
	Origin string    `json:"origin"`
	SentAt time.Time `json:"sent_at"`
}

// Transport fans signals out to every subscriber of a topic, including
// the publisher's own subscriptions.
type Transport interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe returns a channel of envelopes for topic and a function
	// that ends the subscription and closes the channel.
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, func(), error)
	Close() error
}

// LocalHub is an in-process Transport. Slow subscribers miss signals
// rather than block the publisher.
type LocalHub struct {
	mu     sync.RWMutex
	topics map[string]map[chan Envelope]struct{}
}

// NewLocalHub constructs an empty hub.
func NewLocalHub() *LocalHub {
	return &LocalHub{topics: make(map[string]map[chan Envelope]struct{})}
}

// Publish delivers env to every subscriber of env.Topic.
func (h *LocalHub) Publish(_ context.Context, env Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.topics[env.Topic] {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for topic.
func (h *LocalHub) Subscribe(_ context.Context, topic string) (<-chan Envelope, func(), error) {
	ch := make(chan Envelope, 16)

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[chan Envelope]struct{})
		h.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.topics[topic], ch)
			if len(h.topics[topic]) == 0 {
				delete(h.topics, topic)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe, nil
}

// Close is a no-op; subscriptions end through their own unsubscribe.
func (h *LocalHub) Close() error { return nil }
