package crosstab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannelPrefix prefixes every Redis channel name.
const DefaultChannelPrefix = "lechefacil"

// RedisTransport carries signals over Redis Pub/Sub so contexts in
// different processes or hosts see each other. Each topic maps to the
// channel "<prefix>:<topic>".
type RedisTransport struct {
	client *redis.Client
	prefix string
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// NewRedisTransport connects to the Redis server at rawURL
// (redis://[:password@]host:port/db).
func NewRedisTransport(rawURL, prefix string, logger *zap.Logger) (*RedisTransport, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewRedisTransportWithClient(redis.NewClient(opts), prefix, logger), nil
}

// NewRedisTransportWithClient wraps an existing client. Close closes it.
func NewRedisTransportWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisTransport {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTransport{
		client: client,
		prefix: prefix,
		logger: logger,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (t *RedisTransport) channel(topic string) string {
	return t.prefix + ":" + topic
}

// Publish sends env on its topic's channel.
func (t *RedisTransport) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel(env.Topic), body).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", t.channel(env.Topic), err)
	}
	return nil
}

// Subscribe waits until the subscription is confirmed, then forwards
// decoded envelopes until unsubscribed.
func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (<-chan Envelope, func(), error) {
	channel := t.channel(topic)
	pubsub := t.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	t.mu.Lock()
	t.subs[pubsub] = struct{}{}
	t.mu.Unlock()

	out := make(chan Envelope, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				t.logger.Warn("decoding cross-context signal",
					zap.String("channel", channel), zap.Error(err))
				continue
			}
			if env.Topic == "" {
				env.Topic = topic
			}
			select {
			case out <- env:
			default:
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, pubsub)
			t.mu.Unlock()
			if err := pubsub.Close(); err != nil {
				t.logger.Debug("closing redis subscription", zap.Error(err))
			}
		})
	}
	return out, unsubscribe, nil
}

// Close ends every subscription and closes the client.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	subs := make([]*redis.PubSub, 0, len(t.subs))
	for ps := range t.subs {
		subs = append(subs, ps)
	}
	t.subs = make(map[*redis.PubSub]struct{})
	t.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return t.client.Close()
}
