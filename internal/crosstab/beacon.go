package crosstab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Beacon announces credential writes to sibling contexts and relays
// theirs. It implements credential.Announcer.
type Beacon struct {
	transport Transport
	origin    string
	logger    *zap.Logger
}

// NewBeacon creates a beacon with a fresh origin id.
func NewBeacon(t Transport, logger *zap.Logger) *Beacon {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Beacon{
		transport: t,
		origin:    uuid.NewString(),
		logger:    logger,
	}
}

// Announce publishes a credential-changed signal.
func (b *Beacon) Announce(ctx context.Context) error {
	err := b.transport.Publish(ctx, Envelope{
		Topic:  TopicCredentials,
		Origin: b.origin,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("announcing credential change: %w", err)
	}
	return nil
}

// Listen calls fn for every credential signal from another context until
// the returned stop function is called.
func (b *Beacon) Listen(ctx context.Context, fn func()) (func(), error) {
	ch, unsubscribe, err := b.transport.Subscribe(ctx, TopicCredentials)
	if err != nil {
		return nil, fmt.Errorf("listening for credential changes: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range ch {
			if env.Origin == b.origin {
				continue
			}
			b.logger.Debug("credentials changed in another context",
				zap.String("origin", env.Origin))
			fn()
		}
	}()

	return func() {
		unsubscribe()
		<-done
	}, nil
}
