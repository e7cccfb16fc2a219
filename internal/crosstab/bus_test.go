package crosstab

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testDebounce = 30 * time.Millisecond

func newListeningBus(t *testing.T, hub Transport) (*Bus, *atomic.Int32) {
	t.Helper()
	b := NewBus(hub, testDebounce, zaptest.NewLogger(t))
	var calls atomic.Int32
	require.NoError(t, b.OnSignal(context.Background(), func() { calls.Add(1) }))
	t.Cleanup(b.Close)
	return b, &calls
}

func TestBusIgnoresOwnEchoOnce(t *testing.T) {
	hub := NewLocalHub()
	a, aCalls := newListeningBus(t, hub)
	b, _ := newListeningBus(t, hub)

	require.NoError(t, a.Broadcast(context.Background()))
	time.Sleep(3 * testDebounce)
	assert.Zero(t, aCalls.Load())

	// The next signal, from a sibling, is processed normally.
	require.NoError(t, b.Broadcast(context.Background()))
	assert.Eventually(t, func() bool { return aCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBusDebouncesSiblingSignals(t *testing.T) {
	hub := NewLocalHub()
	a, aCalls := newListeningBus(t, hub)
	b, bCalls := newListeningBus(t, hub)
	assert.NotEqual(t, a.Origin(), b.Origin())

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Broadcast(context.Background()))
		time.Sleep(testDebounce / 5)
	}

	assert.Eventually(t, func() bool { return aCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testDebounce)
	assert.Equal(t, int32(1), aCalls.Load())
	assert.Zero(t, bCalls.Load())
}

func TestBusCloseCancelsPendingSignal(t *testing.T) {
	hub := NewLocalHub()
	a, aCalls := newListeningBus(t, hub)
	b, _ := newListeningBus(t, hub)

	require.NoError(t, b.Broadcast(context.Background()))
	time.Sleep(testDebounce / 3)
	a.Close()
	a.Close()

	time.Sleep(3 * testDebounce)
	assert.Zero(t, aCalls.Load())
	assert.ErrorIs(t, a.Broadcast(context.Background()), ErrClosed)
	assert.ErrorIs(t, a.OnSignal(context.Background(), func() {}), ErrClosed)
}

func TestBeaconSkipsOwnAnnouncements(t *testing.T) {
	hub := NewLocalHub()
	a := NewBeacon(hub, zaptest.NewLogger(t))
	b := NewBeacon(hub, zaptest.NewLogger(t))

	var aCalls, bCalls atomic.Int32
	stopA, err := a.Listen(context.Background(), func() { aCalls.Add(1) })
	require.NoError(t, err)
	defer stopA()
	stopB, err := b.Listen(context.Background(), func() { bCalls.Add(1) })
	require.NoError(t, err)
	defer stopB()

	require.NoError(t, a.Announce(context.Background()))
	assert.Eventually(t, func() bool { return bCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, aCalls.Load())
}

func TestLocalHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewLocalHub()
	ch, unsubscribe, err := hub.Subscribe(context.Background(), "topic")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(context.Background(), Envelope{Topic: "topic", Origin: "x"}))
	env := <-ch
	assert.Equal(t, "x", env.Origin)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Publishing to a topic without subscribers is fine.
	assert.NoError(t, hub.Publish(context.Background(), Envelope{Topic: "topic"}))
}

func TestRedisTransport(t *testing.T) {
	url := os.Getenv("LECHEFACIL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LECHEFACIL_TEST_REDIS_URL not set")
	}

	transport, err := NewRedisTransport(url, "lechefacil-test", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer transport.Close()

	_, aCalls := newListeningBus(t, transport)
	b, _ := newListeningBus(t, transport)

	require.NoError(t, b.Broadcast(context.Background()))
	assert.Eventually(t, func() bool { return aCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewRedisTransportRejectsBadURL(t *testing.T) {
	_, err := NewRedisTransport("not a url", "", zaptest.NewLogger(t))
	assert.Error(t, err)
}
