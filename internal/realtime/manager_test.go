package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/credential"
	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// serverConn is the server side of one accepted socket.
type serverConn struct {
	ws     *websocket.Conn
	token  string
	tenant string

	writeMu sync.Mutex
	pings   atomic.Int32
	// closeCode receives the close code sent by the client, if any.
	closeCode chan int
}

func (c *serverConn) send(t *testing.T, frame string) {
	t.Helper()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (c *serverConn) close(code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

type fakePushServer struct {
	server *httptest.Server
	conns  chan *serverConn
	opened atomic.Int32
}

func newFakePushServer(t *testing.T) *fakePushServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	f := &fakePushServer{conns: make(chan *serverConn, 16)}

	r := gin.New()
	r.GET("/api/v1/notifications/ws", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		sc := &serverConn{
			ws:        ws,
			token:     c.Query("token"),
			tenant:    c.Query("tenant_id"),
			closeCode: make(chan int, 1),
		}
		f.opened.Add(1)
		f.conns <- sc

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					sc.closeCode <- closeErr.Code
				}
				return
			}
			if string(data) == pingFrame {
				sc.pings.Add(1)
				sc.writeMu.Lock()
				_ = ws.WriteMessage(websocket.TextMessage, []byte(pongFrame))
				sc.writeMu.Unlock()
			}
		}
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePushServer) next(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-f.conns:
		return sc
	case <-time.After(waitFor):
		t.Fatal("no socket accepted")
		return nil
	}
}

func newTestManager(t *testing.T, f *fakePushServer, cfg Config) (*Manager, *credential.Store) {
	t.Helper()
	creds := credential.NewStore(keyring.NewArrayKeyring(nil), zaptest.NewLogger(t))
	require.NoError(t, creds.Login("farm-1", "access-1", "refresh-1"))

	cfg.BaseURL = f.server.URL + "/api/v1"
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 20 * time.Millisecond
	}
	m := NewManager(cfg, creds, zaptest.NewLogger(t))
	m.Init()
	t.Cleanup(m.Dispose)
	return m, creds
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, waitFor, tick,
		"state never became %s (now %s)", want, m.State())
}

func TestConnectIsIdempotent(t *testing.T) {
	f := newFakePushServer(t)
	m, _ := newTestManager(t, f, Config{})

	for i := 0; i < 5; i++ {
		m.Connect()
	}
	sc := f.next(t)
	waitState(t, m, Connected)
	m.Connect()

	assert.Equal(t, "access-1", sc.token)
	assert.Equal(t, "farm-1", sc.tenant)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), f.opened.Load())
}

func TestHeartbeatPingPong(t *testing.T) {
	f := newFakePushServer(t)
	m, _ := newTestManager(t, f, Config{HeartbeatInterval: 10 * time.Millisecond})

	var delivered atomic.Int32
	m.OnNotification(func(model.Notification) { delivered.Add(1) })

	m.Connect()
	sc := f.next(t)

	assert.Eventually(t, func() bool { return sc.pings.Load() >= 3 }, waitFor, tick)
	assert.Zero(t, delivered.Load())
	assert.Equal(t, Connected, m.State())
}

func TestPushDelivery(t *testing.T) {
	f := newFakePushServer(t)
	m, _ := newTestManager(t, f, Config{})

	got := make(chan model.Notification, 4)
	m.OnNotification(func(n model.Notification) { got <- n })

	m.Connect()
	sc := f.next(t)

	sc.send(t, "not json")
	sc.send(t, `{"type":"presence","user_id":"u1"}`)
	sc.send(t, `{"type":"notification","notification":{"id":"n1","title":"Parto registrado","read":false}}`)

	select {
	case n := <-got:
		assert.Equal(t, "n1", n.ID)
		assert.Equal(t, "Parto registrado", n.Title)
	case <-time.After(waitFor):
		t.Fatal("notification not delivered")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got)
	assert.Equal(t, Connected, m.State())
}

func TestServerCloseReconnects(t *testing.T) {
	f := newFakePushServer(t)
	m, _ := newTestManager(t, f, Config{})

	var states []State
	var mu sync.Mutex
	m.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	m.Connect()
	first := f.next(t)
	waitState(t, m, Connected)

	first.close(websocket.CloseGoingAway)
	second := f.next(t)
	waitState(t, m, Connected)

	assert.Equal(t, "access-1", second.token)
	mu.Lock()
	assert.Contains(t, states, Disconnected)
	mu.Unlock()
}

func TestPolicyViolationSuspendsUntilTokenChanges(t *testing.T) {
	f := newFakePushServer(t)
	m, creds := newTestManager(t, f, Config{ReconnectDelay: 5 * time.Millisecond})

	m.Connect()
	first := f.next(t)
	waitState(t, m, Connected)

	first.close(websocket.ClosePolicyViolation)
	waitState(t, m, SuspendedAuthFailure)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), f.opened.Load())

	// Same token: still suspended.
	m.Connect()
	require.NoError(t, creds.SetTenantID("farm-9"))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), f.opened.Load())
	assert.Equal(t, SuspendedAuthFailure, m.State())

	require.NoError(t, creds.SetAccessToken("access-2"))
	second := f.next(t)
	waitState(t, m, Connected)
	assert.Equal(t, "access-2", second.token)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), f.opened.Load())
}

func TestClientCloseCodeIsNotSuspension(t *testing.T) {
	f := newFakePushServer(t)
	m, _ := newTestManager(t, f, Config{})

	m.Connect()
	first := f.next(t)
	waitState(t, m, Connected)

	first.close(CloseTokenUpdated)
	f.next(t)
	waitState(t, m, Connected)
}

func TestCredentialRotationReconnects(t *testing.T) {
	f := newFakePushServer(t)
	m, creds := newTestManager(t, f, Config{})

	m.Connect()
	first := f.next(t)
	waitState(t, m, Connected)

	require.NoError(t, creds.SetAccessToken("access-2"))

	select {
	case code := <-first.closeCode:
		assert.Equal(t, CloseTokenUpdated, code)
	case <-time.After(waitFor):
		t.Fatal("client did not close the rotated socket")
	}

	second := f.next(t)
	assert.Equal(t, "access-2", second.token)
	waitState(t, m, Connected)
}

func TestCredentialChangeWithoutSocketConnectsImmediately(t *testing.T) {
	f := newFakePushServer(t)
	creds := credential.NewStore(keyring.NewArrayKeyring(nil), zaptest.NewLogger(t))
	m := NewManager(Config{
		BaseURL:        f.server.URL,
		ReconnectDelay: time.Hour,
	}, creds, zaptest.NewLogger(t))
	m.Init()
	t.Cleanup(m.Dispose)

	// No token yet: nothing is dialed.
	m.Connect()
	assert.Equal(t, Disconnected, m.State())

	require.NoError(t, creds.Login("farm-1", "access-1", "refresh-1"))
	sc := f.next(t)
	assert.Equal(t, "access-1", sc.token)
	waitState(t, m, Connected)
}

func TestDisconnectStopsReconnect(t *testing.T) {
	f := newFakePushServer(t)
	m, creds := newTestManager(t, f, Config{})

	m.Connect()
	sc := f.next(t)
	waitState(t, m, Connected)

	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, Disconnected, m.State())

	select {
	case code := <-sc.closeCode:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(waitFor):
		t.Fatal("socket not closed")
	}

	require.NoError(t, creds.SetAccessToken("access-2"))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), f.opened.Load())
	assert.Equal(t, Disconnected, m.State())
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	f := newFakePushServer(t)
	creds := credential.NewStore(keyring.NewArrayKeyring(nil), zaptest.NewLogger(t))
	require.NoError(t, creds.Login("farm-1", "access-1", "refresh-1"))

	dialer := &countingDialer{failures: 2}
	m := NewManager(Config{
		BaseURL:        f.server.URL,
		ReconnectDelay: 5 * time.Millisecond,
		Dialer:         dialer,
	}, creds, zaptest.NewLogger(t))
	t.Cleanup(m.Dispose)

	m.Connect()
	f.next(t)
	waitState(t, m, Connected)
	assert.Equal(t, int32(3), dialer.calls.Load())
}

// countingDialer fails the first failures attempts before dialing.
type countingDialer struct {
	failures int32
	calls    atomic.Int32
}

func (d *countingDialer) DialContext(ctx context.Context, urlStr string, h http.Header) (*websocket.Conn, *http.Response, error) {
	if d.calls.Add(1) <= d.failures {
		return nil, nil, errors.New("connection refused")
	}
	return websocket.DefaultDialer.DialContext(ctx, urlStr, h)
}

func TestNewBackOff(t *testing.T) {
	constant := NewBackOff(StrategyConstant, 5*time.Second, time.Minute)
	assert.Equal(t, 5*time.Second, constant.NextBackOff())
	assert.Equal(t, 5*time.Second, constant.NextBackOff())

	exp := NewBackOff(StrategyExponential, time.Second, 4*time.Second)
	var last time.Duration
	for i := 0; i < 10; i++ {
		last = exp.NextBackOff()
		assert.NotEqual(t, time.Duration(-1), last)
	}
	assert.LessOrEqual(t, last, 6*time.Second)
}
