package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

// CloseTokenUpdated is the close code the client sends when it drops a
// socket to reconnect with a rotated credential.
const CloseTokenUpdated = 4001

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
	defaultCloseTimeout      = 3 * time.Second
	writeWait                = 5 * time.Second

	pingFrame = "ping"
	pongFrame = "pong"
)

// Reconnect strategies accepted by NewBackOff.
const (
	StrategyConstant    = "constant"
	StrategyExponential = "exponential"
)

// Credentials is what the manager needs from the credential store. Values
// are read at the moment of each connection attempt.
type Credentials interface {
	AccessToken() string
	TenantID() string
	Subscribe(fn func()) func()
}

// Dialer opens the socket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config holds the manager settings. Zero durations take the defaults.
type Config struct {
	BaseURL           string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	// BackOff overrides the reconnect delay policy. It defaults to a
	// constant ReconnectDelay.
	BackOff backoff.BackOff
	Dialer  Dialer
	// CloseTimeout bounds how long a client-initiated close waits for the
	// server's close frame before the connection is dropped.
	CloseTimeout time.Duration
}

// NewBackOff builds the reconnect policy named by strategy. The
// exponential policy never gives up and is reset on every successful open.
func NewBackOff(strategy string, delay, maxDelay time.Duration) backoff.BackOff {
	if strategy == StrategyExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = delay
		if maxDelay > 0 {
			b.MaxInterval = maxDelay
		}
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(delay)
}

// Manager owns at most one push socket and delivers every pushed
// notification to a single handler.
type Manager struct {
	cfg     Config
	creds   Credentials
	logger  *zap.Logger
	backoff backoff.BackOff

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	// gen identifies the current connection attempt. Callbacks from an
	// older attempt are ignored.
	gen        uint64
	cancelDial context.CancelFunc
	connToken  string
	connTenant string

	reconnect      bool
	reconnectTimer *time.Timer
	timerSeq       uint64
	suspendedToken string

	onNotification func(model.Notification)
	listeners      map[int]func(State)
	nextListener   int
	unsubscribe    func()
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config, creds Credentials, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	b := cfg.BackOff
	if b == nil {
		b = backoff.NewConstantBackOff(cfg.ReconnectDelay)
	}

	return &Manager{
		cfg:       cfg,
		creds:     creds,
		logger:    logger,
		backoff:   b,
		listeners: make(map[int]func(State)),
	}
}

// Init subscribes the manager to credential changes. Calling it again is
// a no-op.
func (m *Manager) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		return
	}
	m.unsubscribe = m.creds.Subscribe(m.onCredentialChange)
}

// Dispose drops the credential subscription and disconnects.
func (m *Manager) Dispose() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.Disconnect()
}

// OnNotification sets the handler for pushed notifications, replacing any
// previous one.
func (m *Manager) OnNotification(fn func(model.Notification)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNotification = fn
}

// OnStateChange registers fn for state changes and returns a function that
// removes it.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the socket unless one is already connecting or open. From
// SuspendedAuthFailure it only proceeds when the access token differs from
// the rejected one. Without an access token nothing is dialed.
func (m *Manager) Connect() {
	m.mu.Lock()
	m.reconnect = true
	var (
		state   State
		changed bool
	)
	if m.state == SuspendedAuthFailure {
		state, changed = m.resumeLocked()
	} else {
		state, changed = m.startLocked(EventConnect)
	}
	m.mu.Unlock()

	if changed {
		m.emit(state)
	}
}

// Disconnect stops reconnecting, cancels pending timers and closes the
// socket. It is safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.reconnect = false
	m.stopTimerLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++
	state, changed := m.transitionLocked(EventDisconnect)
	m.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
	}
	if changed {
		m.logger.Info("push socket disconnected")
		m.emit(state)
	}
}

func (m *Manager) transitionLocked(e Event) (State, bool) {
	next, ok := Transition(m.state, e)
	if !ok || next == m.state {
		return m.state, false
	}
	m.state = next
	return next, true
}

// startLocked begins a connection attempt driven by e.
func (m *Manager) startLocked(e Event) (State, bool) {
	if _, ok := Transition(m.state, e); !ok {
		return m.state, false
	}

	token := m.creds.AccessToken()
	if token == "" {
		m.logger.Debug("no access token; not connecting push socket")
		return m.state, false
	}
	tenant := m.creds.TenantID()
	endpoint, err := Endpoint(m.cfg.BaseURL, tenant, token)
	if err != nil {
		m.logger.Error("building push endpoint", zap.Error(err))
		return m.state, false
	}

	m.stopTimerLocked()
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.connToken = token
	m.connTenant = tenant

	state, _ := m.transitionLocked(e)
	go m.run(ctx, m.gen, endpoint)
	return state, true
}

// resumeLocked leaves SuspendedAuthFailure when the token has changed.
func (m *Manager) resumeLocked() (State, bool) {
	token := m.creds.AccessToken()
	if token == "" || token == m.suspendedToken {
		return m.state, false
	}
	m.logger.Info("credential changed; resuming push socket")
	return m.startLocked(EventCredentialChanged)
}

func (m *Manager) run(ctx context.Context, gen uint64, endpoint string) {
	conn, _, err := m.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		m.logger.Warn("dialing push socket", zap.Error(err))
		m.closed(gen, websocket.CloseAbnormalClosure)
		return
	}

	rotate, ok := m.opened(gen, conn)
	if !ok {
		conn.Close()
		return
	}
	if rotate {
		m.closeForRotation(conn)
	}

	done := make(chan struct{})
	go m.heartbeat(conn, done)
	code := m.readLoop(gen, conn)
	close(done)
	conn.Close()
	m.closed(gen, code)
}

// opened records a successful handshake. rotate is set when the
// credential changed while the handshake was in flight.
func (m *Manager) opened(gen uint64, conn *websocket.Conn) (rotate, ok bool) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false, false
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.conn = conn
	m.backoff.Reset()
	state, changed := m.transitionLocked(EventOpen)
	rotate = m.credentialsMovedLocked()
	m.mu.Unlock()

	m.logger.Info("push socket connected")
	if changed {
		m.emit(state)
	}
	return rotate, true
}

func (m *Manager) credentialsMovedLocked() bool {
	return m.creds.AccessToken() != m.connToken || m.creds.TenantID() != m.connTenant
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) int {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code
			}
			if m.current(gen) {
				m.logger.Warn("push socket error", zap.Error(err))
			}
			return websocket.CloseAbnormalClosure
		}
		m.dispatch(data)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// dispatch handles one frame. Heartbeat acks and unknown types are
// dropped; malformed frames are logged and dropped.
func (m *Manager) dispatch(data []byte) {
	if string(bytes.TrimSpace(data)) == pongFrame {
		return
	}

	var msg model.PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("discarding malformed push message", zap.Error(err))
		return
	}
	if msg.Type != model.PushTypeNotification || msg.Notification == nil {
		return
	}

	m.mu.Lock()
	handler := m.onNotification
	m.mu.Unlock()
	if handler != nil {
		handler(*msg.Notification)
	}
}

func (m *Manager) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(pingFrame)); err != nil {
				m.logger.Debug("sending heartbeat", zap.Error(err))
				return
			}
		}
	}
}

// closed handles the end of connection attempt gen.
func (m *Manager) closed(gen uint64, code int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	if code == websocket.ClosePolicyViolation {
		m.suspendedToken = m.connToken
		state, changed := m.transitionLocked(EventAuthRejected)
		m.mu.Unlock()

		m.logger.Warn("push socket rejected credentials; reconnect suspended",
			zap.Int("code", code))
		if changed {
			m.emit(state)
		}

		// A rotation that raced the rejection resumes right away.
		m.mu.Lock()
		state, changed = m.resumeLocked()
		m.mu.Unlock()
		if changed {
			m.emit(state)
		}
		return
	}

	state, changed := m.transitionLocked(EventClosed)
	delay := time.Duration(-1)
	if m.reconnect {
		delay = m.scheduleLocked()
	}
	m.mu.Unlock()

	m.logger.Info("push socket closed", zap.Int("code", code))
	if delay >= 0 {
		m.logger.Info("push socket reconnect scheduled", zap.Duration("delay", delay))
	}
	if changed {
		m.emit(state)
	}
}

func (m *Manager) scheduleLocked() time.Duration {
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		return -1
	}
	m.stopTimerLocked()
	seq := m.timerSeq
	m.reconnectTimer = time.AfterFunc(delay, func() { m.reconnectFired(seq) })
	return delay
}

func (m *Manager) reconnectFired(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || !m.reconnect {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	state, changed := m.startLocked(EventConnect)
	m.mu.Unlock()

	if changed {
		m.emit(state)
	}
}

func (m *Manager) stopTimerLocked() {
	m.timerSeq++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// onCredentialChange reacts to a credential write, local or from a
// sibling context.
func (m *Manager) onCredentialChange() {
	m.mu.Lock()
	switch m.state {
	case Connected:
		conn := m.conn
		moved := m.credentialsMovedLocked()
		m.mu.Unlock()
		if conn != nil && moved {
			m.logger.Info("credential rotated; closing push socket")
			m.closeForRotation(conn)
		}
	case Connecting:
		// Checked again once the handshake completes.
		m.mu.Unlock()
	case SuspendedAuthFailure:
		state, changed := m.resumeLocked()
		m.mu.Unlock()
		if changed {
			m.emit(state)
		}
	default:
		if !m.reconnect {
			m.mu.Unlock()
			return
		}
		state, changed := m.startLocked(EventConnect)
		m.mu.Unlock()
		if changed {
			m.emit(state)
		}
	}
}

// closeForRotation starts the close handshake with CloseTokenUpdated. The
// read loop then sees the close and takes the normal reconnect path.
func (m *Manager) closeForRotation(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(CloseTokenUpdated, "token updated")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		m.logger.Debug("sending close frame", zap.Error(err))
		conn.Close()
		return
	}
	time.AfterFunc(m.cfg.CloseTimeout, func() { conn.Close() })
}

func (m *Manager) emit(state State) {
	m.mu.Lock()
	listeners := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
