package tablechat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Send while no live connection exists.
// There is no outbound queue: callers decide whether to drop or retry.
var ErrNotConnected = errors.New("tablechat: not connected")

// ErrReconnectFailed is reported to OnFatal after the reconnect budget
// is exhausted.
var ErrReconnectFailed = errors.New("tablechat: reconnect attempts exhausted")

// ConnState is the connection manager's lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Conn is the slice of *websocket.Conn the manager needs. Tests
// substitute in-memory fakes.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens one connection attempt.
type Dialer func(ctx context.Context) (Conn, error)

// WebSocketDialer dials the server's /ws endpoint with the identity
// headers set.
func WebSocketDialer(baseURL string, identity Identity) Dialer {
	wsURL := strings.Replace(baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/ws"

	return func(ctx context.Context) (Conn, error) {
		header := http.Header{}
		header.Set(HeaderUserID, identity.UserID)
		header.Set(HeaderUserName, identity.DisplayName)
		header.Set(HeaderUserRole, string(identity.Role))

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = time.Second
)

// ConnOptions configures a ConnManager.
type ConnOptions struct {
	Dialer Dialer

	// BaseDelay is the first reconnect delay; each further attempt
	// doubles it. Defaults to 1s.
	BaseDelay time.Duration

	// MaxRetries bounds consecutive failed attempts. Defaults to 5.
	MaxRetries int

	Logger zerolog.Logger

	// OnEvent receives every decoded frame, in arrival order.
	OnEvent func(Event)

	// OnConnect fires after every successful connect, including
	// reconnects. Subscriptions do not survive a drop; this is where
	// the session re-subscribes.
	OnConnect func()

	// OnFatal fires exactly once, when the reconnect budget runs out.
	OnFatal func(error)

	// OnStateChange observes lifecycle transitions.
	OnStateChange func(ConnState)
}

// ConnManager owns the WebSocket lifecycle: it dials, pumps events,
// and reconnects with bounded exponential backoff. A run of failures
// longer than MaxRetries gives up permanently.
type ConnManager struct {
	opts ConnOptions
	log  zerolog.Logger

	mu      sync.Mutex
	state   ConnState
	conn    Conn
	started bool
	done    chan struct{}

	fatalOnce sync.Once
}

// NewConnManager creates a manager. Call Connect to start it.
func NewConnManager(opts ConnOptions) *ConnManager {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &ConnManager{
		opts: opts,
		log:  opts.Logger.With().Str("component", "conn").Logger(),
		done: make(chan struct{}),
	}
}

// Connect starts the connection loop. It returns immediately; state
// changes and events arrive through the callbacks.
func (m *ConnManager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.run(ctx)
}

// Close stops the manager and closes any live connection.
func (m *ConnManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
		return
	default:
	}
	close(m.done)
	if m.conn != nil {
		m.conn.Close()
	}
	m.state = StateDisconnected
}

// State returns the current lifecycle state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes a command to the live connection. Fails immediately with
// ErrNotConnected while down; nothing is queued.
func (m *ConnManager) Send(cmd Command) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(cmd)
}

func (m *ConnManager) run(ctx context.Context) {
	attempt := 0
	first := true

	for {
		if m.closed(ctx) {
			return
		}

		if first {
			m.setState(StateConnecting)
		} else {
			m.setState(StateReconnecting)
		}

		conn, err := m.opts.Dialer(ctx)
		if err == nil {
			first = false
			attempt = 0
			m.setConn(conn)
			m.setState(StateConnected)
			m.log.Info().Msg("connected")
			if m.opts.OnConnect != nil {
				m.opts.OnConnect()
			}

			m.readLoop(conn)
			m.setConn(nil)
			conn.Close()
			if m.closed(ctx) {
				m.setState(StateDisconnected)
				return
			}
			m.log.Warn().Msg("connection lost")
		} else {
			m.log.Warn().Err(err).Int("attempt", attempt+1).Msg("connect failed")
			first = false
		}

		attempt++
		if attempt > m.opts.MaxRetries {
			m.setState(StateDisconnected)
			m.fatalOnce.Do(func() {
				if m.opts.OnFatal != nil {
					m.opts.OnFatal(ErrReconnectFailed)
				}
			})
			return
		}

		delay := m.reconnectDelay(attempt)
		m.log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("reconnecting")
		select {
		case <-time.After(delay):
		case <-m.done:
			m.setState(StateDisconnected)
			return
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return
		}
	}
}

// reconnectDelay doubles per attempt: base, 2*base, 4*base, ...
func (m *ConnManager) reconnectDelay(attempt int) time.Duration {
	return m.opts.BaseDelay << (attempt - 1)
}

func (m *ConnManager) readLoop(conn Conn) {
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		if m.opts.OnEvent != nil {
			m.opts.OnEvent(ev)
		}
	}
}

func (m *ConnManager) setConn(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

func (m *ConnManager) setState(state ConnState) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.mu.Unlock()
	if changed && m.opts.OnStateChange != nil {
		m.opts.OnStateChange(state)
	}
}

func (m *ConnManager) closed(ctx context.Context) bool {
	select {
	case <-m.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
