// ABOUTME: WebSocket connection manager owning one live chat connection at a time
// ABOUTME: Dispatches lifecycle events tagged with a generation so stale sockets are ignored

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-groups/internal/protocol"
)

var (
	// ErrNotConnected is returned by Send when there is no open connection.
	ErrNotConnected = errors.New("not connected")

	// ErrSendQueueFull is returned by Send when the outbound queue is full.
	ErrSendQueueFull = errors.New("send queue full")

	// ErrInvalidEndpoint is returned by Connect for an empty or unparsable endpoint.
	ErrInvalidEndpoint = errors.New("invalid websocket endpoint")
)

// State is the lifecycle state of the current connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosedError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedError:
		return "closed-error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind identifies a lifecycle signal.
type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventMessage
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered to the listener for every lifecycle signal of the
// current connection.
type Event struct {
	Generation uint64
	ConnID     string
	Kind       EventKind

	// Data is the raw frame for EventMessage.
	Data []byte

	// Code and Reason are set for EventClosed.
	Code   int
	Reason string

	// Err is set for EventError.
	Err error
}

// Listener receives connection events. Calls are made from the connection's
// goroutines and never while the Manager holds its lock.
type Listener interface {
	HandleConnectionEvent(ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev Event)

// HandleConnectionEvent calls f(ev).
func (f ListenerFunc) HandleConnectionEvent(ev Event) { f(ev) }

// Options tunes the connection. Zero values fall back to defaults.
type Options struct {
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	ReadLimit        int64
	SendQueueSize    int

	// Dialer overrides the default websocket dialer.
	Dialer *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 15 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
		}
	}
	return o
}

// Manager owns at most one current connection.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	listener Listener
	current  *conn
	gen      uint64
}

// conn is a single connection attempt. state is guarded by Manager.mu.
type conn struct {
	id       string
	gen      uint64
	endpoint string
	state    State

	ctx    context.Context
	cancel context.CancelFunc
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu sync.Mutex
	ws *websocket.Conn
}

// NewManager creates a Manager with no connection.
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:   opts.withDefaults(),
		logger: logger.With("component", "connection"),
	}
}

// SetListener registers the single event listener, replacing any previous one.
func (m *Manager) SetListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// BuildURL appends the credential to endpoint as the token query parameter.
// A trailing slash on the endpoint is dropped.
func BuildURL(endpoint, token string) (string, error) {
	endpoint = strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return "", ErrInvalidEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect starts connecting to endpoint with the given credential and returns
// the generation of the current connection. If a connection is already
// connecting or open it is kept and its generation returned. Otherwise any
// previous connection is detached and closed before the new one is dialed.
func (m *Manager) Connect(endpoint, token string) (uint64, error) {
	target, err := BuildURL(endpoint, token)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	if c := m.current; c != nil && (c.state == StateConnecting || c.state == StateOpen) {
		m.mu.Unlock()
		m.logger.Debug("connect ignored, connection already active",
			"conn_id", c.id, "generation", c.gen, "state", c.state.String())
		return c.gen, nil
	}

	old := m.current
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:       uuid.New().String(),
		gen:      m.gen,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		state:    StateConnecting,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan []byte, m.opts.SendQueueSize),
		done:     make(chan struct{}),
	}
	m.current = c
	m.mu.Unlock()

	if old != nil {
		old.shutdown(m.opts.WriteTimeout)
	}

	m.logger.Info("connecting", "endpoint", c.endpoint, "conn_id", c.id, "generation", c.gen)
	go m.dial(c, target)

	return c.gen, nil
}

// Send queues payload on the open connection. It never blocks.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	c := m.current
	open := c != nil && c.state == StateOpen
	m.mu.Unlock()

	if !open {
		return ErrNotConnected
	}

	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		m.logger.Warn("send queue full, dropping frame", "conn_id", c.id)
		return ErrSendQueueFull
	}
}

// Teardown detaches and closes the current connection with a normal closure.
// It is idempotent and safe to call with no connection.
func (m *Manager) Teardown() {
	m.mu.Lock()
	c := m.current
	m.current = nil
	m.mu.Unlock()

	if c == nil {
		return
	}

	m.logger.Info("tearing down connection", "conn_id", c.id, "generation", c.gen)
	c.shutdown(m.opts.WriteTimeout)
}

// State reports the state of the current connection.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return StateDisconnected
	}
	return m.current.state
}

// Generation returns the generation of the current connection, or 0 when
// there is none.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.gen
}

func (m *Manager) dial(c *conn, target string) {
	ws, _, err := m.opts.Dialer.DialContext(c.ctx, target, nil)
	if err != nil {
		if !m.setState(c, StateClosedError) {
			return
		}
		m.logger.Warn("dial failed", "endpoint", c.endpoint, "conn_id", c.id, "error", redact(err))
		m.dispatch(c, Event{Kind: EventError, Err: fmt.Errorf("dialing %s: %w", c.endpoint, redact(err))})
		m.dispatch(c, Event{Kind: EventClosed, Code: protocol.CloseAbnormal, Reason: "dial failed"})
		return
	}

	if !c.attach(ws) {
		ws.Close()
		return
	}
	if !m.setState(c, StateOpen) {
		m.logger.Debug("dial completed for superseded connection", "conn_id", c.id)
		c.shutdown(m.opts.WriteTimeout)
		return
	}

	m.logger.Info("connected", "endpoint", c.endpoint, "conn_id", c.id, "generation", c.gen)
	m.dispatch(c, Event{Kind: EventOpened})

	go m.writePump(c, ws)
	m.readPump(c, ws)
}

func (m *Manager) readPump(c *conn, ws *websocket.Conn) {
	defer c.close()

	pongWait := 2 * m.opts.PingInterval
	ws.SetReadLimit(m.opts.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			m.handleReadError(c, err)
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		m.dispatch(c, Event{Kind: EventMessage, Data: data})
	}
}

func (m *Manager) handleReadError(c *conn, err error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		next := StateClosedError
		if protocol.IsExpectedClose(ce.Code) {
			next = StateDisconnected
		}
		if !m.setState(c, next) {
			return
		}
		m.logger.Info("connection closed", "conn_id", c.id, "code", ce.Code, "reason", ce.Text)
		m.dispatch(c, Event{Kind: EventClosed, Code: ce.Code, Reason: ce.Text})
		return
	}

	if !m.setState(c, StateClosedError) {
		return
	}
	m.logger.Warn("connection lost", "conn_id", c.id, "error", err)
	m.dispatch(c, Event{Kind: EventError, Err: err})
	m.dispatch(c, Event{Kind: EventClosed, Code: protocol.CloseAbnormal, Reason: err.Error()})
}

func (m *Manager) writePump(c *conn, ws *websocket.Conn) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				m.logger.Warn("write failed", "conn_id", c.id, "error", err)
				ws.Close()
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.logger.Warn("ping failed", "conn_id", c.id, "error", err)
				ws.Close()
				return
			}
		}
	}
}

// setState updates c's state if c is still current.
func (m *Manager) setState(c *conn, s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != c {
		return false
	}
	c.state = s
	return true
}

// dispatch delivers ev to the listener if c is still the current connection.
func (m *Manager) dispatch(c *conn, ev Event) {
	m.mu.Lock()
	l := m.listener
	current := m.current == c
	m.mu.Unlock()

	if !current || l == nil {
		m.logger.Debug("discarding stale event", "conn_id", c.id, "kind", ev.Kind.String())
		return
	}

	ev.Generation = c.gen
	ev.ConnID = c.id
	l.HandleConnectionEvent(ev)
}

// attach stores ws on c unless c was already shut down.
func (c *conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return false
	default:
	}
	c.ws = ws
	return true
}

// close releases the connection without sending a close frame.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// shutdown sends a normal closure frame and releases the connection.
func (c *conn) shutdown(writeTimeout time.Duration) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})

	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws == nil {
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	ws.Close()
}

// redact strips the query string, which carries the credential, from URL errors.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if u, perr := url.Parse(ue.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
		}
	}
	return err
}
