// ABOUTME: WebSocket session manager: upgrade, receive loop, frame dispatch, send and broadcast
// ABOUTME: Each inbound frame runs in its own goroutine; replies re-attach the inbound requestId

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/mcp-dispatch/internal/agent"
	"github.com/2389/mcp-dispatch/internal/auth"
	"github.com/2389/mcp-dispatch/internal/envelope"
	"github.com/2389/mcp-dispatch/internal/middleware"
	"github.com/2389/mcp-dispatch/internal/registry"
)

// CloseGoingAway is sent to every client when the service shuts down.
const (
	CloseGoingAway       = websocket.CloseGoingAway
	CloseReasonShutdown  = "Server shutting down"
	defaultMaxFrameBytes = 10 << 20
)

// ErrConnNotFound indicates Send targeted an unknown connection id.
var ErrConnNotFound = errors.New("connection not found")

// AgentLookup resolves agent names for addressed frames.
type AgentLookup interface {
	Get(name string) (agent.Agent, bool)
}

// Invoker runs registry actions for frames that name an action.
type Invoker interface {
	Invoke(ctx context.Context, call *registry.Call) (*registry.Outcome, error)
}

// Observer receives connection and frame counts.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	FrameReceived(msgType string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()    {}
func (nopObserver) ConnectionClosed()    {}
func (nopObserver) FrameReceived(string) {}

// Options configures a Manager.
type Options struct {
	Agents   AgentLookup
	Invoker  Invoker
	Observer Observer
	Logger   *slog.Logger
	// Development attaches stack traces to HANDLER_ERROR frames.
	Development bool
	// MaxFrameBytes caps inbound frame size. Zero means 10MB.
	MaxFrameBytes int64
	// CheckOrigin overrides the upgrader origin check. Nil allows all origins.
	CheckOrigin func(r *http.Request) bool
}

// Manager owns the set of live connections.
type Manager struct {
	opts     Options
	logger   *slog.Logger
	observer Observer
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn
	// draining is set by CloseAll and Close; add refuses connections while it holds.
	draining bool

	loops sync.WaitGroup
}

// NewManager creates a Manager that accepts upgrades until Close is called.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = defaultMaxFrameBytes
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Manager{
		opts:     opts,
		logger:   logger.With("component", "websocket"),
		observer: observer,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		conns:    make(map[string]*Conn),
	}
}

// ServeHTTP upgrades the request and runs the receive loop until the client
// disconnects or the manager closes the connection.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	draining := m.draining
	m.mu.RUnlock()
	if draining {
		reqID := middleware.RequestIDFrom(r.Context())
		e := envelope.New(envelope.CodeInternal, "server is shutting down").WithStatus(http.StatusServiceUnavailable)
		envelope.WriteError(w, reqID, e, false)
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(m.opts.MaxFrameBytes)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &Conn{
		ID:       uuid.New().String(),
		Identity: auth.FromContext(r.Context()),
		conn:     ws,
		ctx:      ctx,
		cancel:   cancel,
	}

	if !m.add(c) {
		cancel()
		c.closeWith(CloseGoingAway, CloseReasonShutdown)
		return
	}

	m.readLoop(c)
}

func (m *Manager) add(c *Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return false
	}
	m.conns[c.ID] = c
	m.loops.Add(1)
	m.observer.ConnectionOpened()
	m.logger.Info("client connected", "conn_id", c.ID, "active", len(m.conns))
	return true
}

func (m *Manager) remove(c *Conn) {
	m.mu.Lock()
	delete(m.conns, c.ID)
	active := len(m.conns)
	m.mu.Unlock()
	m.observer.ConnectionClosed()
	m.logger.Info("client disconnected", "conn_id", c.ID, "active", active)
}

func (m *Manager) readLoop(c *Conn) {
	defer m.loops.Done()
	defer func() {
		c.cancel()
		c.inflight.Wait()
		m.remove(c)
		_ = c.conn.Close()
	}()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				m.logger.Debug("read failed", "conn_id", c.ID, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			m.handleFrame(c, data)
		}()
	}
}

func (m *Manager) handleFrame(c *Conn, data []byte) {
	var in Inbound
	defer func() {
		if rec := recover(); rec != nil {
			stack := string(debug.Stack())
			m.logger.Error("frame handler panicked", "conn_id", c.ID, "request_id", in.RequestID, "error", rec, "stack", stack)
			e := envelope.Newf(envelope.CodeHandlerError, "handler panicked: %v", rec)
			m.reply(c, errorFrame(in.RequestID, e, m.stack(stack)))
		}
	}()

	if err := json.Unmarshal(data, &in); err != nil {
		m.observer.FrameReceived("invalid")
		m.reply(c, errorFrame("", envelope.Wrap(envelope.CodeBadRequest, "invalid message format", err), ""))
		return
	}
	m.observer.FrameReceived(in.Type)

	out := m.dispatch(c, &in)
	out.RequestID = in.RequestID
	m.reply(c, out)
}

func (m *Manager) dispatch(c *Conn, in *Inbound) *Frame {
	if in.Type == TypePing {
		pong := agent.Pong()
		return &Frame{Type: pong.Type, Payload: pong.Payload}
	}

	// Frames without a registered agent are echoed back.
	a, ok := m.lookup(in.Agent)
	if !ok {
		return &Frame{Type: TypeResponse, Payload: in.Payload}
	}

	if in.Action != "" && m.opts.Invoker != nil {
		out, err := m.opts.Invoker.Invoke(c.ctx, &registry.Call{
			RequestID: in.RequestID,
			Agent:     in.Agent,
			Action:    in.Action,
			Input:     in.Payload,
			Identity:  c.Identity,
			Metadata:  map[string]any{"transport": "websocket", "connId": c.ID},
		})
		if err != nil {
			e := envelope.From(err)
			return errorFrame(in.RequestID, e, m.stack(e.Trace()))
		}
		return &Frame{Type: TypeResponse, Agent: in.Agent, Payload: out.Data}
	}

	reply, err := a.HandleMessage(c.ctx, &agent.Message{
		Type:      in.Type,
		RequestID: in.RequestID,
		Payload:   in.Payload,
		ConnID:    c.ID,
		Identity:  c.Identity,
	})
	if err != nil {
		var e *envelope.Error
		if !errors.As(err, &e) {
			e = envelope.Wrap(envelope.CodeHandlerError, "message handler failed", err)
		}
		return errorFrame(in.RequestID, e, m.stack(e.Trace()))
	}
	if reply == nil {
		return &Frame{Type: TypeResponse, Agent: in.Agent}
	}
	return &Frame{Type: reply.Type, Agent: in.Agent, Payload: reply.Payload}
}

func (m *Manager) lookup(name string) (agent.Agent, bool) {
	if name == "" || m.opts.Agents == nil {
		return nil, false
	}
	return m.opts.Agents.Get(name)
}

func (m *Manager) stack(s string) string {
	if !m.opts.Development {
		return ""
	}
	return s
}

// reply writes f to c. Late replies to closed connections are dropped.
func (m *Manager) reply(c *Conn, f *Frame) {
	if c.ctx.Err() != nil {
		m.logger.Debug("dropping reply to closed connection", "conn_id", c.ID, "request_id", f.RequestID)
		return
	}
	if err := c.WriteJSON(f); err != nil {
		m.logger.Debug("write failed", "conn_id", c.ID, "error", err)
	}
}

// Send writes frame to one connection.
func (m *Manager) Send(connID string, frame any) error {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnNotFound, connID)
	}
	return c.WriteJSON(frame)
}

// Broadcast writes frame to every connection and returns how many writes succeeded.
func (m *Manager) Broadcast(frame any) int {
	return m.broadcast(frame, func(*Conn) bool { return true })
}

// BroadcastTo writes frame to the connections whose identity subject equals
// subject. An empty subject matches unauthenticated connections.
func (m *Manager) BroadcastTo(subject string, frame any) int {
	return m.broadcast(frame, func(c *Conn) bool { return c.Subject() == subject })
}

func (m *Manager) broadcast(frame any, match func(*Conn) bool) int {
	m.mu.RLock()
	targets := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		if match(c) {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.WriteJSON(frame); err != nil {
			m.logger.Debug("broadcast write failed", "conn_id", c.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll stops accepting upgrades, sends a close frame with code and
// reason to every connection and waits until their receive loops have
// finished or ctx is done.
func (m *Manager) CloseAll(ctx context.Context, code int, reason string) error {
	m.mu.Lock()
	m.draining = true
	targets := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		targets = append(targets, c)
	}
	m.mu.Unlock()

	for _, c := range targets {
		c.closeWith(code, reason)
	}

	done := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all websocket connections closed", "count", len(targets))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for websocket connections: %w", ctx.Err())
	}
}

// Close stops accepting upgrades. Existing connections are left to CloseAll.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draining = true
}

// Reopen allows upgrades again after Close, for a service restarted in-process.
func (m *Manager) Reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draining = false
}
