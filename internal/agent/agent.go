// ABOUTME: Agent contract, WebSocket message types and the Base helper agents embed.
// ABOUTME: Base supplies no-op lifecycle hooks and a per-type message handler table.

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/mcp-dispatch/internal/auth"
	"github.com/2389/mcp-dispatch/internal/envelope"
	"github.com/2389/mcp-dispatch/internal/events"
	"github.com/2389/mcp-dispatch/internal/registry"
)

// Agent is a pluggable unit that owns a set of actions and may handle
// WebSocket messages addressed to it.
type Agent interface {
	// Actions returns the action descriptors registered when the agent is added.
	Actions() []registry.Action
	// OnRegister runs once when the agent is added to the service.
	OnRegister(ctx context.Context, env Env) error
	// OnStart runs when the service starts. Errors are logged, never fatal.
	OnStart(ctx context.Context) error
	// OnStop runs first during shutdown. Errors are logged, never fatal.
	OnStop(ctx context.Context) error
	// HandleMessage answers a WebSocket message addressed to the agent.
	HandleMessage(ctx context.Context, msg *Message) (*Reply, error)
}

// Sessions lets agents push frames to connected WebSocket clients.
type Sessions interface {
	Send(connID string, frame any) error
	Broadcast(frame any) int
	// BroadcastTo reaches only connections authenticated as subject.
	// An empty subject addresses connections that carry no identity.
	BroadcastTo(subject string, frame any) int
}

// Env is what the service hands an agent at registration.
type Env struct {
	Name     string
	Logger   *slog.Logger
	Sessions Sessions
	Events   events.Publisher
}

// Message is an inbound WebSocket message addressed to an agent.
type Message struct {
	Type      string
	RequestID string
	Payload   json.RawMessage
	ConnID    string
	Identity  *auth.Identity
}

// Reply is an agent's answer to a Message. The session re-attaches the
// inbound request id before sending it.
type Reply struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// MessageHandler handles one message type.
type MessageHandler func(ctx context.Context, msg *Message) (*Reply, error)

// PongPayload is the payload of the default ping reply.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// Pong builds the reply to a ping message.
func Pong() *Reply {
	return &Reply{Type: "pong", Payload: PongPayload{Timestamp: time.Now().UnixMilli()}}
}

// Base implements every Agent method except Actions. Embed it and register
// message handlers with Handle.
type Base struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
	env      Env
}

// NewBase returns a Base that answers "ping" with "pong".
func NewBase() *Base {
	b := &Base{handlers: make(map[string]MessageHandler)}
	b.Handle("ping", func(ctx context.Context, msg *Message) (*Reply, error) {
		return Pong(), nil
	})
	return b
}

// Handle registers h for messages of type msgType, replacing any previous handler.
func (b *Base) Handle(msgType string, h MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string]MessageHandler)
	}
	b.handlers[msgType] = h
}

// Actions returns no actions.
func (b *Base) Actions() []registry.Action { return nil }

// OnRegister stores env for later use through Env.
func (b *Base) OnRegister(_ context.Context, env Env) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.env = env
	return nil
}

func (b *Base) OnStart(context.Context) error { return nil }

func (b *Base) OnStop(context.Context) error { return nil }

// Env returns the environment received at registration.
func (b *Base) Env() Env {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.env
}

// Logger returns the registration logger, or slog.Default before registration.
func (b *Base) Logger() *slog.Logger {
	if l := b.Env().Logger; l != nil {
		return l
	}
	return slog.Default()
}

// HandleMessage dispatches on msg.Type. Unknown types fail with UNSUPPORTED_MESSAGE_TYPE.
func (b *Base) HandleMessage(ctx context.Context, msg *Message) (*Reply, error) {
	b.mu.RLock()
	h, ok := b.handlers[msg.Type]
	b.mu.RUnlock()
	if !ok {
		return nil, envelope.Newf(envelope.CodeUnsupportedMessageType, "unsupported message type: %s", msg.Type)
	}
	return h(ctx, msg)
}
