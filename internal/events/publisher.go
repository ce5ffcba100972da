// ABOUTME: Lifecycle event publishing for the dispatch service
// ABOUTME: No-op, callback and NATS publishers behind one interface

package events

import (
	"context"
	"sync"
	"time"
)

// Event types
const (
	TypeServiceStarted  = "service.started"
	TypeServiceStopping = "service.stopping"
	TypeServicePhase    = "service.phase"
	TypeServiceStopped  = "service.stopped"
	TypeAgentRegistered = "agent.registered"
	TypeAgentHookFailed = "agent.hook_failed"
	TypeAgentBroadcast  = "agent.broadcast"
)

// Shutdown phases, published in this order as TypeServicePhase events.
const (
	PhaseAgentsStopped     = "agents_stopped"
	PhaseSessionsClosed    = "sessions_closed"
	PhaseWebSocketClosed   = "websocket_closed"
	PhaseHTTPServerStopped = "http_server_stopped"
)

// Event is a service or agent lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	Agent     string    `json:"agent,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Error     string    `json:"error,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event of the given type stamped with the current time.
func New(eventType string) *Event {
	return &Event{Type: eventType, Timestamp: time.Now().UTC()}
}

// Publisher is the interface for publishing lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// NoOpPublisher is a Publisher that does nothing (for deployments without a bus).
type NoOpPublisher struct{}

// Publish is a no-op.
func (p *NoOpPublisher) Publish(_ context.Context, _ *Event) error {
	return nil
}

// CallbackPublisher is a Publisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *Event) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *Event) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// Publish calls the callback.
func (p *CallbackPublisher) Publish(ctx context.Context, event *Event) error {
	return p.callback(ctx, event)
}

// Recorder is a Publisher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// Publish appends event.
func (r *Recorder) Publish(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// Phases returns the recorded shutdown phases in publish order.
func (r *Recorder) Phases() []string {
	var phases []string
	for _, e := range r.Events() {
		if e.Type == TypeServicePhase {
			phases = append(phases, e.Phase)
		}
	}
	return phases
}
