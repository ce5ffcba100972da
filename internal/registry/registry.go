// ABOUTME: Thread-safe registry of agent actions keyed by (agent, action).
// ABOUTME: Keeps registration order for listings and guards against duplicate registration.

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/mcp-dispatch/internal/schema"
)

// ErrDuplicateAction indicates the (agent, action) pair is already registered.
var ErrDuplicateAction = errors.New("action already registered")

// ErrNotFound indicates the agent or action does not exist.
var ErrNotFound = errors.New("action not found")

// ErrInvalidAction indicates a descriptor that cannot be registered.
var ErrInvalidAction = errors.New("invalid action")

// Action describes one invocable operation of an agent. Descriptors are
// immutable once registered.
type Action struct {
	Name        string
	Description string
	// Schema validates the input payload before Handler runs. Nil accepts anything.
	Schema  schema.Validator
	Handler ActionHandler
	// Authenticated requires a verified identity on the call.
	Authenticated bool
	// Roles, when set, requires the identity to hold at least one of them.
	Roles []string
}

// ActionInfo is the public description of an action, for listings.
type ActionInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Authenticated bool     `json:"authenticated,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

type agentActions struct {
	order  []string
	byName map[string]*Action
}

// Options configures a Registry.
type Options struct {
	// AuthDisabled reports that the service runs without a token secret.
	// Protected actions still require an identity and are therefore
	// unreachable; Register warns about them.
	AuthDisabled bool
}

// Registry maintains the actions of every registered agent.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agentActions
	opts   Options
	logger *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger, opts Options) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents: make(map[string]*agentActions),
		opts:   opts,
		logger: logger,
	}
}

// Register stores an action for agent.
// Returns ErrDuplicateAction if the pair already exists; the first registration is kept.
func (r *Registry) Register(agent string, action Action) error {
	if agent == "" || action.Name == "" {
		return fmt.Errorf("%w: agent and action name are required", ErrInvalidAction)
	}
	if action.Handler == nil {
		return fmt.Errorf("%w: action '%s/%s' has no handler", ErrInvalidAction, agent, action.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[agent]
	if !ok {
		entry = &agentActions{byName: make(map[string]*Action)}
		r.agents[agent] = entry
	}

	if _, exists := entry.byName[action.Name]; exists {
		return fmt.Errorf("%w: '%s/%s'", ErrDuplicateAction, agent, action.Name)
	}

	if r.opts.AuthDisabled && (action.Authenticated || len(action.Roles) > 0) {
		r.logger.Warn("protected action registered while auth is disabled; every call will be rejected",
			"agent", agent,
			"action", action.Name,
		)
	}

	a := action
	a.Roles = append([]string(nil), action.Roles...)
	entry.byName[a.Name] = &a
	entry.order = append(entry.order, a.Name)

	r.logger.Debug("action registered",
		"agent", agent,
		"action", a.Name,
		"authenticated", a.Authenticated,
		"total_actions", len(entry.order),
	)

	return nil
}

// Lookup returns the action registered for (agent, action).
func (r *Registry) Lookup(agent, action string) (*Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[agent]
	if !ok {
		return nil, fmt.Errorf("%w: agent '%s'", ErrNotFound, agent)
	}
	a, ok := entry.byName[action]
	if !ok {
		return nil, fmt.Errorf("%w: '%s/%s'", ErrNotFound, agent, action)
	}
	return a, nil
}

// ListActions returns the action names of agent in registration order.
func (r *Registry) ListActions(agent string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[agent]
	if !ok {
		return []string{}
	}
	return append([]string{}, entry.order...)
}

// Describe returns public information about the actions of agent in registration order.
func (r *Registry) Describe(agent string) []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[agent]
	if !ok {
		return []ActionInfo{}
	}
	infos := make([]ActionInfo, 0, len(entry.order))
	for _, name := range entry.order {
		a := entry.byName[name]
		infos = append(infos, ActionInfo{
			Name:          a.Name,
			Description:   a.Description,
			Authenticated: a.Authenticated,
			Roles:         a.Roles,
		})
	}
	return infos
}

// RemoveAgent drops every action of agent. Used to roll back a failed registration.
func (r *Registry) RemoveAgent(agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agent)
}
