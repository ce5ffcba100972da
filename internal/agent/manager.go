// ABOUTME: Tracks registered agents by name in registration order.
// ABOUTME: Rejects duplicate names so the first registration always wins.

package agent

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrAgentAlreadyRegistered indicates an agent with the same name is already registered.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// Named pairs an agent with the name it was registered under.
type Named struct {
	Name  string
	Agent Agent
}

// Manager holds every registered agent.
type Manager struct {
	agents map[string]Agent
	order  []string
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager creates a new Manager instance.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		agents: make(map[string]Agent),
		logger: logger,
	}
}

// Register adds a named agent.
// Returns ErrAgentAlreadyRegistered if the name is taken.
func (m *Manager) Register(name string, a Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[name]; exists {
		return ErrAgentAlreadyRegistered
	}

	m.agents[name] = a
	m.order = append(m.order, name)
	m.logger.Info("=== AGENT REGISTERED ===",
		"agent", name,
		"total_agents", len(m.agents),
	)
	return nil
}

// Unregister removes an agent. Used to roll back a registration that failed halfway.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[name]; !exists {
		return
	}
	delete(m.agents, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns the agent registered under name.
func (m *Manager) Get(name string) (Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[name]
	return a, ok
}

// Names returns agent names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.order...)
}

// All returns every agent in registration order.
func (m *Manager) All() []Named {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Named, 0, len(m.order))
	for _, name := range m.order {
		all = append(all, Named{Name: name, Agent: m.agents[name]})
	}
	return all
}
