// ABOUTME: Dispatch service that owns the HTTP server, WebSocket sessions and agent registry
// ABOUTME: Drives the Stopped/Starting/Running/Stopping lifecycle and ordered graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/mcp-dispatch/internal/agent"
	"github.com/2389/mcp-dispatch/internal/auth"
	"github.com/2389/mcp-dispatch/internal/config"
	"github.com/2389/mcp-dispatch/internal/events"
	"github.com/2389/mcp-dispatch/internal/metrics"
	"github.com/2389/mcp-dispatch/internal/registry"
	"github.com/2389/mcp-dispatch/internal/session"
)

const defaultShutdownTimeout = 5 * time.Second

// ErrAlreadyRunning is returned by Start unless the service is stopped.
var ErrAlreadyRunning = errors.New("service already running")

// ErrAgentAlreadyRegistered is returned when an agent name is taken.
var ErrAgentAlreadyRegistered = agent.ErrAgentAlreadyRegistered

// State is the lifecycle state of a Service.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher sets the lifecycle event publisher. The default discards events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithVerifier replaces the JWT verifier built from the auth config.
func WithVerifier(v auth.TokenVerifier) Option {
	return func(s *Service) {
		s.verifier = v
	}
}

// Service is the dispatch service. Create it with New, register agents, then
// call Run or Start/Stop.
type Service struct {
	config    *config.Config
	logger    *slog.Logger
	publisher events.Publisher
	verifier  auth.TokenVerifier

	agents   *agent.Manager
	registry *registry.Registry
	sessions *session.Manager
	metrics  *metrics.Metrics

	// routers maps agent name to its mounted HTTP router
	routers   map[string]http.Handler
	routersMu sync.RWMutex

	handler http.Handler

	mu         sync.Mutex
	state      State
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// New builds a Service from cfg. Authentication is enabled when
// cfg.Auth.JWTSecret is set or a verifier is supplied with WithVerifier.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		config:    cfg,
		logger:    logger,
		publisher: &events.NoOpPublisher{},
		routers:   make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.verifier == nil && cfg.Auth.JWTSecret != "" {
		var vopts []auth.VerifierOption
		if cfg.Auth.Issuer != "" {
			vopts = append(vopts, auth.WithIssuer(cfg.Auth.Issuer))
		}
		if cfg.Auth.Audience != "" {
			vopts = append(vopts, auth.WithAudience(cfg.Auth.Audience))
		}
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), vopts...)
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		s.verifier = v
	}
	if s.verifier == nil {
		logger.Warn("auth disabled - no jwt_secret configured")
	} else {
		logger.Info("JWT authentication enabled")
	}

	s.agents = agent.NewManager(logger.With("component", "agents"))
	s.registry = registry.NewRegistry(logger.With("component", "registry"), registry.Options{
		AuthDisabled: s.verifier == nil,
	})

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}

	sessionOpts := session.Options{
		Agents:        s.agents,
		Invoker:       s.registry,
		Logger:        logger,
		Development:   cfg.Server.Development(),
		MaxFrameBytes: cfg.Server.MaxBodyBytes,
	}
	if s.metrics != nil {
		sessionOpts.Observer = s.metrics
	}
	s.sessions = session.NewManager(sessionOpts)

	s.handler = s.buildHandler()
	return s, nil
}

// Handler returns the full middleware-wrapped HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Registry returns the action registry.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Sessions returns the WebSocket session manager.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// Metrics returns the collectors, or nil when metrics are disabled.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound listener address, or "" when not listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// RegisterAgent registers a under name, adds its actions to the registry and
// mounts its router at {prefix}/agents/{name}. The first registration of a
// name wins; later ones fail with ErrAgentAlreadyRegistered.
func (s *Service) RegisterAgent(ctx context.Context, name string, a agent.Agent) error {
	if err := s.agents.Register(name, a); err != nil {
		return fmt.Errorf("registering agent %q: %w", name, err)
	}

	for _, action := range a.Actions() {
		if err := s.registry.Register(name, action); err != nil {
			s.registry.RemoveAgent(name)
			s.agents.Unregister(name)
			return fmt.Errorf("registering agent %q: %w", name, err)
		}
	}

	router := agent.NewRouter(name, s.registry, agent.RouterOptions{
		Development: s.config.Server.Development(),
		Logger:      s.logger,
	})
	s.routersMu.Lock()
	s.routers[name] = router
	s.routersMu.Unlock()

	env := agent.Env{
		Name:     name,
		Logger:   s.logger.With("agent", name),
		Sessions: &agentSessions{name: name, sessions: s.sessions, publisher: s.publisher, logger: s.logger},
		Events:   s.publisher,
	}
	if err := a.OnRegister(ctx, env); err != nil {
		s.logger.Error("agent registration hook failed", "agent", name, "error", err)
	}

	ev := events.New(events.TypeAgentRegistered)
	ev.Agent = name
	ev.Data = map[string]any{"actions": s.registry.ListActions(name)}
	s.publish(ctx, ev)
	return nil
}

// Start binds the listener, serves HTTP in the background and runs every
// agent's OnStart hook. Hook failures are logged and never abort startup.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.mu.Unlock()

	addr := s.config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.sessions.Reopen()
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.serveErr = serveErr
	s.mu.Unlock()

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "prefix", s.config.Server.Prefix)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	s.runHooks(ctx, "start", func(ctx context.Context, a agent.Agent) error {
		return a.OnStart(ctx)
	})

	s.setState(StateRunning)

	ev := events.New(events.TypeServiceStarted)
	ev.Data = map[string]any{"addr": ln.Addr().String(), "agents": s.agents.Names()}
	s.publish(ctx, ev)
	return nil
}

// Stop shuts the service down in order: agent OnStop hooks, open sessions,
// the WebSocket endpoint, then the HTTP server. Each phase finishes before the
// next begins and is announced with a service.phase event. Stop on a service
// that is not running does nothing.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("shutting down dispatch service")
	s.publish(ctx, events.New(events.TypeServiceStopping))

	var errs []error

	s.runHooks(ctx, "stop", func(ctx context.Context, a agent.Agent) error {
		return a.OnStop(ctx)
	})
	s.phase(ctx, events.PhaseAgentsStopped, nil)

	err := s.sessions.CloseAll(ctx, session.CloseGoingAway, session.CloseReasonShutdown)
	errs = appendCloseError(errs, "closing sessions", err)
	s.phase(ctx, events.PhaseSessionsClosed, err)

	s.sessions.Close()
	s.phase(ctx, events.PhaseWebSocketClosed, nil)

	err = srv.Shutdown(ctx)
	errs = appendCloseError(errs, "HTTP shutdown", err)
	s.phase(ctx, events.PhaseHTTPServerStopped, err)

	s.mu.Lock()
	s.state = StateStopped
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	s.publish(ctx, events.New(events.TypeServiceStopped))
	s.logger.Info("dispatch service stopped")

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Run starts the service and blocks until ctx is canceled or the HTTP server
// fails, then stops it within the configured shutdown timeout.
// Returns nil on graceful shutdown.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	errCh := s.serveErr
	s.mu.Unlock()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown(ctx)
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown stops with a fresh timeout since ctx is usually canceled by now.
func (s *Service) gracefulShutdown(ctx context.Context) error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return s.Stop(stopCtx)
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// runHooks calls fn for every agent concurrently and waits for all of them.
// A failing or panicking hook is logged and reported as agent.hook_failed.
func (s *Service) runHooks(ctx context.Context, hook string, fn func(context.Context, agent.Agent) error) {
	var wg sync.WaitGroup
	for _, n := range s.agents.All() {
		wg.Add(1)
		go func(n agent.Named) {
			defer wg.Done()
			if err := callHook(ctx, n.Agent, fn); err != nil {
				s.logger.Error("agent hook failed", "agent", n.Name, "hook", hook, "error", err)
				ev := events.New(events.TypeAgentHookFailed)
				ev.Agent = n.Name
				ev.Error = err.Error()
				ev.Data = map[string]any{"hook": hook}
				s.publish(ctx, ev)
			}
		}(n)
	}
	wg.Wait()
}

func callHook(ctx context.Context, a agent.Agent, fn func(context.Context, agent.Agent) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook panicked: %v", rec)
		}
	}()
	return fn(ctx, a)
}

func (s *Service) phase(ctx context.Context, name string, err error) {
	ev := events.New(events.TypeServicePhase)
	ev.Phase = name
	if err != nil {
		ev.Error = err.Error()
	}
	s.logger.Info("shutdown phase complete", "phase", name)
	s.publish(ctx, ev)
}

func (s *Service) publish(ctx context.Context, ev *events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// agentSessions gives one agent access to the session manager and announces
// its broadcasts as agent.broadcast events.
type agentSessions struct {
	name      string
	sessions  *session.Manager
	publisher events.Publisher
	logger    *slog.Logger
}

func (a *agentSessions) Send(connID string, frame any) error {
	return a.sessions.Send(connID, frame)
}

func (a *agentSessions) Broadcast(frame any) int {
	sent := a.sessions.Broadcast(frame)
	a.announce(map[string]any{"recipients": sent})
	return sent
}

func (a *agentSessions) BroadcastTo(subject string, frame any) int {
	sent := a.sessions.BroadcastTo(subject, frame)
	a.announce(map[string]any{"recipients": sent, "subject": subject})
	return sent
}

func (a *agentSessions) announce(data map[string]any) {
	ev := events.New(events.TypeAgentBroadcast)
	ev.Agent = a.name
	ev.Data = data
	if err := a.publisher.Publish(context.Background(), ev); err != nil {
		a.logger.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}
