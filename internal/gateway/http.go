// ABOUTME: Top-level HTTP surface: middleware chain, health, metrics, agent mounts and WebSocket
// ABOUTME: Agent routers are resolved per request so agents registered while running are reachable

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/2389/mcp-dispatch/internal/auth"
	"github.com/2389/mcp-dispatch/internal/envelope"
	"github.com/2389/mcp-dispatch/internal/middleware"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Agents    []string `json:"agents"`
}

// buildHandler assembles the mux and wraps it in the global chain:
// request id, panic trap, body parsing, authentication, logging, metrics.
func (s *Service) buildHandler() http.Handler {
	prefix := s.config.Server.Prefix
	wsPath := prefix + "/ws"

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+s.config.Metrics.Path, s.metrics.Handler())
	}
	mux.HandleFunc(prefix+"/agents/{agent}/", s.handleAgent)
	mux.Handle("GET "+wsPath, s.sessions)
	mux.HandleFunc("/", s.handleNotFound)

	development := s.config.Server.Development()

	var authStage middleware.Middleware
	if s.verifier != nil {
		authStage = auth.HTTPAuthMiddleware(s.verifier, auth.MiddlewareOptions{
			PublicPaths: []string{
				"/health",
				s.config.Metrics.Path,
				prefix + "/agents/*/health",
			},
			QueryTokenPaths: []string{wsPath},
			Logger:          s.logger.With("component", "auth"),
		})
	}

	var metricsStage middleware.Middleware
	if s.metrics != nil {
		metricsStage = s.metrics.Middleware()
	}

	return middleware.Chain(mux,
		middleware.RequestID(),
		middleware.Recover(s.logger.With("component", "http"), development),
		middleware.Body(s.config.Server.MaxBodyBytes),
		authStage,
		middleware.Logging(s.logger.With("component", "http"), middleware.LoggingOptions{
			ExcludePaths: []string{"/health", s.config.Metrics.Path},
			LogBodies:    development,
		}),
		metricsStage,
	)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    "ok",
		Timestamp: envelope.Now(),
		Agents:    s.agents.Names(),
	})
}

// handleAgent forwards {prefix}/agents/{agent}/... to that agent's router
// with the mount point stripped.
func (s *Service) handleAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("agent")

	s.routersMu.RLock()
	router, ok := s.routers[name]
	s.routersMu.RUnlock()
	if !ok {
		reqID := middleware.RequestIDFrom(r.Context())
		envelope.WriteError(w, reqID, envelope.Newf(envelope.CodeNotFound, "agent not found: %s", name), false)
		return
	}

	mount := s.config.Server.Prefix + "/agents/" + name
	http.StripPrefix(mount, router).ServeHTTP(w, r)
}

func (s *Service) handleNotFound(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFrom(r.Context())
	envelope.WriteError(w, reqID, envelope.Newf(envelope.CodeNotFound, "no route for %s %s", r.Method, r.URL.Path), false)
}
