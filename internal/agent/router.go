// ABOUTME: Per-agent HTTP router: GET /health and POST /actions/{action}.
// ABOUTME: Reads the "input" body field, invokes through the registry and writes the envelope.

package agent

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/2389/mcp-dispatch/internal/auth"
	"github.com/2389/mcp-dispatch/internal/envelope"
	"github.com/2389/mcp-dispatch/internal/middleware"
	"github.com/2389/mcp-dispatch/internal/registry"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Development exposes error traces in responses.
	Development bool
	Logger      *slog.Logger
}

// HealthResponse is the body of GET /health on an agent router.
type HealthResponse struct {
	Status    string   `json:"status"`
	Agent     string   `json:"agent"`
	Timestamp string   `json:"timestamp"`
	Actions   []string `json:"actions"`
}

// actionRequest is the body of POST /actions/{action}.
type actionRequest struct {
	Input json.RawMessage `json:"input"`
}

type router struct {
	name     string
	registry *registry.Registry
	opts     RouterOptions
	logger   *slog.Logger
}

// NewRouter returns the HTTP handler for one agent. Paths are relative to the
// agent mount point, e.g. {prefix}/agents/{name}.
func NewRouter(name string, reg *registry.Registry, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &router{
		name:     name,
		registry: reg,
		opts:     opts,
		logger:   logger.With("agent", name),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.HandleFunc("POST /actions/{action}", rt.handleAction)
	mux.HandleFunc("/", rt.handleNotFound)
	return mux
}

func (rt *router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    "ok",
		Agent:     rt.name,
		Timestamp: envelope.Now(),
		Actions:   rt.registry.ListActions(rt.name),
	})
}

func (rt *router) handleAction(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFrom(r.Context())
	actionName := r.PathValue("action")

	input, err := readInput(r)
	if err != nil {
		envelope.WriteError(w, reqID, err, false)
		return
	}

	call := &registry.Call{
		RequestID: reqID,
		Agent:     rt.name,
		Action:    actionName,
		Input:     input,
		Identity:  auth.FromContext(r.Context()),
		Metadata: map[string]any{
			"transport":  "http",
			"remoteAddr": r.RemoteAddr,
			"userAgent":  r.UserAgent(),
		},
	}

	out, err := rt.registry.Invoke(r.Context(), call)
	if err != nil {
		rt.logger.Debug("action rejected", "action", actionName, "request_id", reqID, "error", err)
		envelope.WriteError(w, reqID, err, rt.opts.Development)
		return
	}

	envelope.Write(w, http.StatusOK, envelope.Success(reqID, out.Data, out.Explanation, out.Duration))
}

func (rt *router) handleNotFound(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFrom(r.Context())
	envelope.WriteError(w, reqID, envelope.Newf(envelope.CodeNotFound, "no route %s %s on agent %s", r.Method, r.URL.Path, rt.name), false)
}

// readInput extracts the "input" field. A missing body or field yields {}.
func readInput(r *http.Request) (json.RawMessage, error) {
	body := middleware.BodyFrom(r.Context())
	if body == nil && r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, envelope.Wrap(envelope.CodeBadRequest, "failed to read request body", err)
		}
	}

	empty := json.RawMessage("{}")
	if len(body) == 0 {
		return empty, nil
	}

	var req actionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, envelope.Wrap(envelope.CodeBadRequest, "request body must be a JSON object", err)
	}
	if len(req.Input) == 0 || string(req.Input) == "null" {
		return empty, nil
	}
	return req.Input, nil
}
