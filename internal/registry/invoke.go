// ABOUTME: Shared invocation path for actions: validate, authorize, call, time
// ABOUTME: Used by both the HTTP agent router and WebSocket action frames

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/mcp-dispatch/internal/auth"
	"github.com/2389/mcp-dispatch/internal/envelope"
)

// ActionHandler executes an action. It may return a *Result to attach an
// explanation; any other value is used as the response data.
type ActionHandler func(ctx context.Context, call *Call) (any, error)

// Call is a transport-agnostic action request.
type Call struct {
	RequestID string
	Agent     string
	Action    string
	Input     json.RawMessage
	Identity  *auth.Identity
	Metadata  map[string]any
}

// Decode unmarshals the call input into v. An empty input decodes as {}.
func (c *Call) Decode(v any) error {
	input := c.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return envelope.Wrap(envelope.CodeValidation, "input does not match the expected shape", err)
	}
	return nil
}

// Result lets a handler return data together with a human-readable explanation.
type Result struct {
	Data        any
	Explanation string
}

// Outcome is the result of a successful invocation.
type Outcome struct {
	Data        any
	Explanation string
	Duration    time.Duration
}

// Invoke runs the action named by call. The returned error is always an
// *envelope.Error: NOT_FOUND, VALIDATION_ERROR (handler not called),
// UNAUTHORIZED (401 without identity, 403 when roles do not match), the
// handler's own *envelope.Error, or INTERNAL_ERROR for anything else.
func (r *Registry) Invoke(ctx context.Context, call *Call) (*Outcome, error) {
	action, err := r.Lookup(call.Agent, call.Action)
	if err != nil {
		return nil, envelope.Wrap(envelope.CodeNotFound, "action not found: "+call.Action, err)
	}

	if action.Schema != nil {
		if fieldErrs := action.Schema.Validate(call.Input); len(fieldErrs) > 0 {
			return nil, envelope.New(envelope.CodeValidation, "input validation failed").WithDetails(fieldErrs)
		}
	}

	if (action.Authenticated || len(action.Roles) > 0) && call.Identity == nil {
		return nil, envelope.New(envelope.CodeUnauthorized, "authentication required")
	}
	if len(action.Roles) > 0 && !call.Identity.HasAnyRole(action.Roles...) {
		return nil, envelope.New(envelope.CodeUnauthorized, "insufficient role").WithStatus(http.StatusForbidden)
	}

	start := time.Now()
	data, err := action.Handler(ctx, call)
	elapsed := time.Since(start)

	if err != nil {
		var e *envelope.Error
		if errors.As(err, &e) {
			return nil, e
		}
		r.logger.Error("action failed",
			"agent", call.Agent,
			"action", call.Action,
			"request_id", call.RequestID,
			"duration", elapsed,
			"error", err,
		)
		return nil, envelope.Wrap(envelope.CodeInternal, "action failed", err)
	}

	out := &Outcome{Data: data, Duration: elapsed}
	if res, ok := data.(*Result); ok {
		out.Data = res.Data
		out.Explanation = res.Explanation
	}
	return out, nil
}
