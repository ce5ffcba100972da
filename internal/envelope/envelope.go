// ABOUTME: Uniform response envelope returned by every HTTP action and error path
// ABOUTME: Success and Failure constructors keep success and error mutually exclusive

package envelope

import (
	"encoding/json"
	"net/http"
	"time"
)

// Metadata carries timing information for successful action calls.
type Metadata struct {
	DurationMs int64  `json:"durationMs"`
	Timestamp  string `json:"timestamp"`
}

// ErrorBody is the client-facing error shape.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Envelope is the single response shape for all outcomes.
// Exactly one of Data/Error is meaningful, selected by Success.
type Envelope struct {
	RequestID   string     `json:"requestId,omitempty"`
	Success     bool       `json:"success"`
	Data        any        `json:"data,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
	Metadata    *Metadata  `json:"metadata,omitempty"`
	Error       *ErrorBody `json:"error,omitempty"`
	Timestamp   string     `json:"timestamp"`
}

// Now returns the envelope timestamp format (RFC 3339, millisecond precision, UTC).
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Success builds a successful envelope with timing metadata.
func Success(requestID string, data any, explanation string, duration time.Duration) *Envelope {
	ts := Now()
	return &Envelope{
		RequestID:   requestID,
		Success:     true,
		Data:        data,
		Explanation: explanation,
		Metadata:    &Metadata{DurationMs: duration.Milliseconds(), Timestamp: ts},
		Timestamp:   ts,
	}
}

// Failure builds an error envelope from e. When withStack is true the
// error chain is attached as the stack trace.
func Failure(requestID string, e *Error, withStack bool) *Envelope {
	body := &ErrorBody{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
	if withStack {
		body.Stack = e.Trace()
	}
	return &Envelope{
		RequestID: requestID,
		Success:   false,
		Error:     body,
		Timestamp: Now(),
	}
}

// Write serializes env as JSON with the given status code.
func Write(w http.ResponseWriter, status int, env *Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// WriteError converts err to an *Error and writes the failure envelope.
func WriteError(w http.ResponseWriter, requestID string, err error, withStack bool) {
	e := From(err)
	Write(w, e.Status, Failure(requestID, e, withStack))
}
