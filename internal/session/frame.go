// ABOUTME: WebSocket frame shapes exchanged with clients
// ABOUTME: Inbound frames keep the payload raw; outbound frames carry any JSON value

package session

import (
	"encoding/json"

	"github.com/2389/mcp-dispatch/internal/envelope"
)

// Frame types produced by the session manager itself.
const (
	TypePing     = "ping"
	TypePong     = "pong"
	TypeResponse = "response"
	TypeError    = "error"
)

// Inbound is a client frame.
type Inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Agent     string          `json:"agent,omitempty"`
	Action    string          `json:"action,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Frame is a server frame. Every reply carries the inbound request id.
type Frame struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Agent     string      `json:"agent,omitempty"`
	Payload   any         `json:"payload,omitempty"`
	Error     *FrameError `json:"error,omitempty"`
}

// FrameError is the error member of an error frame.
type FrameError struct {
	Code    envelope.Code `json:"code"`
	Message string        `json:"message"`
	Details any           `json:"details,omitempty"`
	Stack   string        `json:"stack,omitempty"`
}

// errorFrame converts e into an error frame.
func errorFrame(requestID string, e *envelope.Error, stack string) *Frame {
	return &Frame{
		Type:      TypeError,
		RequestID: requestID,
		Error: &FrameError{
			Code:    e.Code,
			Message: e.Message,
			Details: e.Details,
			Stack:   stack,
		},
	}
}
