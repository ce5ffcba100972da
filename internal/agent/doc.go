// Package agent defines the pluggable agent contract and its HTTP surface.
//
// # Agents
//
// An Agent contributes actions (registered in the shared registry) and may
// answer WebSocket messages addressed to it. Most agents embed *Base:
//
//	type Calculator struct{ *agent.Base }
//
//	func (c *Calculator) Actions() []registry.Action {
//	    return []registry.Action{{Name: "add", Schema: addSchema, Handler: c.add}}
//	}
//
// Base answers "ping" with a timestamped "pong" and rejects unknown message
// types with UNSUPPORTED_MESSAGE_TYPE. Additional types are added with
// Base.Handle.
//
// # Manager
//
// Manager tracks registered agents by name in registration order. A second
// registration under the same name fails with ErrAgentAlreadyRegistered and
// leaves the first in place.
//
// # Router
//
// NewRouter builds the handler mounted at {prefix}/agents/{name}:
//
//   - GET /health: {status, agent, timestamp, actions}
//   - POST /actions/{action}: body {"input": ...}, answered with the envelope
//
// A missing "input" field is treated as an empty object.
package agent
