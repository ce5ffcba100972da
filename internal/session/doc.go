// Package session manages WebSocket clients of the dispatch service.
//
// Manager upgrades requests on the WebSocket path, assigns each connection a
// UUID and runs a receive loop in the request goroutine. Every inbound frame
// is handled in its own goroutine, so a slow handler never blocks the next
// frame on the same connection. Writes are serialized per connection.
//
// Frames are routed in this order:
//
//   - malformed JSON: error frame with BAD_REQUEST
//   - type "ping": pong with a millisecond timestamp
//   - no agent: echoed back as a "response" frame
//   - agent and action: invoked through the action registry
//   - agent only: passed to the agent's HandleMessage
//
// Replies always carry the requestId of the frame they answer.
//
// During shutdown the service calls CloseAll, which sends close code 1001
// with reason "Server shutting down" to every client, then Close, which
// refuses further upgrades.
package session
