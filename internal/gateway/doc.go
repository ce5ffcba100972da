// Package gateway is the dispatch service of mcp-dispatch.
//
// # Overview
//
// Service owns every runtime component: the agent manager, the action
// registry, the WebSocket session manager, Prometheus metrics, the event
// publisher and the HTTP server. Everything is served from one listener.
//
//	svc, err := gateway.New(cfg, logger, gateway.WithPublisher(pub))
//	if err != nil { ... }
//	if err := svc.RegisterAgent(ctx, "notes", notesAgent); err != nil { ... }
//	return svc.Run(ctx)
//
// # HTTP surface
//
//   - GET /health: {status, timestamp, agents}
//   - GET /metrics: Prometheus exposition, when enabled
//   - {prefix}/agents/{agent}/...: the agent's router (see package agent)
//   - GET {prefix}/ws: WebSocket upgrade (see package session)
//
// Anything else answers 404 with a NOT_FOUND envelope.
//
// Requests pass through one chain, outermost first: request id, panic trap,
// body parsing, authentication, logging, metrics. Authentication is skipped
// for /health, the metrics path and agent health routes, and is disabled
// altogether when no JWT secret is configured.
//
// # Lifecycle
//
// A Service moves through Stopped, Starting, Running and Stopping. Start
// fails with ErrAlreadyRunning unless the service is stopped. Stop runs in
// four phases, each published as a service.phase event once complete:
//
//  1. agents_stopped: every OnStop hook, concurrently
//  2. sessions_closed: WebSocket clients receive close code 1001
//  3. websocket_closed: new upgrades are refused
//  4. http_server_stopped: http.Server.Shutdown returns
//
// Agent hook failures are logged and published as agent.hook_failed; they
// never abort startup or shutdown.
package gateway
