// Package config handles configuration loading for mcp-dispatch.
//
// # Overview
//
// Configuration is built in three layers: compiled-in defaults, an optional
// YAML file, then MCP_* environment variables. Each layer only overrides the
// values it sets.
//
// # Environment Variable Expansion
//
// Values in the YAML file can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MCP_DISPATCH_SECRET}"
//
// # Environment Overrides
//
// Every field can be overridden directly, for example MCP_PORT=8080 or
// MCP_MODE=development. See the struct tags in config.go for the full list.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  host: "0.0.0.0"
//	  port: 3000
//	  prefix: "/api/v1"          # agent routes live under {prefix}/agents/{name}
//	  max_body_bytes: 10485760
//	  mode: "production"         # development exposes stack traces
//	  shutdown_timeout: "5s"
//
// Authentication (omit jwt_secret to disable):
//
//	auth:
//	  jwt_secret: "${MCP_JWT_SECRET}"   # at least 32 characters
//	  issuer: "https://auth.example.com"
//	  audience: "mcp-dispatch"
//
// Events:
//
//	events:
//	  nats_url: "nats://127.0.0.1:4222"
//	  embedded: false            # run an in-process NATS server instead
//	  subject_prefix: "mcp.events"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
