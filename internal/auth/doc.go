// Package auth provides request authentication for mcp-dispatch.
//
// # Tokens
//
// Callers authenticate with HS256 JWTs signed with the configured
// auth.jwt_secret (at least 32 bytes). Tokens are only verified here; issuing
// them is the job of an external identity provider.
//
//	verifier, err := auth.NewJWTVerifier(secret,
//	    auth.WithIssuer("https://auth.example.com"),
//	    auth.WithAudience("mcp-dispatch"),
//	)
//
// The "sub" claim is required and becomes Identity.Subject. Roles are read
// from a "roles" array or a single "role" string.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware reads "Authorization: Bearer <token>" and answers
// failures with the error envelope:
//
//   - UNAUTHORIZED: header missing, wrong scheme or empty token
//   - INVALID_TOKEN: bad signature, wrong issuer or audience, missing sub
//   - TOKEN_EXPIRED: exp in the past
//
// Public paths (health and metrics probes) bypass the check. WebSocket
// upgrade paths additionally accept ?access_token=<token>.
//
// # Context
//
// Downstream handlers read the caller with FromContext:
//
//	if id := auth.FromContext(ctx); id != nil {
//	    log.Info("call", "subject", id.Subject)
//	}
package auth
