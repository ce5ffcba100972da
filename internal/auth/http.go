// ABOUTME: HTTP middleware for JWT authentication of API and WebSocket requests
// ABOUTME: Extracts the bearer token, verifies it and adds the Identity to context

package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/2389/mcp-dispatch/internal/envelope"
	"github.com/2389/mcp-dispatch/internal/middleware"
)

// QueryTokenParam is the query parameter accepted on WebSocket upgrade paths,
// where browsers cannot set an Authorization header.
const QueryTokenParam = "access_token"

// MiddlewareOptions configures HTTPAuthMiddleware.
type MiddlewareOptions struct {
	// PublicPaths are path.Match patterns that skip authentication.
	PublicPaths []string
	// QueryTokenPaths are exact paths that also accept ?access_token=.
	QueryTokenPaths []string
	Logger          *slog.Logger
}

// extractBearerToken extracts a bearer token from the Authorization header.
// The scheme is matched case-insensitively.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	scheme, rest, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(rest)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// verifyError maps a verifier error onto the client-facing taxonomy.
func verifyError(err error) *envelope.Error {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return envelope.New(envelope.CodeTokenExpired, "token expired")
	case errors.Is(err, ErrMissingToken):
		return envelope.New(envelope.CodeUnauthorized, "missing token")
	default:
		return envelope.New(envelope.CodeInvalidToken, "invalid token")
	}
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// Missing or malformed credentials never reach the verifier.
func HTTPAuthMiddleware(verifier TokenVerifier, opts MiddlewareOptions) middleware.Middleware {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path, opts.PublicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			reqID := middleware.RequestIDFrom(r.Context())

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" && r.Header.Get("Authorization") == "" && acceptsQueryToken(r, opts.QueryTokenPaths) {
				token, errMsg = r.URL.Query().Get(QueryTokenParam), ""
				if token == "" {
					errMsg = "missing authorization header"
				}
			}
			if errMsg != "" {
				envelope.WriteError(w, reqID, envelope.New(envelope.CodeUnauthorized, errMsg), false)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("token rejected", "request_id", reqID, "path", r.URL.Path, "error", err)
				envelope.WriteError(w, reqID, verifyError(err), false)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func isPublic(p string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

func acceptsQueryToken(r *http.Request, paths []string) bool {
	if r.Method != http.MethodGet {
		return false
	}
	for _, p := range paths {
		if r.URL.Path == p {
			return true
		}
	}
	return false
}
