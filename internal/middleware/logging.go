// ABOUTME: Structured request logging stage
// ABOUTME: Level follows the response status; health and metrics probes are skipped

package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LoggingOptions configures the logging stage.
type LoggingOptions struct {
	// ExcludePaths are path prefixes that are never logged.
	ExcludePaths []string
	// LogBodies logs cached request bodies at debug level.
	LogBodies bool
}

// DefaultExcludePaths are the probe endpoints skipped by Logging.
var DefaultExcludePaths = []string{"/health", "/metrics"}

// ResponseTimeHeader carries the handling time in milliseconds, e.g. "12ms".
const ResponseTimeHeader = "X-Response-Time"

// Logging logs the start and completion of every request not excluded and
// sets ResponseTimeHeader on the response. Authorization and Cookie headers
// are never logged.
func Logging(logger *slog.Logger, opts LoggingOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded(r.URL.Path, opts.ExcludePaths) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := WrapWriter(w)
			sw.OnHeader(func(h http.Header) {
				h.Set(ResponseTimeHeader, fmt.Sprintf("%dms", time.Since(start).Milliseconds()))
			})
			reqID := RequestIDFrom(r.Context())

			attrs := []any{
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			}
			if opts.LogBodies {
				if body := BodyFrom(r.Context()); len(body) > 0 {
					attrs = append(attrs, "body", string(body))
				}
			}
			logger.Info("request started", attrs...)

			next.ServeHTTP(sw, r)

			status := sw.Status()
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request completed",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"bytes", sw.BytesWritten(),
			)
		})
	}
}

func excluded(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
