// ABOUTME: Error trap stage: turns panics from later stages and routes into one error envelope
// ABOUTME: Logs only when the response has already started

package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/2389/mcp-dispatch/internal/envelope"
)

// Recover converts panics into an error envelope exactly once. A panic value
// that is (or wraps) an *envelope.Error keeps its code and status, anything
// else becomes INTERNAL_ERROR. Stack traces are exposed only when
// development is true.
func Recover(logger *slog.Logger, development bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := WrapWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				reqID := RequestIDFrom(r.Context())
				stack := string(debug.Stack())
				e := panicError(rec)

				logger.Error("panic recovered",
					"error", rec,
					"request_id", reqID,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", stack,
				)

				if sw.Started() {
					return
				}

				env := envelope.Failure(reqID, e, false)
				if development {
					env.Error.Stack = e.Trace() + "\n\n" + stack
				}
				envelope.Write(sw, e.Status, env)
			}()
			next.ServeHTTP(sw, r)
		})
	}
}

func panicError(rec any) *envelope.Error {
	err, ok := rec.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", rec)
	}
	var e *envelope.Error
	if errors.As(err, &e) {
		return e
	}
	return envelope.Wrap(envelope.CodeInternal, "internal server error", err)
}
