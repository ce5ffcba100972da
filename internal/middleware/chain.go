// ABOUTME: Ordered HTTP middleware composition
// ABOUTME: First middleware in the list is the outermost wrapper

package middleware

import "net/http"

// Middleware wraps a handler. It may short-circuit by writing a response
// without calling next.
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that mws run in the given order on each request.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		h = mws[i](h)
	}
	return h
}
