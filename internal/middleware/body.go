// ABOUTME: Body parsing stage with a size cap
// ABOUTME: Rejects oversized or malformed JSON bodies and caches the bytes for later stages

package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/2389/mcp-dispatch/internal/envelope"
)

// DefaultMaxBodyBytes is the body cap used when none is configured.
const DefaultMaxBodyBytes int64 = 10 << 20

type bodyKey struct{}

// Body reads request bodies of POST, PUT and PATCH requests up to maxBytes.
// Bodies that exceed the cap, or that claim to be JSON (or carry no content
// type) but do not parse, are answered with BAD_REQUEST. The bytes are cached
// in the context and r.Body is replaced with a fresh reader over them.
func Body(maxBytes int64) Middleware {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)
				return
			}

			reqID := RequestIDFrom(r.Context())

			data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					envelope.WriteError(w, reqID, envelope.Newf(envelope.CodeBadRequest, "request body exceeds %d bytes", maxBytes), false)
					return
				}
				envelope.WriteError(w, reqID, envelope.Wrap(envelope.CodeBadRequest, "failed to read request body", err), false)
				return
			}

			if len(bytes.TrimSpace(data)) > 0 && isJSONContent(r.Header.Get("Content-Type")) && !json.Valid(data) {
				envelope.WriteError(w, reqID, envelope.New(envelope.CodeBadRequest, "malformed JSON body"), false)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(data))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, data)))
		})
	}
}

// BodyFrom returns the body cached by the Body stage, or nil.
func BodyFrom(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyKey{}).([]byte)
	return b
}

func isJSONContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
