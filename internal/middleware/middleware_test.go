// ABOUTME: Tests for the request id, recover, body, logging and chain stages
// ABOUTME: Uses httptest recorders and a buffer-backed slog logger

package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-dispatch/internal/envelope"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeEnvelope(t *testing.T, body []byte) envelope.Envelope {
	t.Helper()
	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(body, &env), "body: %s", body)
	return env
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mark("a"), nil, mark("b"), mark("c"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("inbound kept", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "trace-42")
		h.ServeHTTP(rec, req)
		assert.Equal(t, "trace-42", seen)
		assert.Equal(t, "trace-42", rec.Header().Get(RequestIDHeader))
	})

	t.Run("inbound sanitized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		h.ServeHTTP(rec, req)
		assert.Equal(t, "script", seen)
	})
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name       string
		panicWith  any
		wantStatus int
		wantCode   envelope.Code
	}{
		{"string panic", "kaboom", http.StatusInternalServerError, envelope.CodeInternal},
		{"plain error", io.ErrUnexpectedEOF, http.StatusInternalServerError, envelope.CodeInternal},
		{"tagged error", envelope.New(envelope.CodeNotFound, "gone"), http.StatusNotFound, envelope.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tt.panicWith)
			}), RequestID(), Recover(discardLogger(), false))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec.Body.Bytes())
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			assert.Empty(t, env.Error.Stack)
			assert.Equal(t, rec.Header().Get(RequestIDHeader), env.RequestID)
		})
	}
}

func TestRecover_DevelopmentStack(t *testing.T) {
	h := Recover(discardLogger(), true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.Contains(t, env.Error.Stack, "kaboom")
	assert.Contains(t, env.Error.Stack, "goroutine")
}

func TestRecover_AfterResponseStarted(t *testing.T) {
	h := Recover(discardLogger(), false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("late")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestRecover_AbortHandlerPropagates(t *testing.T) {
	h := Recover(discardLogger(), false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestBody(t *testing.T) {
	var calls int
	var cached []byte
	var reread []byte
	h := Body(64)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cached = BodyFrom(r.Context())
		reread, _ = io.ReadAll(r.Body)
	}))

	t.Run("valid json", func(t *testing.T) {
		calls = 0
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"input":{"x":1}}`))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(rec, req)

		assert.Equal(t, 1, calls)
		assert.JSONEq(t, `{"input":{"x":1}}`, string(cached))
		assert.Equal(t, cached, reread)
	})

	t.Run("empty body", func(t *testing.T) {
		calls = 0
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, 1, calls)
	})

	t.Run("malformed json", func(t *testing.T) {
		calls = 0
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"input":`))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(rec, req)

		assert.Equal(t, 0, calls)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, envelope.CodeBadRequest, decodeEnvelope(t, rec.Body.Bytes()).Error.Code)
	})

	t.Run("oversized", func(t *testing.T) {
		calls = 0
		rec := httptest.NewRecorder()
		payload := `{"blob":"` + strings.Repeat("x", 100) + `"}`
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload)))

		assert.Equal(t, 0, calls)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, envelope.CodeBadRequest, decodeEnvelope(t, rec.Body.Bytes()).Error.Code)
	})

	t.Run("non-json content type passes through", func(t *testing.T) {
		calls = 0
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain words"))
		req.Header.Set("Content-Type", "text/plain")
		h.ServeHTTP(rec, req)
		assert.Equal(t, 1, calls)
	})

	t.Run("GET is untouched", func(t *testing.T) {
		calls = 0
		cached = []byte("stale")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, 1, calls)
		assert.Nil(t, cached)
	})
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := Logging(logger, LoggingOptions{ExcludePaths: DefaultExcludePaths})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))

	levelOf := func(path string) string {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotContains(t, buf.String(), "secret-token")
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			var entry map[string]any
			if json.Unmarshal([]byte(line), &entry) == nil && entry["msg"] == "request completed" {
				return entry["level"].(string)
			}
		}
		return ""
	}

	assert.Equal(t, "INFO", levelOf("/ok"))
	assert.Equal(t, "WARN", levelOf("/missing"))
	assert.Equal(t, "ERROR", levelOf("/boom"))
	assert.Equal(t, "", levelOf("/health"))
	assert.Equal(t, "", levelOf("/metrics"))
}

func TestLogging_RequestStartedAndResponseTime(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Logging(logger, LoggingOptions{ExcludePaths: DefaultExcludePaths})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/created" {
			w.WriteHeader(http.StatusCreated)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/ok", "/created"} {
		buf.Reset()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Regexp(t, `^\d+ms$`, rec.Header().Get(ResponseTimeHeader), path)
		assert.Contains(t, buf.String(), `"msg":"request started"`, path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, rec.Header().Get(ResponseTimeHeader))
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := WrapWriter(rec)
	assert.Same(t, sw, WrapWriter(sw))
	assert.False(t, sw.Started())
	assert.Equal(t, http.StatusOK, sw.Status())

	_, _ = sw.Write([]byte("hello"))
	assert.True(t, sw.Started())
	assert.Equal(t, int64(5), sw.BytesWritten())
}
