// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, error codes, public paths and query tokens

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// countingVerifier records how often Verify is called.
type countingVerifier struct {
	inner TokenVerifier
	calls atomic.Int32
}

func (c *countingVerifier) Verify(token string) (*Identity, error) {
	c.calls.Add(1)
	return c.inner.Verify(token)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not an envelope: %v (%s)", err, rec.Body.String())
	}
	if body.Success {
		t.Fatal("expected success=false")
	}
	return body.Error.Code
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newVerifier(t)
	mw := HTTPAuthMiddleware(verifier, MiddlewareOptions{})

	var got *Identity
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/a/actions/x", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims("user-123")))
	rec := httptest.NewRecorder()

	mw(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got == nil || got.Subject != "user-123" {
		t.Errorf("identity = %+v, want subject user-123", got)
	}
}

func TestHTTPAuthMiddleware_LowercaseScheme(t *testing.T) {
	verifier := newVerifier(t)
	mw := HTTPAuthMiddleware(verifier, MiddlewareOptions{})

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/a/actions/x", nil)
	req.Header.Set("Authorization", "bearer "+signToken(t, testSecret, validClaims("user-123")))
	rec := httptest.NewRecorder()

	mw(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("expected handler to run once, ran %d times", calls.Load())
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	expired := validClaims("user-123")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name           string
		header         string
		wantCode       string
		wantVerifyCall bool
	}{
		{"missing header", "", "UNAUTHORIZED", false},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "UNAUTHORIZED", false},
		{"empty bearer", "Bearer ", "UNAUTHORIZED", false},
		{"garbage token", "Bearer nope", "INVALID_TOKEN", true},
		{"wrong secret", "Bearer " + signToken(t, []byte("another-secret-another-secret-123"), validClaims("u")), "INVALID_TOKEN", true},
		{"expired", "Bearer " + signToken(t, testSecret, expired), "TOKEN_EXPIRED", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &countingVerifier{inner: newVerifier(t)}
			var handlerCalls int
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalls++
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/a/actions/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			HTTPAuthMiddleware(verifier, MiddlewareOptions{})(handler).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if handlerCalls != 0 {
				t.Errorf("handler called %d times, want 0", handlerCalls)
			}
			if called := verifier.calls.Load() > 0; called != tt.wantVerifyCall {
				t.Errorf("verifier called = %v, want %v", called, tt.wantVerifyCall)
			}
		})
	}
}

func TestHTTPAuthMiddleware_PublicPaths(t *testing.T) {
	mw := HTTPAuthMiddleware(newVerifier(t), MiddlewareOptions{
		PublicPaths: []string{"/health", "/metrics", "/api/v1/agents/*/health"},
	})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, p := range []string{"/health", "/metrics", "/api/v1/agents/notes/health"} {
		t.Run(p, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mw(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
			if rec.Code != http.StatusNoContent {
				t.Errorf("status = %d, want 204", rec.Code)
			}
		})
	}

	t.Run("nested path is not public", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents/notes/actions/health", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestHTTPAuthMiddleware_QueryToken(t *testing.T) {
	mw := HTTPAuthMiddleware(newVerifier(t), MiddlewareOptions{
		QueryTokenPaths: []string{"/api/v1/ws"},
	})

	var got *Identity
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	})

	token := signToken(t, testSecret, validClaims("ws-user"))

	t.Run("accepted on ws path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws?access_token="+token, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got == nil || got.Subject != "ws-user" {
			t.Errorf("identity = %+v", got)
		}
	})

	t.Run("ignored elsewhere", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents/a/health?access_token="+token, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header    string
		wantToken string
		wantErr   bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"BEARER  abc ", "abc", false},
		{"Bearer", "", true},
		{"", "", true},
		{"Token abc", "", true},
		{"Bearer ", "", true},
	}
	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		if token != tt.wantToken || (errMsg != "") != tt.wantErr {
			t.Errorf("extractBearerToken(%q) = (%q, %q)", tt.header, token, errMsg)
		}
	}
}
