package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Metrics Auth Middleware Tests
// =============================================================================

func TestMetricsAuthMiddleware_Credentials(t *testing.T) {
	mw := NewMetricsAuthMiddleware("admin", "secret123")
	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("metrics data"))
	}))

	tests := []struct {
		name   string
		auth   func(r *http.Request)
		status int
	}{
		{
			name:   "valid",
			auth:   func(r *http.Request) { r.SetBasicAuth("admin", "secret123") },
			status: http.StatusOK,
		},
		{
			name:   "missing",
			auth:   func(r *http.Request) {},
			status: http.StatusUnauthorized,
		},
		{
			name:   "wrong username",
			auth:   func(r *http.Request) { r.SetBasicAuth("root", "secret123") },
			status: http.StatusUnauthorized,
		},
		{
			name:   "wrong password",
			auth:   func(r *http.Request) { r.SetBasicAuth("admin", "nope") },
			status: http.StatusUnauthorized,
		},
		{
			name:   "malformed header",
			auth:   func(r *http.Request) { r.Header.Set("Authorization", "Basic !!!") },
			status: http.StatusUnauthorized,
		},
		{
			name: "header injection",
			auth: func(r *http.Request) {
				raw := base64.StdEncoding.EncodeToString([]byte("admin:secret123\r\nX-Injected: header"))
				r.Header.Set("Authorization", "Basic "+raw)
			},
			status: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			tt.auth(req)
			rec := httptest.NewRecorder()

			wrapped.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
			} else {
				assert.Equal(t, "metrics data", rec.Body.String())
			}
		})
	}
}

func TestMetricsAuthMiddleware_DisabledWhenNoCredentials(t *testing.T) {
	mw := NewMetricsAuthMiddleware("", "")
	called := false
	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsAuthMiddleware_ServesPrometheus(t *testing.T) {
	mw := NewMetricsAuthMiddleware("admin", "secret123")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "secret123")
	rec := httptest.NewRecorder()
	mw.MetricsHandler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
