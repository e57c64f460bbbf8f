package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/drphyllis/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-0123456789abcdef"

func newTestVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(auth.VerifierConfig{Secret: testSecret})
	require.NoError(t, err)
	return v
}

// =============================================================================
// Identity Middleware Tests
// =============================================================================

func TestWithIdentity(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue("Student@Example.com", time.Hour)
	require.NoError(t, err)
	expired, err := v.Issue("student@example.com", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name      string
		setup     func(r *http.Request)
		wantEmail string
	}{
		{
			name:      "bearer token",
			setup:     func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
			wantEmail: "student@example.com",
		},
		{
			name:      "session cookie",
			setup:     func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: token}) },
			wantEmail: "student@example.com",
		},
		{
			name:  "no token",
			setup: func(r *http.Request) {},
		},
		{
			name:  "expired token",
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
		},
		{
			name:  "garbage token",
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") },
		},
	}

	mw := NewIdentityMiddleware(v, discardLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			called := false
			h := mw.WithIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				got = auth.EmailFromRequest(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/usage", nil)
			tt.setup(req)
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.True(t, called, "WithIdentity always continues")
			assert.Equal(t, tt.wantEmail, got)
		})
	}
}

func TestRequireIdentity(t *testing.T) {
	v := newTestVerifier(t)
	mw := NewIdentityMiddleware(v, discardLogger())
	token, err := v.Issue("student@example.com", time.Hour)
	require.NoError(t, err)

	called := false
	h := Stack(mw.WithIdentity, mw.RequireIdentity)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/grade", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
	assert.False(t, called)

	req := httptest.NewRequest(http.MethodPost, "/grade", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestStack_Order(t *testing.T) {
	var order []string
	mk := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Stack(mk("outer"), mk("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
