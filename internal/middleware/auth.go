// Package middleware contains HTTP middleware for the Dr-phyllis API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/drphyllis/internal/auth"
	"github.com/DukeRupert/drphyllis/internal/handler"
)

// IdentityMiddleware attaches the verified caller to the request context.
//
// Create one instance and use its methods as middleware.
type IdentityMiddleware struct {
	verifier *auth.Verifier
	logger   *slog.Logger
}

// NewIdentityMiddleware creates a new IdentityMiddleware instance.
func NewIdentityMiddleware(verifier *auth.Verifier, logger *slog.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// =============================================================================
// WithIdentity Middleware
// =============================================================================

// WithIdentity verifies the bearer token or session cookie, if any, and
// stores the identity in the request context. Requests without a valid
// token continue anonymously.
//
// The identity can be retrieved in handlers using:
//
//	email := auth.EmailFromRequest(r)
func (m *IdentityMiddleware) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.verifier.VerifyRequest(r)
		if err != nil {
			if !errors.Is(err, auth.ErrNoToken) {
				m.logger.Debug("rejected identity token", "path", r.URL.Path, "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetIdentity(r.Context(), id)))
	})
}

// =============================================================================
// RequireIdentity Middleware
// =============================================================================

// RequireIdentity rejects requests without a verified identity with 401,
// before any quota logic runs.
//
// IMPORTANT: This middleware must be used AFTER WithIdentity in the chain.
//
//	mux.Handle("POST /grade", Stack(idMw.WithIdentity, idMw.RequireIdentity)(gradeHandler))
func (m *IdentityMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetIdentity(r.Context()) == nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(securityMw.Handler, metrics.Middleware, loggingMw.Handler)
//	srv.Handler = stack(mux)
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&IdentityMiddleware{}).WithIdentity
	_ func(http.Handler) http.Handler = (&IdentityMiddleware{}).RequireIdentity
)
