package middleware

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/drphyllis/internal/auth"
	"github.com/DukeRupert/drphyllis/internal/csrf"
	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/handler"
)

// CSRFMiddleware guards cookie-authenticated requests.
type CSRFMiddleware struct {
	isSecure bool
	logger   *slog.Logger
}

// NewCSRFMiddleware creates a new CSRFMiddleware.
func NewCSRFMiddleware(isSecure bool, logger *slog.Logger) *CSRFMiddleware {
	return &CSRFMiddleware{isSecure: isSecure, logger: logger}
}

// Protect issues the token cookie on safe requests that carry a session
// cookie and rejects unsafe ones whose X-CSRF-Token header does not match.
func (m *CSRFMiddleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !csrf.NeedsCheck(r) {
			if _, err := r.Cookie(auth.SessionCookieName); err == nil {
				if _, err := csrf.EnsureToken(w, r, m.isSecure); err != nil {
					m.logger.Error("failed to issue csrf token", "error", err)
				}
			}
			next.ServeHTTP(w, r)
			return
		}

		if !csrf.ValidateRequest(r) {
			m.logger.Warn("csrf token mismatch",
				"path", r.URL.Path,
				"method", r.Method,
				"ip", getClientIP(r),
			)
			handler.ErrorResponse(w, r, m.logger,
				domain.Errorf(domain.EFORBIDDEN, "csrf.protect", "Missing or invalid %s header", csrf.HeaderName))
			return
		}
		next.ServeHTTP(w, r)
	})
}
