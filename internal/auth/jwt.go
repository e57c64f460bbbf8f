package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName is the cookie that may carry the identity token.
const SessionCookieName = "drphyllis_session"

var (
	// ErrNoToken is returned when the request carries no token at all.
	ErrNoToken = errors.New("no identity token")

	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid identity token")
)

// VerifierConfig configures token verification.
type VerifierConfig struct {
	Secret   string
	Issuer   string // optional
	Audience string // optional
}

// Verifier checks HS256 identity tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// Claims are the identity claims the service reads.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	return &Verifier{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

// Verify parses and validates a token and returns its identity.
func (v *Verifier) Verify(raw string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	email := domain.NormalizeEmail(claims.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}

	return &Identity{Email: email, Subject: claims.Subject}, nil
}

// VerifyRequest reads the token from the Authorization header or the
// session cookie.
func (v *Verifier) VerifyRequest(r *http.Request) (*Identity, error) {
	raw := TokenFromRequest(r)
	if raw == "" {
		return nil, ErrNoToken
	}
	return v.Verify(raw)
}

// Issue signs a token for email. Used by tooling and tests; production
// tokens come from the sign-in provider.
func (v *Verifier) Issue(email string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest extracts a bearer token or the session cookie value.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}
