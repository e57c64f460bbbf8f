package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestVerifier(t *testing.T, issuer, audience string) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{Secret: testSecret, Issuer: issuer, Audience: audience})
	require.NoError(t, err)
	return v
}

func TestVerify(t *testing.T) {
	v := newTestVerifier(t, "drphyllis", "api")

	token, err := v.Issue("  Student@Example.com ", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "student@example.com", id.Email)
}

func TestVerify_Rejects(t *testing.T) {
	v := newTestVerifier(t, "drphyllis", "api")
	other := newTestVerifier(t, "someone-else", "api")

	expired, err := v.Issue("a@example.com", -time.Minute)
	require.NoError(t, err)

	wrongIssuer, err := other.Issue("a@example.com", time.Hour)
	require.NoError(t, err)

	noEmail, err := v.Issue("", time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Email: "a@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "drphyllis",
			Audience:  jwt.ClaimStrings{"api"},
		},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "expired", token: expired},
		{name: "wrong issuer", token: wrongIssuer},
		{name: "missing email", token: noEmail},
		{name: "alg none", token: unsigned},
		{name: "garbage", token: "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.True(t, errors.Is(err, ErrInvalidToken))
		})
	}
}

func TestVerifyRequest(t *testing.T) {
	v := newTestVerifier(t, "", "")
	token, err := v.Issue("a@example.com", time.Hour)
	require.NoError(t, err)

	bearer := httptest.NewRequest(http.MethodGet, "/usage", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)
	id, err := v.VerifyRequest(bearer)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", id.Email)

	cookie := httptest.NewRequest(http.MethodGet, "/usage", nil)
	cookie.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	id, err = v.VerifyRequest(cookie)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", id.Email)

	_, err = v.VerifyRequest(httptest.NewRequest(http.MethodGet, "/usage", nil))
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestNewVerifier_ShortSecret(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{Secret: "short"})
	assert.Error(t, err)
}

func TestIdentityContext(t *testing.T) {
	assert.Nil(t, GetIdentity(context.Background()))

	ctx := SetIdentity(context.Background(), &Identity{Email: "a@example.com"})
	assert.Equal(t, "a@example.com", GetIdentity(ctx).Email)

	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	assert.Equal(t, "a@example.com", EmailFromRequest(r))
}
