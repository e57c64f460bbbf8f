// Package auth provides identity verification and context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// identityContextKey is the key used to store the verified identity in context.
	identityContextKey contextKey = "identity"
)

// Identity is the verified caller. Email is the only key the entitlement
// store knows.
type Identity struct {
	Email   string
	Subject string
}

// GetIdentity retrieves the verified identity from the context.
//
// Returns nil if the request carried no valid identity.
func GetIdentity(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}

// EmailFromRequest returns the verified email, or "" if there is none.
func EmailFromRequest(r *http.Request) string {
	if id := GetIdentity(r.Context()); id != nil {
		return id.Email
	}
	return ""
}

// SetIdentity stores a verified identity in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}
