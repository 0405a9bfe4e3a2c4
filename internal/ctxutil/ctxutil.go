// Package ctxutil provides shared context key accessors.
//
// The server's auth middleware populates the context; handlers and services
// read it back through these accessors instead of importing the middleware.
package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/kotoba/internal/auth"
)

type contextKey string

const (
	keyClaims   contextKey = "claims"
	keyTenantID contextKey = "tenant_id"
)

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, keyClaims, claims)
	ctx = context.WithValue(ctx, keyTenantID, claims.TenantID)
	return ctx
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// TenantIDFromContext extracts the tenant_id from the context.
func TenantIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyTenantID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
