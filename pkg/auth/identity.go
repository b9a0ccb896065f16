// Package auth provides the request identity and permission policy boundary
// for warehouse-engine. Identity is attached to the request context by the
// middleware and consumed by services through the Policy interface.
package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// IdentityKey is the context key for storing the request identity.
const IdentityKey contextKey = "identity"

// Role is a coarse permission level within an organization.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAnalyst  Role = "analyst"
	RoleReadonly Role = "readonly"
)

// Identity describes the authenticated caller: which organization the request
// is scoped to and what the caller may do within it.
type Identity struct {
	Organization uuid.UUID
	UserID       string
	Role         Role
}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity retrieves the identity from the request context.
// Returns nil and false if no identity is present.
func GetIdentity(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(*Identity)
	return id, ok
}

// ExtractIdentity extracts the identity from context, failing if the request
// is unauthenticated or scoped to no organization.
func ExtractIdentity(ctx context.Context) (*Identity, error) {
	id, ok := GetIdentity(ctx)
	if !ok || id == nil {
		return nil, fmt.Errorf("authentication required: no identity in context")
	}
	if id.Organization == uuid.Nil {
		return nil, fmt.Errorf("missing organization in identity")
	}
	return id, nil
}
