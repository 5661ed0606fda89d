// Package auth holds caller identities: end users authenticated by bearer
// tokens and machine clients authenticated by API keys.
package auth

import "context"

// Role is the authorization level of a user.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	// RoleSystem is used for transitions driven by external collaborators
	// such as the payment gateway.
	RoleSystem Role = "system"
)

// Identity is the acting user for an operation.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

// IsAdmin reports whether the identity may perform admin-only operations.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// System is the identity attributed to gateway-driven transitions.
var System = Identity{UserID: "system", Role: RoleSystem}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
