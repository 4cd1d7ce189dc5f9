// Package auth verifies session tokens and carries the resulting identity
// through request contexts.
package auth

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is returned when a request carries no valid session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a valid session lacks a capability.
	ErrForbidden = errors.New("forbidden")
)

// Identity is the verified caller of a request.
type Identity struct {
	UserID  int64
	Email   string
	IsAdmin bool
}

// RequireAdmin returns ErrForbidden unless id carries the admin capability.
func (id Identity) RequireAdmin() error {
	if !id.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// Authenticator resolves the identity behind an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
