// Package auth authenticates API callers with API keys or session-bound
// access tokens.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is returned when credentials are missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when valid credentials lack the required role.
	ErrForbidden = errors.New("forbidden")
)

// Method names how a principal was authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodToken  Method = "token"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID string
	Admin  bool
	// SessionID is set for token-authenticated callers.
	SessionID string
	Method    Method
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// RequireAdmin returns the principal in ctx if it is an admin.
func RequireAdmin(ctx context.Context) (*Principal, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}
	if !p.Admin {
		return nil, ErrForbidden
	}
	return p, nil
}
