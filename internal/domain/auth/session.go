package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrSessionNotFound is returned by SessionRepository when no session
// matches.
var ErrSessionNotFound = errors.New("session not found")

// Session is a persisted login. Refresh tokens and access tokens are bound
// to it; revoking the session invalidates both.
type Session struct {
	ID     string
	UserID string
	Admin  bool
	// SecretHash is the hex HMAC of the refresh secret.
	SecretHash string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// Active reports whether the session can still authenticate at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// SessionRepository persists sessions.
//
// Revoke is a guarded write: it marks the session revoked only if it is not
// revoked yet and reports whether this call did so.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
}
