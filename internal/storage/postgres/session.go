package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

const (
	createSessionSQL = `INSERT INTO sessions (id, user_id, admin, secret_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getSessionSQL = `SELECT id, user_id, admin, secret_hash, created_at, expires_at, revoked_at
		FROM sessions WHERE id = $1`

	revokeSessionSQL = `UPDATE sessions SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL`
)

var _ auth.SessionRepository = (*SessionRepository)(nil)

// SessionRepository persists token sessions.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *auth.Session) error {
	_, err := r.pool.Exec(ctx, createSessionSQL,
		s.ID, s.UserID, s.Admin, s.SecretHash, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Get returns the session with the given ID.
func (r *SessionRepository) Get(ctx context.Context, id string) (*auth.Session, error) {
	var s auth.Session
	err := r.pool.QueryRow(ctx, getSessionSQL, id).Scan(
		&s.ID, &s.UserID, &s.Admin, &s.SecretHash, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &s, nil
}

// Revoke marks the session revoked if it is still active and reports
// whether this call revoked it.
func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, revokeSessionSQL, id, at)
	if err != nil {
		return false, fmt.Errorf("revoking session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
