package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultIssuer     = "kart-checkout"
)

// Claims are the access token claims.
type Claims struct {
	Admin     bool   `json:"adm"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	// Secret signs access tokens and keys refresh secret hashes.
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
}

// TokenService issues and verifies session-bound HS256 access tokens.
type TokenService struct {
	sessions SessionRepository
	cfg      TokenConfig
	now      func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(sessions SessionRepository, cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	return &TokenService{sessions: sessions, cfg: cfg, now: time.Now}, nil
}

// Issue creates a session for the user and returns its tokens.
func (s *TokenService) Issue(ctx context.Context, userID string, admin bool) (*TokenPair, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "generate refresh secret")
	}
	encoded := base64.RawURLEncoding.EncodeToString(secret)

	now := s.now()
	sess := &Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		Admin:      admin,
		SecretHash: s.hashSecret(encoded),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.RefreshTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "create session")
	}

	accessExp := now.Add(s.cfg.AccessTTL)
	if accessExp.After(sess.ExpiresAt) {
		accessExp = sess.ExpiresAt
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Admin:     admin,
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})
	signed, err := token.SignedString(s.cfg.Secret)
	if err != nil {
		return nil, errors.Wrap(err, "sign access token")
	}

	zctx.From(ctx).Info("Session issued",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.Bool("admin", admin),
	)
	return &TokenPair{
		AccessToken:      signed,
		AccessExpiresAt:  accessExp,
		RefreshToken:     sess.ID + "." + encoded,
		RefreshExpiresAt: sess.ExpiresAt,
		SessionID:        sess.ID,
	}, nil
}

// Authenticate verifies an access token and the session it is bound to.
func (s *TokenService) Authenticate(ctx context.Context, token string) (*Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		zctx.From(ctx).Debug("Access token rejected", zap.Error(err))
		return nil, ErrUnauthorized
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrUnauthorized
	}

	sess, err := s.activeSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.Subject {
		return nil, ErrUnauthorized
	}

	return &Principal{
		UserID:    sess.UserID,
		Admin:     sess.Admin,
		SessionID: sess.ID,
		Method:    MethodToken,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The old session is
// revoked; a refresh token can be used once.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	sid, secret, ok := strings.Cut(refreshToken, ".")
	if !ok || sid == "" || secret == "" {
		return nil, ErrUnauthorized
	}

	sess, err := s.activeSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	want, err := hex.DecodeString(sess.SecretHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	got, _ := hex.DecodeString(s.hashSecret(secret))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return nil, ErrUnauthorized
	}

	revoked, err := s.sessions.Revoke(ctx, sess.ID, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "revoke session")
	}
	if !revoked {
		// A concurrent refresh won.
		return nil, ErrUnauthorized
	}
	return s.Issue(ctx, sess.UserID, sess.Admin)
}

// Revoke ends a session. Revoking an already revoked session is a no-op.
func (s *TokenService) Revoke(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.Revoke(ctx, sessionID, s.now()); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return errors.Wrap(err, "revoke session")
	}
	zctx.From(ctx).Info("Session revoked", zap.String("session_id", sessionID))
	return nil
}

func (s *TokenService) activeSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "get session")
	}
	if !sess.Active(s.now()) {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

func (s *TokenService) hashSecret(secret string) string {
	mac := hmac.New(sha256.New, s.cfg.Secret)
	mac.Write([]byte("refresh:"))
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
