package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants admin rights to an API key.
const ScopeAdmin = "admin"

// ErrKeyNotFound is returned by APIKeyRepository when no key matches.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// APIKeyRepository provides lookup of API keys by their HMAC hash.
type APIKeyRepository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
	Upsert(ctx context.Context, info *APIKeyInfo) error
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// APIKeyAuthenticator verifies raw API keys.
type APIKeyAuthenticator struct {
	keys   APIKeyRepository
	pepper []byte
}

// NewAPIKeyAuthenticator creates an APIKeyAuthenticator with the given key
// repository and HMAC pepper.
func NewAPIKeyAuthenticator(keys APIKeyRepository, pepper []byte) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys, pepper: pepper}
}

// Authenticate computes the HMAC-SHA256 of the key, looks it up and compares
// the stored hash in constant time.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, key string) (*Principal, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "lookup api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}

	return &Principal{
		UserID: "apikey:" + info.Name,
		Admin:  slices.Contains(info.Scopes, ScopeAdmin),
		Method: MethodAPIKey,
	}, nil
}
