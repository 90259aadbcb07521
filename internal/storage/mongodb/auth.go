package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

var (
	_ auth.SessionRepository = (*SessionRepository)(nil)
	_ auth.APIKeyRepository  = (*APIKeyRepository)(nil)
)

// SessionRepository implements auth.SessionRepository backed by MongoDB.
type SessionRepository struct {
	coll *mongo.Collection
}

// NewSessionRepository returns a SessionRepository over db.
func NewSessionRepository(db *mongo.Database) *SessionRepository {
	return &SessionRepository{coll: db.Collection(sessionsCollection)}
}

type sessionDoc struct {
	ID         string     `bson:"_id"`
	UserID     string     `bson:"userId"`
	Admin      bool       `bson:"admin"`
	SecretHash string     `bson:"secretHash"`
	CreatedAt  time.Time  `bson:"createdAt"`
	ExpiresAt  time.Time  `bson:"expiresAt"`
	RevokedAt  *time.Time `bson:"revokedAt"`
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, s *auth.Session) error {
	_, err := r.coll.InsertOne(ctx, sessionDoc(*s))
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*auth.Session, error) {
	var doc sessionDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	s := auth.Session(doc)
	return &s, nil
}

// Revoke marks the session revoked unless it already is, reporting whether
// this call revoked it.
func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "revokedAt": nil},
		bson.M{"$set": bson.M{"revokedAt": at}},
	)
	if err != nil {
		return false, fmt.Errorf("revoking session: %w", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// APIKeyRepository implements auth.APIKeyRepository backed by MongoDB.
type APIKeyRepository struct {
	coll *mongo.Collection
}

// NewAPIKeyRepository returns an APIKeyRepository over db.
func NewAPIKeyRepository(db *mongo.Database) *APIKeyRepository {
	return &APIKeyRepository{coll: db.Collection(apiKeysCollection)}
}

type apiKeyDoc struct {
	ID        string    `bson:"_id"`
	KeyHash   string    `bson:"keyHash"`
	Name      string    `bson:"name"`
	Scopes    []string  `bson:"scopes"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"createdAt"`
}

// FindByHash returns the active key with the given hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var doc apiKeyDoc
	if err := r.coll.FindOne(ctx, bson.M{"keyHash": hash, "active": true}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("getting api key: %w", err)
	}
	return &auth.APIKeyInfo{ID: doc.ID, KeyHash: doc.KeyHash, Name: doc.Name, Scopes: doc.Scopes}, nil
}

// Upsert inserts or replaces a key by id and marks it active.
func (r *APIKeyRepository) Upsert(ctx context.Context, info *auth.APIKeyInfo) error {
	scopes := info.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": info.ID},
		bson.M{
			"$set": bson.M{
				"keyHash": info.KeyHash,
				"name":    info.Name,
				"scopes":  scopes,
				"active":  true,
			},
			"$setOnInsert": bson.M{"createdAt": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting api key %q: %w", info.Name, err)
	}
	return nil
}
