package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

// maxUpsertAttempts bounds retries of upserts that race on a unique index.
const maxUpsertAttempts = 3

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by MongoDB. Per-user
// counters live in their own collection keyed by (couponId, userId).
type CouponRepository struct {
	coupons *mongo.Collection
	usage   *mongo.Collection
}

// NewCouponRepository returns a CouponRepository over db.
func NewCouponRepository(db *mongo.Database) *CouponRepository {
	return &CouponRepository{
		coupons: db.Collection(couponsCollection),
		usage:   db.Collection(couponUsageCollection),
	}
}

type couponDoc struct {
	ID            string              `bson:"_id"`
	Code          string              `bson:"code"`
	DiscountType  coupon.DiscountType `bson:"discountType"`
	DiscountValue decimal.Decimal     `bson:"discountValue"`
	MinPurchase   decimal.Decimal     `bson:"minPurchase"`
	MaxDiscount   *decimal.Decimal    `bson:"maxDiscount"`
	IsActive      bool                `bson:"isActive"`
	ExpiryDate    time.Time           `bson:"expiryDate"`
	UsageLimit    *int                `bson:"usageLimit"`
	UsageCount    int                 `bson:"usageCount"`
	PerUserLimit  *int                `bson:"perUserLimit"`
	CreatedBy     string              `bson:"createdBy"`
	CreatedAt     time.Time           `bson:"createdAt"`
	UpdatedAt     time.Time           `bson:"updatedAt"`
}

type usageDoc struct {
	CouponID   string    `bson:"couponId"`
	UserID     string    `bson:"userId"`
	UsageCount int       `bson:"usageCount"`
	LastUsedAt time.Time `bson:"lastUsedAt"`
}

// definition holds the fields replaced by Update and Upsert.
func definition(c *coupon.Coupon) bson.M {
	return bson.M{
		"discountType":  c.DiscountType,
		"discountValue": c.DiscountValue,
		"minPurchase":   c.MinPurchase,
		"maxDiscount":   c.MaxDiscount,
		"isActive":      c.IsActive,
		"expiryDate":    c.ExpiryDate,
		"usageLimit":    c.UsageLimit,
		"perUserLimit":  c.PerUserLimit,
		"updatedAt":     c.UpdatedAt,
	}
}

// Create inserts a coupon. A taken code yields coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	if _, err := r.coupons.InsertOne(ctx, couponDoc(*c)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update replaces the definition fields of a coupon.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	set := definition(c)
	set["code"] = c.Code
	res, err := r.coupons.UpdateOne(ctx, bson.M{"_id": c.ID}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if res.MatchedCount == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Upsert inserts a coupon or replaces the definition of the coupon with the
// same code, keeping its id and usage counter.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.coupons.UpdateOne(ctx,
		bson.M{"code": c.Code},
		bson.M{
			"$set": definition(c),
			"$setOnInsert": bson.M{
				"_id":        c.ID,
				"usageCount": c.UsageCount,
				"createdBy":  c.CreatedBy,
				"createdAt":  c.CreatedAt,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Delete removes a coupon and its usage counters.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coupons.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return coupon.ErrNotFound
	}
	if _, err := r.usage.DeleteMany(ctx, bson.M{"couponId": id}); err != nil {
		return fmt.Errorf("deleting usage of coupon %q: %w", id, err)
	}
	return nil
}

// Get returns a coupon by id.
func (r *CouponRepository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByCode returns a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, bson.M{"code": code})
}

// List returns all coupons, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	sort := bson.D{{Key: "createdAt", Value: -1}, {Key: "code", Value: 1}}
	cur, err := r.coupons.Find(ctx, bson.M{}, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	var docs []couponDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading coupons: %w", err)
	}
	out := make([]coupon.Coupon, len(docs))
	for i, d := range docs {
		out[i] = coupon.Coupon(d)
	}
	return out, nil
}

// UserUsage returns how many times userID redeemed the coupon.
func (r *CouponRepository) UserUsage(ctx context.Context, couponID, userID string) (int, error) {
	var doc usageDoc
	err := r.usage.FindOne(ctx, bson.M{"couponId": couponID, "userId": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting coupon usage: %w", err)
	}
	return doc.UsageCount, nil
}

// Redeem records one use. The global counter is bumped by a conditional
// update that re-checks the coupon guards on the server; the per-user
// counter is then upserted under the per-user limit. When the per-user
// write is rejected the global increment is undone.
func (r *CouponRepository) Redeem(ctx context.Context, p coupon.RedeemParams) (*coupon.Coupon, error) {
	filter := bson.M{
		"_id":        p.CouponID,
		"isActive":   true,
		"expiryDate": bson.M{"$gte": p.Now},
		"$or": bson.A{
			bson.M{"usageLimit": nil},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$usageCount", "$usageLimit"}}},
		},
	}
	update := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"usageCount": bson.M{"$add": bson.A{"$usageCount", 1}},
		"isActive": bson.M{"$cond": bson.A{
			bson.M{"$and": bson.A{
				bson.M{"$ne": bson.A{"$usageLimit", nil}},
				bson.M{"$gte": bson.A{bson.M{"$add": bson.A{"$usageCount", 1}}, "$usageLimit"}},
			}},
			false,
			"$isActive",
		}},
		"updatedAt": p.Now,
	}}}}

	var doc couponDoc
	err := r.coupons.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("incrementing coupon usage: %w", err)
		}
		if _, err := r.Get(ctx, p.CouponID); err != nil {
			return nil, err
		}
		return nil, coupon.ErrInvalid
	}
	redeemed := coupon.Coupon(doc)

	if err := r.incrementUserUsage(ctx, p); err != nil {
		if rerr := r.undoRedeem(ctx, &redeemed); rerr != nil {
			return nil, errors.Wrap(rerr, "undoing coupon increment")
		}
		return nil, err
	}
	return &redeemed, nil
}

// incrementUserUsage upserts the per-user counter while it is below the
// limit. When the counter already sits at the limit the filter misses and
// the upsert collides with the unique (couponId, userId) index. A collision
// between two first-time upserts is retried.
func (r *CouponRepository) incrementUserUsage(ctx context.Context, p coupon.RedeemParams) error {
	filter := bson.M{"couponId": p.CouponID, "userId": p.UserID}
	if p.PerUserLimit != nil {
		filter["usageCount"] = bson.M{"$lt": *p.PerUserLimit}
	}
	update := bson.M{
		"$inc": bson.M{"usageCount": 1},
		"$set": bson.M{"lastUsedAt": p.Now},
	}

	for attempt := 1; ; attempt++ {
		_, err := r.usage.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("incrementing user usage: %w", err)
		}
		used, uerr := r.UserUsage(ctx, p.CouponID, p.UserID)
		if uerr != nil {
			return uerr
		}
		if p.PerUserLimit != nil && used >= *p.PerUserLimit {
			return coupon.ErrPerUserLimitReached
		}
		if attempt == maxUpsertAttempts {
			return fmt.Errorf("incrementing user usage: %w", err)
		}
	}
}

// undoRedeem reverts the global increment recorded in c, reactivating the
// coupon if that increment was what deactivated it.
func (r *CouponRepository) undoRedeem(ctx context.Context, c *coupon.Coupon) error {
	set := bson.M{}
	if !c.IsActive && c.UsageLimit != nil && c.UsageCount == *c.UsageLimit {
		set["isActive"] = true
	}
	update := bson.M{"$inc": bson.M{"usageCount": -1}}
	if len(set) > 0 {
		update["$set"] = set
	}
	_, err := r.coupons.UpdateOne(ctx, bson.M{"_id": c.ID, "usageCount": bson.M{"$gt": 0}}, update)
	return err
}

func (r *CouponRepository) findOne(ctx context.Context, filter bson.M) (*coupon.Coupon, error) {
	var doc couponDoc
	if err := r.coupons.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon: %w", err)
	}
	c := coupon.Coupon(doc)
	return &c, nil
}
