package mongodb

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by MongoDB. Each user has
// one document whose items array keeps insertion order.
type CartRepository struct {
	coll *mongo.Collection
}

// NewCartRepository returns a CartRepository over db.
func NewCartRepository(db *mongo.Database) *CartRepository {
	return &CartRepository{coll: db.Collection(cartsCollection)}
}

type cartDoc struct {
	UserID string        `bson:"_id"`
	Items  []cartItemDoc `bson:"items"`
}

type cartItemDoc struct {
	ProductID string          `bson:"productId"`
	Quantity  int             `bson:"quantity"`
	Price     decimal.Decimal `bson:"price"`
	TaxRate   decimal.Decimal `bson:"taxRate"`
}

// Get returns the cart lines in insertion order.
func (r *CartRepository) Get(ctx context.Context, userID string) ([]cart.Item, error) {
	var doc cartDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting cart: %w", err)
	}
	items := make([]cart.Item, len(doc.Items))
	for i, it := range doc.Items {
		items[i] = cart.Item(it)
	}
	return items, nil
}

// AddItem adds to the quantity of an existing line or appends a new one.
func (r *CartRepository) AddItem(ctx context.Context, userID string, item cart.Item) error {
	for attempt := 1; ; attempt++ {
		res, err := r.coll.UpdateOne(ctx,
			bson.M{"_id": userID, "items.productId": item.ProductID},
			bson.M{"$inc": bson.M{"items.$.quantity": item.Quantity}},
		)
		if err != nil {
			return fmt.Errorf("adding cart item: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}

		// The filter misses when the line exists, so a concurrent append
		// of the same product surfaces as a duplicate _id on upsert.
		_, err = r.coll.UpdateOne(ctx,
			bson.M{"_id": userID, "items.productId": bson.M{"$ne": item.ProductID}},
			bson.M{"$push": bson.M{"items": cartItemDoc(item)}},
			options.Update().SetUpsert(true),
		)
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) || attempt == maxUpsertAttempts {
			return fmt.Errorf("adding cart item: %w", err)
		}
	}
}

// RemoveItem subtracts quantity from a line, dropping it when nothing is
// left. A non-positive quantity drops the line.
func (r *CartRepository) RemoveItem(ctx context.Context, userID, productID string, quantity int) error {
	drop := bson.M{"productId": productID}
	if quantity > 0 {
		drop["quantity"] = bson.M{"$lte": quantity}
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"items": drop}},
	)
	if err != nil {
		return fmt.Errorf("removing cart item: %w", err)
	}
	if quantity <= 0 || res.ModifiedCount == 1 {
		return nil
	}

	_, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": userID, "items": bson.M{"$elemMatch": bson.M{
			"productId": productID,
			"quantity":  bson.M{"$gt": quantity},
		}}},
		bson.M{"$inc": bson.M{"items.$.quantity": -quantity}},
	)
	if err != nil {
		return fmt.Errorf("decrementing cart item: %w", err)
	}
	return nil
}

// Clear removes every line of the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return fmt.Errorf("clearing cart: %w", err)
	}
	return nil
}
