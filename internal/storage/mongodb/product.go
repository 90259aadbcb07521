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

	"github.com/xenking/kart-checkout/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by MongoDB.
type ProductRepository struct {
	coll *mongo.Collection
}

// NewProductRepository returns a ProductRepository over db.
func NewProductRepository(db *mongo.Database) *ProductRepository {
	return &ProductRepository{coll: db.Collection(productsCollection)}
}

type productDoc struct {
	ID          string          `bson:"_id"`
	Name        string          `bson:"name"`
	Description string          `bson:"description"`
	Price       decimal.Decimal `bson:"price"`
	Category    string          `bson:"category"`
	TaxRate     decimal.Decimal `bson:"taxRate"`
	Image       imageDoc        `bson:"image"`
	UpdatedAt   time.Time       `bson:"updatedAt"`
}

type imageDoc struct {
	Thumbnail string `bson:"thumbnail"`
	Mobile    string `bson:"mobile"`
	Tablet    string `bson:"tablet"`
	Desktop   string `bson:"desktop"`
}

func (d productDoc) product() product.Product {
	return product.Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Category:    d.Category,
		TaxRate:     d.TaxRate,
		Image:       product.Image(d.Image),
	}
}

// List returns all products ordered by id.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	return r.find(ctx, bson.M{})
}

// GetByID returns a product by id.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var doc productDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	p := doc.product()
	return &p, nil
}

// GetByIDs returns the products with the given ids. Unknown ids are skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// Upsert inserts or replaces a product.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	doc := productDoc{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Category:    p.Category,
		TaxRate:     p.TaxRate,
		Image:       imageDoc(p.Image),
		UpdatedAt:   time.Now().UTC(),
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// Delete removes a product.
func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting product %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (r *ProductRepository) find(ctx context.Context, filter bson.M) ([]product.Product, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading products: %w", err)
	}
	out := make([]product.Product, len(docs))
	for i, d := range docs {
		out[i] = d.product()
	}
	return out, nil
}
