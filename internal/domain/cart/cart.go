// Package cart implements the per-user shopping cart.
package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

var (
	// ErrInvalidQuantity is returned when adding a non-positive quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrProductNotFound is returned when adding an unknown product.
	ErrProductNotFound = errors.New("product not found")
)

// Item is a cart line. Price and TaxRate are snapshotted when the product is
// first added.
type Item struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
	TaxRate   decimal.Decimal
}

// Cart is the ordered set of lines owned by a user.
type Cart struct {
	UserID string
	Items  []Item
}

// Subtotal returns the sum of price * quantity over all lines.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range c.Items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// Repository persists carts. AddItem merges quantities into an existing line
// for the same product and keeps that line's snapshot; RemoveItem drops the
// line once its quantity reaches zero.
type Repository interface {
	Get(ctx context.Context, userID string) ([]Item, error)
	AddItem(ctx context.Context, userID string, item Item) error
	RemoveItem(ctx context.Context, userID, productID string, quantity int) error
	Clear(ctx context.Context, userID string) error
}

// Catalog is the product lookup the cart needs for snapshots.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Service implements cart operations.
type Service struct {
	repo    Repository
	catalog Catalog
}

// NewService creates a cart Service.
func NewService(repo Repository, catalog Catalog) *Service {
	return &Service{repo: repo, catalog: catalog}
}

// Get returns the user's cart. A user without a cart gets an empty one.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	items, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return &Cart{UserID: userID, Items: items}, nil
}

// Add puts quantity units of the product into the cart.
func (s *Service) Add(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.catalog.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, errors.Wrap(err, "lookup product")
	}

	if err := s.repo.AddItem(ctx, userID, Item{
		ProductID: p.ID,
		Quantity:  quantity,
		Price:     p.Price,
		TaxRate:   p.TaxRate,
	}); err != nil {
		return nil, errors.Wrap(err, "add cart item")
	}

	zctx.From(ctx).Debug("Cart item added",
		zap.String("op", "cart.add"),
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
	)
	return s.Get(ctx, userID)
}

// Remove takes quantity units of the product out of the cart. A
// non-positive quantity removes the whole line.
func (s *Service) Remove(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	if err := s.repo.RemoveItem(ctx, userID, productID, quantity); err != nil {
		return nil, errors.Wrap(err, "remove cart item")
	}
	return s.Get(ctx, userID)
}

// Clear empties the cart. Clearing an empty cart is a no-op.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.repo.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}
