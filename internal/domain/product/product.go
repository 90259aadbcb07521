package product

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

var (
	plantTaxRate   = decimal.NewFromInt(5)
	defaultTaxRate = decimal.NewFromInt(18)
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	Image       Image
	// TaxRate is the sales tax percentage applied to the item.
	TaxRate decimal.Decimal
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Mobile    string
	Tablet    string
	Desktop   string
}

// TaxRateFor returns the default sales tax percentage for a category:
// plants are taxed at 5%, everything else at 18%.
func TaxRateFor(category string) decimal.Decimal {
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(category)), "plant") {
		return plantTaxRate
	}
	return defaultTaxRate
}

// Normalize fills derived fields before the product is stored.
func (p *Product) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Category = strings.TrimSpace(p.Category)
	if p.TaxRate.IsZero() {
		p.TaxRate = TaxRateFor(p.Category)
	}
}

// Repository defines read and write operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Upsert(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id string) error
}
