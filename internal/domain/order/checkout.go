package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return "product " + e.ProductID + " not found"
}

// LineRequest is a requested order line.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// CheckoutRequest holds the input for placing an order.
type CheckoutRequest struct {
	UserID string
	// Items are the lines to order. When empty, the user's cart is used.
	Items         []LineRequest
	Address       Address
	PaymentMethod PaymentMethod
	CouponCode    string
	// Declared, when set, must match the server-computed amounts.
	Declared *Amounts
}

// Checkout prices a checkout request and creates the order.
type Checkout struct {
	orders   *Manager
	catalog  Catalog
	carts    CartReader
	coupons  CouponPreviewer
	shipping ShippingQuoter
	tracer   trace.Tracer
}

// NewCheckout creates a Checkout. shipping may be nil, in which case orders
// carry no shipping charge; tp may be nil.
func NewCheckout(
	orders *Manager,
	catalog Catalog,
	carts CartReader,
	coupons CouponPreviewer,
	shipping ShippingQuoter,
	tp trace.TracerProvider,
) *Checkout {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Checkout{
		orders:   orders,
		catalog:  catalog,
		carts:    carts,
		coupons:  coupons,
		shipping: shipping,
		tracer:   tp.Tracer("kart-checkout/order"),
	}
}

// Place snapshots the requested products, computes amounts (item total,
// sales tax, shipping, coupon discount) and creates a Pending order.
func (c *Checkout) Place(ctx context.Context, req CheckoutRequest) (*Placement, error) {
	ctx, span := c.tracer.Start(ctx, "order.Checkout",
		trace.WithAttributes(attribute.String("user.id", req.UserID)),
	)
	defer span.End()

	ctx = zctx.With(ctx, zap.String("op", "order.checkout"), zap.String("user_id", req.UserID))

	lines := req.Items
	if len(lines) == 0 {
		cart, err := c.carts.Get(ctx, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "load cart")
		}
		for _, it := range cart.Items {
			lines = append(lines, LineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
		}
	}
	if len(lines) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "at least one item is required"}
	}

	items, err := c.snapshot(ctx, lines)
	if err != nil {
		return nil, err
	}
	if err := validateAddress(req.Address); err != nil {
		return nil, err
	}

	shipping := decimal.Zero
	if c.shipping != nil {
		shipping, err = c.shipping.Quote(ctx, req.Address)
		if err != nil {
			return nil, err
		}
	}

	itemTotal, _ := lineTotals(items)

	var applied *AppliedCoupon
	discount := decimal.Zero
	if req.CouponCode != "" {
		preview, err := c.coupons.Validate(ctx, req.CouponCode, itemTotal, req.UserID)
		if err != nil {
			return nil, err
		}
		discount = preview.DiscountAmount
		applied = &AppliedCoupon{
			Code:           preview.Coupon.Code,
			DiscountAmount: preview.DiscountAmount,
			DiscountType:   string(preview.Coupon.DiscountType),
		}
	}

	amounts := ComputeAmounts(items, shipping, discount)
	if req.Declared != nil && !req.Declared.Equal(amounts) {
		zctx.From(ctx).Info("Declared amounts differ from computed",
			zap.String("declared_total", req.Declared.Total.String()),
			zap.String("computed_total", amounts.Total.String()),
		)
		return nil, &ValidationError{Field: "amounts", Reason: "do not match current prices"}
	}

	return c.orders.Create(ctx, CreateRequest{
		UserID:        req.UserID,
		Items:         items,
		Address:       req.Address,
		Amounts:       amounts,
		PaymentMethod: req.PaymentMethod,
		Coupon:        applied,
	})
}

// snapshot fetches all requested products in one batch and freezes their
// name, price and tax rate into order lines. Repeated products are merged.
func (c *Checkout) snapshot(ctx context.Context, lines []LineRequest) ([]Item, error) {
	qty := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &ValidationError{Field: "items.quantity", Reason: "must be greater than 0 for product " + l.ProductID}
		}
		if _, seen := qty[l.ProductID]; !seen {
			order = append(order, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}

	fetched, err := c.catalog.GetByIDs(ctx, order)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]int, len(fetched))
	for i, p := range fetched {
		byID[p.ID] = i
	}

	items := make([]Item, 0, len(order))
	for _, id := range order {
		i, ok := byID[id]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: id}
		}
		p := fetched[i]
		items = append(items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  qty[id],
			TaxRate:   p.TaxRate,
		})
	}
	return items, nil
}

var _ CouponPreviewer = (*coupon.Ledger)(nil)
