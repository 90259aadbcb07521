package handler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

// --- Mock implementations ---

type mockTokens struct {
	principals map[string]*auth.Principal
	pair       *auth.TokenPair
	refreshErr error
	revoked    []string
}

func (m *mockTokens) Authenticate(_ context.Context, token string) (*auth.Principal, error) {
	p, ok := m.principals[token]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return p, nil
}

func (m *mockTokens) Refresh(_ context.Context, _ string) (*auth.TokenPair, error) {
	return m.pair, m.refreshErr
}

func (m *mockTokens) Revoke(_ context.Context, sessionID string) error {
	m.revoked = append(m.revoked, sessionID)
	return nil
}

type mockKeys struct {
	principals map[string]*auth.Principal
}

func (m *mockKeys) Authenticate(_ context.Context, key string) (*auth.Principal, error) {
	p, ok := m.principals[key]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return p, nil
}

type mockProducts struct {
	products []product.Product
	listErr  error
	upserted *product.Product
	deleted  string
}

func (m *mockProducts) List(_ context.Context) ([]product.Product, error) {
	return m.products, m.listErr
}

func (m *mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	for i := range m.products {
		if m.products[i].ID == id {
			return &m.products[i], nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProducts) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, err := m.GetByID(ctx, id); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockProducts) Upsert(_ context.Context, p *product.Product) error {
	m.upserted = p
	return nil
}

func (m *mockProducts) Delete(_ context.Context, id string) error {
	m.deleted = id
	return nil
}

type cartCall struct {
	userID    string
	productID string
	quantity  int
}

type mockCarts struct {
	cart    *cart.Cart
	err     error
	added   []cartCall
	removed []cartCall
}

func (m *mockCarts) Get(_ context.Context, userID string) (*cart.Cart, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &cart.Cart{UserID: userID, Items: m.items()}, nil
}

func (m *mockCarts) Add(_ context.Context, userID, productID string, quantity int) (*cart.Cart, error) {
	m.added = append(m.added, cartCall{userID: userID, productID: productID, quantity: quantity})
	if m.err != nil {
		return nil, m.err
	}
	return &cart.Cart{UserID: userID, Items: m.items()}, nil
}

func (m *mockCarts) Remove(_ context.Context, userID, productID string, quantity int) (*cart.Cart, error) {
	m.removed = append(m.removed, cartCall{userID: userID, productID: productID, quantity: quantity})
	if m.err != nil {
		return nil, m.err
	}
	return &cart.Cart{UserID: userID, Items: m.items()}, nil
}

func (m *mockCarts) items() []cart.Item {
	if m.cart == nil {
		return nil
	}
	return m.cart.Items
}

type validateCall struct {
	code   string
	amount decimal.Decimal
	userID string
}

type mockCoupons struct {
	preview   *coupon.Preview
	coupons   []coupon.Coupon
	err       error
	validated []validateCall
	created   *coupon.Coupon
	createdBy string
	updated   *coupon.Coupon
	deleted   string
}

func (m *mockCoupons) Validate(_ context.Context, code string, amount decimal.Decimal, userID string) (*coupon.Preview, error) {
	m.validated = append(m.validated, validateCall{code: code, amount: amount, userID: userID})
	return m.preview, m.err
}

func (m *mockCoupons) Create(_ context.Context, c *coupon.Coupon, actor string) (*coupon.Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.created, m.createdBy = c, actor
	out := *c
	out.ID = "c-new"
	out.CreatedBy = actor
	return &out, nil
}

func (m *mockCoupons) Update(_ context.Context, c *coupon.Coupon) (*coupon.Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.updated = c
	return c, nil
}

func (m *mockCoupons) Delete(_ context.Context, id string) error {
	m.deleted = id
	return m.err
}

func (m *mockCoupons) Get(_ context.Context, id string) (*coupon.Coupon, error) {
	for i := range m.coupons {
		if m.coupons[i].ID == id {
			return &m.coupons[i], nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (m *mockCoupons) List(_ context.Context) ([]coupon.Coupon, error) {
	return m.coupons, m.err
}

type mockCheckout struct {
	placement *order.Placement
	err       error
	last      *order.CheckoutRequest
}

func (m *mockCheckout) Place(_ context.Context, req order.CheckoutRequest) (*order.Placement, error) {
	m.last = &req
	return m.placement, m.err
}

type confirmedQuery struct {
	date   time.Time
	filter order.RangeFilter
}

type mockOrders struct {
	orders      map[string]*order.Order
	transitions []order.TransitionRequest
	confirmed   []confirmedQuery
	err         error
}

func (m *mockOrders) Get(_ context.Context, id string, a order.Actor) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok || (!a.Admin && o.UserID != a.UserID) {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrders) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, m.err
}

func (m *mockOrders) ListConfirmed(_ context.Context, date time.Time, filter order.RangeFilter) ([]order.Order, error) {
	m.confirmed = append(m.confirmed, confirmedQuery{date: date, filter: filter})
	return nil, m.err
}

func (m *mockOrders) Transition(_ context.Context, req order.TransitionRequest) (*order.Order, error) {
	m.transitions = append(m.transitions, req)
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[req.OrderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

type mockConfirmer struct {
	requests []order.ConfirmRequest
	err      error
}

func (m *mockConfirmer) Confirm(_ context.Context, req order.ConfirmRequest) (*order.Summary, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if !req.Success {
		return nil, order.ErrVerificationFailed
	}
	return &order.Summary{
		OrderID:          req.OrderID,
		Status:           order.StatusConfirmed,
		Total:            decimal.NewFromInt(100),
		PaymentMethod:    order.PaymentRazorpay,
		PaymentConfirmed: true,
	}, nil
}

type mockShipping struct {
	estimate *shipping.Estimate
	err      error
	last     shipping.Destination
}

func (m *mockShipping) Estimate(_ context.Context, dst shipping.Destination) (*shipping.Estimate, error) {
	m.last = dst
	return m.estimate, m.err
}

// mockPayments accepts exactly one signature per gateway order.
type mockPayments struct {
	valid map[string]string
}

func (m *mockPayments) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	return m.valid[gatewayOrderID] == paymentID+"|"+signature
}
