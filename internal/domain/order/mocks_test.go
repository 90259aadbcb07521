package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// --- Mock implementations ---

// memOrderRepo is an in-memory Repository with the same guarded-write
// semantics as the storage backends.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*Order

	createErr  error
	getErr     error
	confirmErr error
	claimErr   error
	// beforeConfirm runs inside Confirm before the guard is evaluated.
	beforeConfirm func()

	confirmCalls int
	releaseCalls int
}

func newMemOrderRepo(orders ...*Order) *memOrderRepo {
	r := &memOrderRepo{orders: make(map[string]*Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func clone(o *Order) *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	if o.Coupon != nil {
		cp := *o.Coupon
		c.Coupon = &cp
	}
	return &c
}

func (r *memOrderRepo) Create(_ context.Context, o *Order) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = clone(o)
	return nil
}

func (r *memOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (r *memOrderRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderDate.After(out[j].OrderDate) })
	return out, nil
}

func (r *memOrderRepo) ListByStatusBetween(_ context.Context, status Status, from, to time.Time) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.Status == status && !o.OrderDate.Before(from) && !o.OrderDate.After(to) {
			out = append(out, *clone(o))
		}
	}
	return out, nil
}

func (r *memOrderRepo) SetGatewayOrderID(_ context.Context, id, gatewayOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Payment.GatewayOrderID = gatewayOrderID
	return nil
}

func (r *memOrderRepo) Confirm(_ context.Context, id string, paymentConfirmed bool, at time.Time) (*Order, error) {
	if r.beforeConfirm != nil {
		r.beforeConfirm()
	}
	if r.confirmErr != nil {
		return nil, r.confirmErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmCalls++
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != StatusPending {
		return nil, ErrConflict
	}
	o.Status = StatusConfirmed
	o.Payment.Confirmed = paymentConfirmed
	o.UpdatedAt = at
	return clone(o), nil
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, u StatusUpdate) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[u.OrderID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != u.From {
		return nil, ErrConflict
	}
	u.Apply(o)
	return clone(o), nil
}

func (r *memOrderRepo) ClaimCouponUsage(_ context.Context, id string) (bool, error) {
	if r.claimErr != nil {
		return false, r.claimErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.CouponUsageTracked {
		return false, nil
	}
	o.CouponUsageTracked = true
	return true, nil
}

func (r *memOrderRepo) ReleaseCouponUsage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseCalls++
	if o, ok := r.orders[id]; ok {
		o.CouponUsageTracked = false
	}
	return nil
}

func (r *memOrderRepo) stored(id string) *Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.orders[id])
}

type mockGateway struct {
	mu       sync.Mutex
	err      error
	calls    int
	amount   int64
	currency string
	receipt  string
}

func (m *mockGateway) CreatePaymentIntent(_ context.Context, amountMinor int64, currency, receipt string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.amount, m.currency, m.receipt = amountMinor, currency, receipt
	if m.err != nil {
		return nil, m.err
	}
	return &PaymentIntent{
		GatewayOrderID: "order_gw_" + receipt,
		AmountMinor:    amountMinor,
		Currency:       currency,
		KeyID:          "rzp_test_key",
	}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (m *recordingNotifier) Send(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *recordingNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *recordingEvents) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *recordingEvents) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockCarts struct {
	mu       sync.Mutex
	carts    map[string]*cart.Cart
	clearErr error
	cleared  []string
}

func (m *mockCarts) Get(_ context.Context, userID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[userID]; ok {
		return c, nil
	}
	return &cart.Cart{UserID: userID}, nil
}

func (m *mockCarts) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, userID)
	return m.clearErr
}

func (m *mockCarts) clearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cleared)
}

type mockRedeemer struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (m *mockRedeemer) Redeem(_ context.Context, code, userID string) (*coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, code+"/"+userID)
	if m.err != nil {
		return nil, m.err
	}
	return &coupon.Coupon{Code: code}, nil
}

func (m *mockRedeemer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockPreviewer struct {
	preview *coupon.Preview
	err     error
	amount  decimal.Decimal
}

func (m *mockPreviewer) Validate(_ context.Context, _ string, orderAmount decimal.Decimal, _ string) (*coupon.Preview, error) {
	m.amount = orderAmount
	if m.err != nil {
		return nil, m.err
	}
	return m.preview, nil
}

type mockCatalog struct {
	byID map[string]product.Product
	err  error
}

func newMockCatalog(products ...product.Product) *mockCatalog {
	m := &mockCatalog{byID: make(map[string]product.Product, len(products))}
	for _, p := range products {
		m.byID[p.ID] = p
	}
	return m
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockQuoter struct {
	charge decimal.Decimal
	err    error
}

func (m *mockQuoter) Quote(_ context.Context, _ Address) (decimal.Decimal, error) {
	return m.charge, m.err
}

var errBoom = errors.New("boom")

// --- Helpers ---

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testAddress() Address {
	return Address{
		FullName:   "Asha Rao",
		Email:      "asha@example.com",
		Line1:      "12 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
	}
}

func testProduct(id string, price string, taxRate int64) product.Product {
	return product.Product{
		ID:       id,
		Name:     "Product " + id,
		Price:    dec(price),
		Category: "test",
		TaxRate:  decimal.NewFromInt(taxRate),
	}
}

func pendingOrder(id, userID string, method PaymentMethod) *Order {
	items := []Item{{ProductID: "p1", Name: "Fern", UnitPrice: dec("500"), Quantity: 2, TaxRate: decimal.NewFromInt(5)}}
	return &Order{
		ID:        id,
		UserID:    userID,
		Items:     items,
		Address:   testAddress(),
		Amounts:   ComputeAmounts(items, dec("40"), decimal.Zero),
		Status:    StatusPending,
		Payment:   Payment{Method: method},
		OrderDate: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}
