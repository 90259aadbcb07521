package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultEstimateWindow is the default time between order placement and
// estimated delivery.
const DefaultEstimateWindow = 10 * 24 * time.Hour

// ManagerConfig holds non-dependency configuration for the Manager.
type ManagerConfig struct {
	// EstimateWindow is added to the order date to derive EstimatedDate.
	EstimateWindow time.Duration
	// Currency is passed to the payment gateway, e.g. "INR".
	Currency string
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	UserID        string
	Items         []Item
	Address       Address
	Amounts       Amounts
	PaymentMethod PaymentMethod
	Coupon        *AppliedCoupon
}

// Placement is the result of creating an order. Intent is nil for
// cash-on-delivery orders.
type Placement struct {
	Order  *Order
	Intent *PaymentIntent
}

// TransitionRequest holds the input for an admin status change.
type TransitionRequest struct {
	OrderID string
	Target  string
	// Date is stamped into the target's date field. Zero means now.
	Date  time.Time
	Actor Actor
}

// Manager creates, reads and transitions orders.
type Manager struct {
	repo    Repository
	gateway PaymentGateway
	announcer
	cfg ManagerConfig
	now func() time.Time
}

// NewManager creates an order Manager. gateway may be nil, in which case only
// cash-on-delivery orders are accepted.
func NewManager(
	repo Repository,
	gateway PaymentGateway,
	notifier Notifier,
	events EventPublisher,
	cfg ManagerConfig,
) *Manager {
	if cfg.EstimateWindow <= 0 {
		cfg.EstimateWindow = DefaultEstimateWindow
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Manager{
		repo:      repo,
		gateway:   gateway,
		announcer: announcer{notifier: notifier, events: events},
		cfg:       cfg,
		now:       time.Now,
	}
}

// Create persists a new Pending order. For online payment methods it also
// requests a payment intent keyed by the order id.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Placement, error) {
	if err := m.validateCreate(req); err != nil {
		return nil, err
	}

	now := m.now()
	o := &Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Items:         req.Items,
		Address:       req.Address,
		Amounts:       req.Amounts,
		Status:        StatusPending,
		Payment:       Payment{Method: req.PaymentMethod},
		Coupon:        req.Coupon,
		OrderDate:     now,
		EstimatedDate: now.Add(m.cfg.EstimateWindow),
		UpdatedAt:     now,
	}

	lg := zctx.From(ctx).With(
		zap.String("op", "order.create"),
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
	)

	if err := m.repo.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	if o.Payment.Method == PaymentCOD {
		lg.Info("Order created", zap.String("payment_method", string(o.Payment.Method)))
		return &Placement{Order: o}, nil
	}

	intent, err := m.gateway.CreatePaymentIntent(ctx, MinorUnits(o.Amounts.Total), m.cfg.Currency, o.ID)
	if err != nil {
		lg.Error("Create payment intent failed", zap.Error(err))
		return nil, ErrPaymentGatewayUnavailable
	}
	if err := m.repo.SetGatewayOrderID(ctx, o.ID, intent.GatewayOrderID); err != nil {
		return nil, errors.Wrap(err, "store gateway order id")
	}
	o.Payment.GatewayOrderID = intent.GatewayOrderID

	lg.Info("Order created",
		zap.String("payment_method", string(o.Payment.Method)),
		zap.String("gateway_order_id", intent.GatewayOrderID),
	)
	return &Placement{Order: o, Intent: intent}, nil
}

func (m *Manager) validateCreate(req CreateRequest) error {
	if req.UserID == "" {
		return &ValidationError{Field: "userId", Reason: "required"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for _, it := range req.Items {
		if it.ProductID == "" {
			return &ValidationError{Field: "items.productId", Reason: "required"}
		}
		if it.Quantity <= 0 {
			return &ValidationError{Field: "items.quantity", Reason: "must be greater than 0 for product " + it.ProductID}
		}
		if it.UnitPrice.IsNegative() || it.TaxRate.IsNegative() {
			return &ValidationError{Field: "items.unitPrice", Reason: "must not be negative for product " + it.ProductID}
		}
	}
	if err := validateAddress(req.Address); err != nil {
		return err
	}
	if _, err := ParsePaymentMethod(string(req.PaymentMethod)); err != nil {
		return err
	}
	if req.PaymentMethod != PaymentCOD && m.gateway == nil {
		return &ValidationError{Field: "paymentMethod", Reason: "online payment is not available"}
	}

	if err := req.Amounts.Validate(); err != nil {
		return err
	}
	if itemTotal, _ := lineTotals(req.Items); !itemTotal.Equal(req.Amounts.ItemTotal) {
		return &ValidationError{Field: "amounts.itemTotal", Reason: "does not match order items"}
	}
	switch {
	case req.Coupon == nil && !req.Amounts.CouponDiscount.IsZero():
		return &ValidationError{Field: "amounts.couponDiscount", Reason: "discount without coupon"}
	case req.Coupon != nil && !req.Coupon.DiscountAmount.Equal(req.Amounts.CouponDiscount):
		return &ValidationError{Field: "amounts.couponDiscount", Reason: "does not match coupon discount"}
	}
	return nil
}

func validateAddress(a Address) error {
	required := []struct {
		name  string
		value string
	}{
		{"address.line1", a.Line1},
		{"address.city", a.City},
		{"address.postalCode", a.PostalCode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "required"}
		}
	}
	return nil
}

// Transition moves an order to Shipped, Delivered or Cancelled on behalf of
// an admin and stamps the matching date field.
func (m *Manager) Transition(ctx context.Context, req TransitionRequest) (*Order, error) {
	target, err := ParseStatus(req.Target)
	if err != nil {
		return nil, err
	}
	if !req.Actor.Admin {
		return nil, ErrForbidden
	}

	lg := zctx.From(ctx).With(
		zap.String("op", "order.transition"),
		zap.String("order_id", req.OrderID),
		zap.String("target", string(target)),
	)

	o, err := m.repo.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !adminTargets[target] || !CanTransition(o.Status, target) {
		return nil, &TransitionError{From: o.Status, To: target}
	}

	field, _ := DateFieldFor(target)
	at := req.Date
	if at.IsZero() {
		at = m.now()
	}

	updated, err := m.repo.UpdateStatus(ctx, StatusUpdate{
		OrderID: o.ID,
		From:    o.Status,
		To:      target,
		Field:   field,
		At:      at,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update order status")
	}

	lg.Info("Order status changed",
		zap.String("from", string(o.Status)),
		zap.String("actor", req.Actor.UserID),
	)
	m.announce(ctx, NotifyOrderStatus, EventOrderStatusChanged, updated, at)
	return updated, nil
}

// Get returns an order visible to the actor. Orders owned by someone else
// are reported as not found.
func (m *Manager) Get(ctx context.Context, id string, actor Actor) (*Order, error) {
	o, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canSee(o) {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListByUser returns the user's orders, newest first.
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	orders, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return orders, nil
}

// ListConfirmed returns Confirmed orders placed within the calendar period
// of the given range filter that contains date.
func (m *Manager) ListConfirmed(ctx context.Context, date time.Time, filter RangeFilter) ([]Order, error) {
	from, to := filter.Bounds(date)
	orders, err := m.repo.ListByStatusBetween(ctx, StatusConfirmed, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "list confirmed orders")
	}
	return orders, nil
}
