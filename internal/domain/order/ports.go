package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Repository persists orders.
//
// Confirm, UpdateStatus and ClaimCouponUsage are compare-and-swap writes:
// Confirm applies only to a Pending order, UpdateStatus only while the order
// is in u.From, and ClaimCouponUsage only while CouponUsageTracked is false.
// Confirm and UpdateStatus return ErrConflict when the guard fails.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListByStatusBetween(ctx context.Context, status Status, from, to time.Time) ([]Order, error)
	SetGatewayOrderID(ctx context.Context, id, gatewayOrderID string) error
	Confirm(ctx context.Context, id string, paymentConfirmed bool, at time.Time) (*Order, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (*Order, error)
	ClaimCouponUsage(ctx context.Context, id string) (bool, error)
	ReleaseCouponUsage(ctx context.Context, id string) error
}

// PaymentIntent is the handle returned by the gateway for client-side
// payment completion.
type PaymentIntent struct {
	GatewayOrderID string
	AmountMinor    int64
	Currency       string
	KeyID          string
}

// PaymentGateway creates payment intents on an external gateway.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*PaymentIntent, error)
}

// NotificationKind selects the message template.
type NotificationKind string

const (
	NotifyOrderConfirmation NotificationKind = "order_confirmation"
	NotifyOrderStatus       NotificationKind = "order_status"
)

// Notification is an outbound message about an order.
type Notification struct {
	To    string
	Kind  NotificationKind
	Order Order
}

// Notifier delivers notifications. Failures never fail the caller.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// EventType names an order lifecycle event.
type EventType string

const (
	EventOrderConfirmed     EventType = "order.confirmed"
	EventOrderStatusChanged EventType = "order.status_changed"
)

// Event is published after an order state change commits.
type Event struct {
	Type       EventType
	OrderID    string
	UserID     string
	Status     Status
	Total      decimal.Decimal
	OccurredAt time.Time
}

// EventPublisher publishes order events.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// CartClearer empties a user's cart.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

// CartReader returns a user's cart.
type CartReader interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
}

// CouponRedeemer consumes one use of a coupon.
type CouponRedeemer interface {
	Redeem(ctx context.Context, code, userID string) (*coupon.Coupon, error)
}

// CouponPreviewer computes a coupon discount without side effects.
type CouponPreviewer interface {
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal, userID string) (*coupon.Preview, error)
}

// Catalog fetches products for order snapshots.
type Catalog interface {
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// ShippingQuoter prices delivery to an address.
type ShippingQuoter interface {
	Quote(ctx context.Context, addr Address) (decimal.Decimal, error)
}
