package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned when a guarded update loses a race with a
	// concurrent writer.
	ErrConflict = errors.New("order was modified concurrently")
	// ErrTransitionNotAllowed is returned for status changes outside the
	// allowed transition set.
	ErrTransitionNotAllowed = errors.New("status transition not allowed")
	// ErrUnknownStatus is returned when a status string is not recognized.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrVerificationFailed is returned when the caller reports a failed
	// payment.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrPaymentGatewayUnavailable is returned when the payment gateway cannot
	// create a payment intent.
	ErrPaymentGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrForbidden is returned when the actor lacks rights for the operation.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError describes a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// Is makes TransitionError match ErrTransitionNotAllowed.
func (e *TransitionError) Is(target error) bool {
	return target == ErrTransitionNotAllowed
}

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

const (
	PaymentRazorpay PaymentMethod = "razorpay"
	PaymentCOD      PaymentMethod = "cod"
)

// ParsePaymentMethod returns the PaymentMethod named by s.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentRazorpay, PaymentCOD:
		return m, nil
	default:
		return "", &ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("unsupported payment method %q", s)}
	}
}

// Item is an order line with catalog snapshots taken at checkout.
type Item struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	TaxRate   decimal.Decimal
}

// Address is the delivery address and contact of an order.
type Address struct {
	FullName   string
	Phone      string
	Email      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
}

// Text renders the address as a single line for geocoding and emails.
func (a Address) Text() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State, a.PostalCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Payment holds the payment method and whether payment was captured.
type Payment struct {
	Method         PaymentMethod
	Confirmed      bool
	GatewayOrderID string
}

// AppliedCoupon is the coupon snapshot stored on an order.
type AppliedCoupon struct {
	Code           string
	DiscountAmount decimal.Decimal
	DiscountType   string
}

// Order is a customer order and its lifecycle state.
type Order struct {
	ID      string
	UserID  string
	Items   []Item
	Address Address
	Amounts Amounts
	Status  Status
	Payment Payment
	Coupon  *AppliedCoupon
	// CouponUsageTracked is set once the attached coupon has been redeemed
	// for this order.
	CouponUsageTracked bool
	OrderDate          time.Time
	EstimatedDate      time.Time
	ShippedDate        *time.Time
	DeliveredDate      *time.Time
	CancelledDate      *time.Time
	UpdatedAt          time.Time
}

// Actor identifies who invokes an order operation.
type Actor struct {
	UserID string
	Admin  bool
}

// canSee reports whether the actor may read the order.
func (a Actor) canSee(o *Order) bool {
	return a.Admin || (a.UserID != "" && a.UserID == o.UserID)
}
