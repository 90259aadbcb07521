package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount, optionally
	// capped by MaxDiscount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the order amount.
	DiscountFixed DiscountType = "fixed"
)

// ParseDiscountType returns the DiscountType named by s.
func ParseDiscountType(s string) (DiscountType, error) {
	switch t := DiscountType(strings.ToLower(strings.TrimSpace(s))); t {
	case DiscountPercentage, DiscountFixed:
		return t, nil
	default:
		return "", &ValidationError{Field: "discountType", Reason: fmt.Sprintf("unsupported discount type %q", s)}
	}
}

var (
	// ErrNotFound is returned when no coupon matches the requested code or id.
	ErrNotFound = errors.New("coupon not found")
	// ErrInvalid is returned when a coupon is inactive, expired, or has
	// exhausted its global usage limit.
	ErrInvalid = errors.New("coupon is expired or inactive")
	// ErrPerUserLimitReached is returned when the user has already redeemed
	// the coupon the maximum number of times.
	ErrPerUserLimitReached = errors.New("you've reached the maximum usage limit for this coupon")
	// ErrDuplicateCode is returned when creating a coupon whose code is taken.
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// BelowMinimumError is returned when the order amount is lower than the
// coupon's minimum purchase.
type BelowMinimumError struct {
	Min decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("minimum purchase amount of %s required", e.Min.StringFixed(2))
}

// ValidationError describes a malformed coupon definition or request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Coupon is a discount definition together with its global usage counter.
type Coupon struct {
	ID            string
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MinPurchase   decimal.Decimal
	// MaxDiscount caps percentage discounts. Nil means uncapped.
	MaxDiscount *decimal.Decimal
	IsActive    bool
	ExpiryDate  time.Time
	// UsageLimit is the global redemption cap. Nil means unlimited.
	UsageLimit *int
	UsageCount int
	// PerUserLimit caps redemptions per user. Nil means unlimited.
	PerUserLimit *int
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeCode returns the canonical upper-case form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Usable reports whether the coupon is active, unexpired and below its
// global usage limit at the given instant.
func (c *Coupon) Usable(now time.Time) bool {
	if !c.IsActive || now.After(c.ExpiryDate) {
		return false
	}
	return c.UsageLimit == nil || c.UsageCount < *c.UsageLimit
}

// Validate checks the definition invariants of the coupon.
func (c *Coupon) Validate() error {
	if c.Code == "" {
		return &ValidationError{Field: "code", Reason: "required"}
	}
	switch c.DiscountType {
	case DiscountPercentage:
		if c.DiscountValue.GreaterThan(hundred) {
			return &ValidationError{Field: "discountValue", Reason: "percentage cannot exceed 100"}
		}
	case DiscountFixed:
	default:
		return &ValidationError{Field: "discountType", Reason: fmt.Sprintf("unsupported discount type %q", c.DiscountType)}
	}
	if c.DiscountValue.IsNegative() {
		return &ValidationError{Field: "discountValue", Reason: "must not be negative"}
	}
	if c.MinPurchase.IsNegative() {
		return &ValidationError{Field: "minPurchase", Reason: "must not be negative"}
	}
	if c.MaxDiscount != nil && c.MaxDiscount.IsNegative() {
		return &ValidationError{Field: "maxDiscount", Reason: "must not be negative"}
	}
	if c.ExpiryDate.IsZero() {
		return &ValidationError{Field: "expiryDate", Reason: "required"}
	}
	if c.UsageLimit != nil && *c.UsageLimit < 1 {
		return &ValidationError{Field: "usageLimit", Reason: "must be at least 1"}
	}
	if c.PerUserLimit != nil && *c.PerUserLimit < 1 {
		return &ValidationError{Field: "perUserLimit", Reason: "must be at least 1"}
	}
	return nil
}

// RedeemParams identifies a single redemption to be recorded atomically.
type RedeemParams struct {
	CouponID     string
	UserID       string
	PerUserLimit *int
	Now          time.Time
}

// Repository persists coupons and their per-user usage counters.
//
// Redeem must apply both counter changes atomically: the global increment
// only when the coupon is still usable at params.Now, and the per-user upsert
// only while the user stays below params.PerUserLimit. It returns ErrInvalid
// or ErrPerUserLimitReached when a guard rejects the write.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Upsert(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	UserUsage(ctx context.Context, couponID, userID string) (int, error)
	Redeem(ctx context.Context, params RedeemParams) (*Coupon, error)
}
