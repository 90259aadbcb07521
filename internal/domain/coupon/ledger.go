package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Preview is the side-effect-free result of validating a coupon against an
// order amount.
type Preview struct {
	Coupon         *Coupon
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}

// Ledger owns coupon definitions and their redemption counters.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a Ledger backed by the given Repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Validate previews the discount the coupon grants on orderAmount for userID.
// It never mutates usage counters.
func (l *Ledger) Validate(ctx context.Context, code string, orderAmount decimal.Decimal, userID string) (*Preview, error) {
	if orderAmount.IsNegative() {
		return nil, &ValidationError{Field: "orderAmount", Reason: "must not be negative"}
	}

	c, err := l.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := l.checkRedeemable(ctx, c, userID); err != nil {
		return nil, err
	}
	if orderAmount.LessThan(c.MinPurchase) {
		return nil, &BelowMinimumError{Min: c.MinPurchase}
	}

	discount := c.DiscountFor(orderAmount)
	return &Preview{
		Coupon:         c,
		DiscountAmount: discount,
		FinalAmount:    orderAmount.Sub(discount),
	}, nil
}

// Redeem consumes one use of the coupon for userID. The global counter and
// the per-user counter are updated in a single guarded write, so concurrent
// redemptions cannot overshoot either limit.
func (l *Ledger) Redeem(ctx context.Context, code, userID string) (*Coupon, error) {
	lg := zctx.From(ctx).With(
		zap.String("op", "coupon.redeem"),
		zap.String("coupon_code", NormalizeCode(code)),
		zap.String("user_id", userID),
	)

	c, err := l.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := l.checkRedeemable(ctx, c, userID); err != nil {
		return nil, err
	}

	updated, err := l.repo.Redeem(ctx, RedeemParams{
		CouponID:     c.ID,
		UserID:       userID,
		PerUserLimit: c.PerUserLimit,
		Now:          l.now(),
	})
	if err != nil {
		if errors.Is(err, ErrInvalid) || errors.Is(err, ErrPerUserLimitReached) {
			return nil, err
		}
		return nil, errors.Wrap(err, "redeem coupon")
	}

	lg.Info("Coupon redeemed",
		zap.Int("usage_count", updated.UsageCount),
		zap.Bool("active", updated.IsActive),
	)
	return updated, nil
}

// Create stores a new coupon definition authored by actor.
func (l *Ledger) Create(ctx context.Context, c *Coupon, actor string) (*Coupon, error) {
	now := l.now()
	c.ID = uuid.New().String()
	c.Code = NormalizeCode(c.Code)
	c.UsageCount = 0
	c.CreatedBy = actor
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := l.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create coupon")
	}

	zctx.From(ctx).Info("Coupon created",
		zap.String("op", "coupon.create"),
		zap.String("coupon_code", c.Code),
		zap.String("actor", actor),
	)
	return c, nil
}

// Update replaces the definition fields of an existing coupon. Usage
// counters are left untouched.
func (l *Ledger) Update(ctx context.Context, c *Coupon) (*Coupon, error) {
	existing, err := l.repo.Get(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	c.Code = NormalizeCode(c.Code)
	c.UsageCount = existing.UsageCount
	c.CreatedBy = existing.CreatedBy
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = l.now()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := l.repo.Update(ctx, c); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateCode) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Delete removes a coupon definition.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	if err := l.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return errors.Wrap(err, "delete coupon")
	}
	return nil
}

// Get returns a coupon by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Coupon, error) {
	return l.repo.Get(ctx, id)
}

// List returns all coupon definitions.
func (l *Ledger) List(ctx context.Context) ([]Coupon, error) {
	return l.repo.List(ctx)
}

func (l *Ledger) lookup(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, &ValidationError{Field: "code", Reason: "coupon code is required"}
	}

	c, err := l.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	return c, nil
}

// checkRedeemable applies the validity predicate and the per-user cap.
func (l *Ledger) checkRedeemable(ctx context.Context, c *Coupon, userID string) error {
	if !c.Usable(l.now()) {
		return ErrInvalid
	}
	if c.PerUserLimit == nil {
		return nil
	}

	used, err := l.repo.UserUsage(ctx, c.ID, userID)
	if err != nil {
		return errors.Wrap(err, "lookup user usage")
	}
	if used >= *c.PerUserLimit {
		return ErrPerUserLimitReached
	}
	return nil
}
