package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ConfirmRequest reports the outcome of an external payment for an order.
type ConfirmRequest struct {
	OrderID string
	// UserID, when set, must own the order.
	UserID  string
	Success bool
}

// Summary is the finalized view of a confirmed order.
type Summary struct {
	OrderID          string
	Status           Status
	Total            decimal.Decimal
	PaymentMethod    PaymentMethod
	PaymentConfirmed bool
	// Duplicate is true when the order had already been confirmed.
	Duplicate bool
}

// Coordinator reconciles external payment results with orders and runs the
// follow-up effects of a confirmation.
type Coordinator struct {
	repo    Repository
	carts   CartClearer
	coupons CouponRedeemer
	announcer
	tracer trace.Tracer
	now    func() time.Time
}

// NewCoordinator creates a payment confirmation Coordinator. tp may be nil.
func NewCoordinator(
	repo Repository,
	carts CartClearer,
	coupons CouponRedeemer,
	notifier Notifier,
	events EventPublisher,
	tp trace.TracerProvider,
) *Coordinator {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Coordinator{
		repo:      repo,
		carts:     carts,
		coupons:   coupons,
		announcer: announcer{notifier: notifier, events: events},
		tracer:    tp.Tracer("kart-checkout/order"),
		now:       time.Now,
	}
}

// Confirm finalizes an order after the external payment step.
//
// The Pending -> Confirmed write is authoritative. Cart clearing, coupon
// redemption, notification and event publishing follow it and never undo it.
// Only the caller that performs the confirmation clears the cart and
// notifies; coupon redemption runs at most once per order regardless of how
// many times Confirm is called.
func (c *Coordinator) Confirm(ctx context.Context, req ConfirmRequest) (_ *Summary, rerr error) {
	ctx, span := c.tracer.Start(ctx, "order.Confirm",
		trace.WithAttributes(attribute.String("order.id", req.OrderID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	ctx = zctx.With(ctx,
		zap.String("op", "order.confirm"),
		zap.String("order_id", req.OrderID),
	)
	lg := zctx.From(ctx)

	o, err := c.repo.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if req.UserID != "" && req.UserID != o.UserID {
		return nil, ErrNotFound
	}
	if !req.Success {
		lg.Info("Payment verification failed")
		return nil, ErrVerificationFailed
	}

	switch o.Status {
	case StatusPending:
	case StatusConfirmed:
		return c.duplicate(ctx, o), nil
	default:
		return nil, &TransitionError{From: o.Status, To: StatusConfirmed}
	}

	at := c.now()
	confirmed, err := c.repo.Confirm(ctx, o.ID, o.Payment.Method != PaymentCOD, at)
	if errors.Is(err, ErrConflict) {
		// Lost the race: re-read to learn what the winner did.
		current, gerr := c.repo.Get(ctx, o.ID)
		if gerr != nil {
			return nil, gerr
		}
		if current.Status == StatusConfirmed {
			return c.duplicate(ctx, current), nil
		}
		return nil, &TransitionError{From: current.Status, To: StatusConfirmed}
	}
	if err != nil {
		return nil, errors.Wrap(err, "confirm order")
	}

	lg.Info("Order confirmed",
		zap.String("payment_method", string(confirmed.Payment.Method)),
		zap.Bool("payment_confirmed", confirmed.Payment.Confirmed),
	)
	span.SetAttributes(attribute.String("order.payment_method", string(confirmed.Payment.Method)))

	if err := c.carts.Clear(ctx, confirmed.UserID); err != nil {
		lg.Warn("Cart not cleared after confirmation", zap.Error(err))
	}
	c.finalizeCoupon(ctx, confirmed)
	c.announce(ctx, NotifyOrderConfirmation, EventOrderConfirmed, confirmed, at)

	return summarize(confirmed, false), nil
}

// duplicate handles a repeated confirmation of an already confirmed order.
// Only an unfinished coupon redemption is retried.
func (c *Coordinator) duplicate(ctx context.Context, o *Order) *Summary {
	zctx.From(ctx).Info("Order already confirmed")
	if o.Coupon != nil && !o.CouponUsageTracked {
		c.finalizeCoupon(ctx, o)
	}
	return summarize(o, true)
}

// finalizeCoupon redeems the order's coupon at most once. The order-level
// claim is taken first; if redemption then fails the claim is released so a
// later confirmation can retry.
func (c *Coordinator) finalizeCoupon(ctx context.Context, o *Order) {
	if o.Coupon == nil {
		return
	}
	lg := zctx.From(ctx).With(zap.String("coupon_code", o.Coupon.Code))

	claimed, err := c.repo.ClaimCouponUsage(ctx, o.ID)
	if err != nil {
		lg.Error("Claim coupon usage failed", zap.Error(err))
		return
	}
	if !claimed {
		lg.Debug("Coupon usage already tracked")
		return
	}

	if _, err := c.coupons.Redeem(ctx, o.Coupon.Code, o.UserID); err != nil {
		lg.Error("Coupon redemption failed", zap.Error(err))
		if rerr := c.repo.ReleaseCouponUsage(ctx, o.ID); rerr != nil {
			lg.Error("Release coupon claim failed", zap.Error(rerr))
		}
		return
	}
	o.CouponUsageTracked = true
}

func summarize(o *Order, duplicate bool) *Summary {
	return &Summary{
		OrderID:          o.ID,
		Status:           o.Status,
		Total:            o.Amounts.Total,
		PaymentMethod:    o.Payment.Method,
		PaymentConfirmed: o.Payment.Confirmed,
		Duplicate:        duplicate,
	}
}
