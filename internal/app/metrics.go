package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/handler"
)

const meterName = "github.com/xenking/kart-checkout/internal/app"

// countedConfirmer counts payment confirmations by outcome.
type countedConfirmer struct {
	next          handler.Confirmer
	confirmations metric.Int64Counter
}

func newCountedConfirmer(next handler.Confirmer, mp metric.MeterProvider) (*countedConfirmer, error) {
	c, err := mp.Meter(meterName).Int64Counter("order.confirmations",
		metric.WithDescription("Payment confirmations by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create confirmations counter")
	}
	return &countedConfirmer{next: next, confirmations: c}, nil
}

func (c *countedConfirmer) Confirm(ctx context.Context, req order.ConfirmRequest) (*order.Summary, error) {
	s, err := c.next.Confirm(ctx, req)
	outcome := "confirmed"
	switch {
	case errors.Is(err, order.ErrVerificationFailed):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	case s.Duplicate:
		outcome = "duplicate"
	}
	c.confirmations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return s, err
}

// countedRedeemer counts coupon redemptions by outcome.
type countedRedeemer struct {
	next        order.CouponRedeemer
	redemptions metric.Int64Counter
}

func newCountedRedeemer(next order.CouponRedeemer, mp metric.MeterProvider) (*countedRedeemer, error) {
	c, err := mp.Meter(meterName).Int64Counter("coupon.redemptions",
		metric.WithDescription("Coupon redemptions by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}
	return &countedRedeemer{next: next, redemptions: c}, nil
}

func (r *countedRedeemer) Redeem(ctx context.Context, code, userID string) (*coupon.Coupon, error) {
	c, err := r.next.Redeem(ctx, code, userID)
	outcome := "redeemed"
	switch {
	case errors.Is(err, coupon.ErrInvalid), errors.Is(err, coupon.ErrPerUserLimitReached):
		outcome = "exhausted"
	case errors.Is(err, coupon.ErrNotFound):
		outcome = "unknown"
	case err != nil:
		outcome = "error"
	}
	r.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return c, err
}
