// Package payment integrates the external payment gateway.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/razorpay/razorpay-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

var _ order.PaymentGateway = (*Razorpay)(nil)

// orderCreator is the subset of the Razorpay SDK order resource in use.
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Razorpay creates Razorpay orders and verifies checkout signatures.
type Razorpay struct {
	orders orderCreator
	keyID  string
	secret []byte
	tracer trace.Tracer
}

// NewRazorpay creates a gateway using the given API key pair. tp may be nil.
func NewRazorpay(keyID, keySecret string, tp trace.TracerProvider) *Razorpay {
	client := razorpay.NewClient(keyID, keySecret)
	return newRazorpay(client.Order, keyID, keySecret, tp)
}

func newRazorpay(orders orderCreator, keyID, keySecret string, tp trace.TracerProvider) *Razorpay {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Razorpay{
		orders: orders,
		keyID:  keyID,
		secret: []byte(keySecret),
		tracer: tp.Tracer("kart-checkout/payment"),
	}
}

// KeyID returns the public key id passed to the client-side checkout.
func (r *Razorpay) KeyID() string { return r.keyID }

type createResult struct {
	resp map[string]interface{}
	err  error
}

// CreatePaymentIntent creates a Razorpay order for amountMinor paise. The
// SDK call has no context, so cancellation abandons the call rather than
// aborting it.
func (r *Razorpay) CreatePaymentIntent(ctx context.Context, amountMinor int64, currency, receipt string) (_ *order.PaymentIntent, rerr error) {
	ctx, span := r.tracer.Start(ctx, "razorpay.CreateOrder",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("payment.amount_minor", amountMinor),
			attribute.String("payment.currency", currency),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if amountMinor <= 0 {
		return nil, errors.Errorf("amount must be positive, got %d", amountMinor)
	}

	data := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}

	done := make(chan createResult, 1)
	go func() {
		resp, err := r.orders.Create(data, nil)
		done <- createResult{resp: resp, err: err}
	}()

	var res createResult
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "create razorpay order")
	case res = <-done:
	}
	if res.err != nil {
		return nil, errors.Wrap(res.err, "create razorpay order")
	}

	id, ok := res.resp["id"].(string)
	if !ok || id == "" {
		return nil, errors.Errorf("create razorpay order: response has no id: %v", res.resp["error"])
	}

	zctx.From(ctx).Debug("Razorpay order created",
		zap.String("gateway_order_id", id),
		zap.String("receipt", receipt),
	)
	span.SetAttributes(attribute.String("payment.gateway_order_id", id))
	return &order.PaymentIntent{
		GatewayOrderID: id,
		AmountMinor:    amountMinor,
		Currency:       currency,
		KeyID:          r.keyID,
	}, nil
}

// VerifySignature checks the checkout signature Razorpay returns to the
// client: hex(HMAC-SHA256(secret, gatewayOrderID + "|" + paymentID)).
func (r *Razorpay) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, r.sign(gatewayOrderID, paymentID))
}

func (r *Razorpay) sign(gatewayOrderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, r.secret)
	fmt.Fprintf(mac, "%s|%s", gatewayOrderID, paymentID)
	return mac.Sum(nil)
}
