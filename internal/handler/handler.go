// Package handler serves the checkout HTTP API on a chi router.
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

// Tokens authenticates access tokens and manages their sessions.
type Tokens interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Revoke(ctx context.Context, sessionID string) error
}

// KeyAuthenticator authenticates raw API keys.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.Principal, error)
}

// Carts manages shopping carts.
type Carts interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	Add(ctx context.Context, userID, productID string, quantity int) (*cart.Cart, error)
	Remove(ctx context.Context, userID, productID string, quantity int) (*cart.Cart, error)
}

// Coupons validates and administers coupons.
type Coupons interface {
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal, userID string) (*coupon.Preview, error)
	Create(ctx context.Context, c *coupon.Coupon, actor string) (*coupon.Coupon, error)
	Update(ctx context.Context, c *coupon.Coupon) (*coupon.Coupon, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	List(ctx context.Context) ([]coupon.Coupon, error)
}

// Checkout places orders.
type Checkout interface {
	Place(ctx context.Context, req order.CheckoutRequest) (*order.Placement, error)
}

// Orders reads and transitions orders.
type Orders interface {
	Get(ctx context.Context, id string, actor order.Actor) (*order.Order, error)
	ListByUser(ctx context.Context, userID string) ([]order.Order, error)
	ListConfirmed(ctx context.Context, date time.Time, filter order.RangeFilter) ([]order.Order, error)
	Transition(ctx context.Context, req order.TransitionRequest) (*order.Order, error)
}

// Confirmer finalizes paid orders.
type Confirmer interface {
	Confirm(ctx context.Context, req order.ConfirmRequest) (*order.Summary, error)
}

// ShippingEstimator prices deliveries.
type ShippingEstimator interface {
	Estimate(ctx context.Context, dst shipping.Destination) (*shipping.Estimate, error)
}

// SignatureVerifier checks payment gateway callback signatures.
type SignatureVerifier interface {
	VerifySignature(gatewayOrderID, paymentID, signature string) bool
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored.
	ImageBaseURL string
	// MaxBodyBytes limits request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Deps are the services behind the API. Shipping and Payments may be nil:
// the estimate route is then not served and online payments cannot be
// verified.
type Deps struct {
	Tokens    Tokens
	Keys      KeyAuthenticator
	Products  product.Repository
	Carts     Carts
	Coupons   Coupons
	Checkout  Checkout
	Orders    Orders
	Confirmer Confirmer
	Shipping  ShippingEstimator
	Payments  SignatureVerifier
}

// Handler serves the HTTP API.
type Handler struct {
	Deps

	imageBaseURL string
	maxBodyBytes int64
	now          func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, deps Deps) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		Deps:         deps,
		imageBaseURL: cfg.ImageBaseURL,
		maxBodyBytes: cfg.MaxBodyBytes,
		now:          time.Now,
	}
}
