// Package shipping prices delivery by driving distance from the store.
package shipping

import (
	"context"
	"fmt"
	"math"
	"strings"
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

var (
	// ErrUnsupportedRegion is returned for postal codes outside the delivery
	// area.
	ErrUnsupportedRegion = errors.New("delivery is not available for this postal code")
	// ErrGeocodingFailed is returned when the address cannot be located.
	ErrGeocodingFailed = errors.New("could not find coordinates for the address")
	// ErrRoutingFailed is returned when no driving route can be computed.
	ErrRoutingFailed = errors.New("could not calculate distance")
	// ErrNoResult is returned by Geocoder and Router implementations when the
	// provider answered without a usable result.
	ErrNoResult = errors.New("no result")
)

// DefaultLookupTimeout bounds each external lookup.
const DefaultLookupTimeout = 8 * time.Second

// DefaultMinCharge is the lowest shipping charge.
var DefaultMinCharge = decimal.NewFromInt(40)

// LookupError wraps a failure of an external lookup. It matches
// ErrGeocodingFailed or ErrRoutingFailed depending on Stage.
type LookupError struct {
	Stage error
	Err   error
}

func (e *LookupError) Error() string {
	return e.Stage.Error() + ": " + e.Err.Error()
}

func (e *LookupError) Is(target error) bool { return target == e.Stage }

func (e *LookupError) Unwrap() error { return e.Err }

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Route is a driving route summary.
type Route struct {
	DistanceMeters  float64
	DurationSeconds float64
}

// Geocoder resolves a free-form address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Coordinate, error)
}

// Router computes the driving route between two coordinates.
type Router interface {
	Route(ctx context.Context, from, to Coordinate) (Route, error)
}

// Destination is the delivery address to price.
type Destination struct {
	// Text is the formatted street address without country.
	Text       string
	PostalCode string
}

// Estimate is a priced delivery.
type Estimate struct {
	Charge          decimal.Decimal
	DistanceKm      float64
	Tier            string
	RatePerKm       decimal.Decimal
	DurationMinutes int
	DistanceText    string
	DurationText    string
}

// Config holds Estimator settings. Zero values take defaults.
type Config struct {
	Store         Coordinate
	Rates         RateTable
	Tiers         TierTable
	MinCharge     decimal.Decimal
	Region        *Region
	LookupTimeout time.Duration
	// Country is appended to every geocoding query.
	Country string
}

// Estimator prices deliveries.
type Estimator struct {
	geocoder Geocoder
	router   Router
	cfg      Config
	tracer   trace.Tracer
}

// NewEstimator creates an Estimator. tp may be nil.
func NewEstimator(geocoder Geocoder, router Router, cfg Config, tp trace.TracerProvider) (*Estimator, error) {
	if cfg.Rates == nil {
		t, err := ParseRateTable(DefaultRates)
		if err != nil {
			return nil, err
		}
		cfg.Rates = t
	}
	if cfg.Tiers == nil {
		t, err := ParseTierTable(DefaultTiers)
		if err != nil {
			return nil, err
		}
		cfg.Tiers = t
	}
	if cfg.Region == nil {
		r, err := ParseRegion(DefaultPostalRanges, DefaultExcludedPostalCodes)
		if err != nil {
			return nil, err
		}
		cfg.Region = r
	}
	if cfg.MinCharge.IsZero() {
		cfg.MinCharge = DefaultMinCharge
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Country == "" {
		cfg.Country = "India"
	}
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Estimator{
		geocoder: geocoder,
		router:   router,
		cfg:      cfg,
		tracer:   tp.Tracer("kart-checkout/shipping"),
	}, nil
}

// Estimate prices delivery to dst.
func (e *Estimator) Estimate(ctx context.Context, dst Destination) (_ *Estimate, rerr error) {
	ctx, span := e.tracer.Start(ctx, "shipping.Estimate",
		trace.WithAttributes(attribute.String("postal_code", dst.PostalCode)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	lg := zctx.From(ctx).With(zap.String("postal_code", dst.PostalCode))

	if !e.cfg.Region.Contains(dst.PostalCode) {
		return nil, ErrUnsupportedRegion
	}

	query := strings.TrimSpace(dst.Text)
	if query == "" {
		return nil, &LookupError{Stage: ErrGeocodingFailed, Err: errors.New("empty address")}
	}
	query += ", " + e.cfg.Country

	to, err := e.geocode(ctx, query)
	if err != nil {
		lg.Warn("Geocoding failed", zap.Error(err))
		return nil, &LookupError{Stage: ErrGeocodingFailed, Err: err}
	}
	route, err := e.route(ctx, to)
	if err != nil {
		lg.Warn("Routing failed", zap.Error(err))
		return nil, &LookupError{Stage: ErrRoutingFailed, Err: err}
	}

	est := e.Price(route)
	lg.Debug("Shipping estimated",
		zap.Float64("distance_km", est.DistanceKm),
		zap.String("charge", est.Charge.String()),
		zap.String("tier", est.Tier),
	)
	span.SetAttributes(attribute.Float64("distance_km", est.DistanceKm))
	return est, nil
}

// Price computes the charge for a route: ceil(km * rate), at least the
// minimum charge.
func (e *Estimator) Price(r Route) *Estimate {
	km := r.DistanceMeters / 1000
	rate := e.cfg.Rates.RateFor(km)

	charge := decimal.NewFromFloat(km).Mul(rate).Ceil()
	if charge.LessThan(e.cfg.MinCharge) {
		charge = e.cfg.MinCharge
	}
	minutes := int(math.Ceil(r.DurationSeconds / 60))

	return &Estimate{
		Charge:          charge,
		DistanceKm:      km,
		Tier:            e.cfg.Tiers.NameFor(km),
		RatePerKm:       rate,
		DurationMinutes: minutes,
		DistanceText:    fmt.Sprintf("%.2f km", km),
		DurationText:    fmt.Sprintf("%d mins", minutes),
	}
}

func (e *Estimator) geocode(ctx context.Context, query string) (Coordinate, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
	defer cancel()
	return e.geocoder.Geocode(ctx, query)
}

func (e *Estimator) route(ctx context.Context, to Coordinate) (Route, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
	defer cancel()
	return e.router.Route(ctx, e.cfg.Store, to)
}
