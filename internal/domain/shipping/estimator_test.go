package shipping

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGeocoder struct {
	coord Coordinate
	err   error
	query string
	// block waits for ctx cancellation before returning.
	block bool
}

func (m *mockGeocoder) Geocode(ctx context.Context, query string) (Coordinate, error) {
	m.query = query
	if m.block {
		<-ctx.Done()
		return Coordinate{}, ctx.Err()
	}
	return m.coord, m.err
}

type mockRouter struct {
	route    Route
	err      error
	from, to Coordinate
}

func (m *mockRouter) Route(_ context.Context, from, to Coordinate) (Route, error) {
	m.from, m.to = from, to
	return m.route, m.err
}

func newTestEstimator(t *testing.T, g Geocoder, r Router) *Estimator {
	t.Helper()
	e, err := NewEstimator(g, r, Config{
		Store:         Coordinate{Lat: 12.9716, Lng: 77.5946},
		LookupTimeout: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return e
}

func TestEstimator_Price(t *testing.T) {
	e := newTestEstimator(t, &mockGeocoder{}, &mockRouter{})

	tests := []struct {
		name       string
		meters     float64
		wantCharge string
		wantRate   string
		wantTier   string
	}{
		{name: "minimum applies", meters: 7200, wantCharge: "40", wantRate: "4", wantTier: "Local Distance"},
		{name: "short", meters: 3000, wantCharge: "40", wantRate: "2", wantTier: "Short Distance"},
		{name: "band edge", meters: 10000, wantCharge: "50", wantRate: "5", wantTier: "Medium Distance"},
		{name: "rounded up", meters: 12340, wantCharge: "62", wantRate: "5", wantTier: "Medium Distance"},
		{name: "long", meters: 27500, wantCharge: "193", wantRate: "7", wantTier: "Long Distance"},
		{name: "extended", meters: 45000, wantCharge: "450", wantRate: "10", wantTier: "Extended Distance"},
		{name: "remote", meters: 60000, wantCharge: "900", wantRate: "15", wantTier: "Remote Area"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Price(Route{DistanceMeters: tt.meters, DurationSeconds: 61})
			assert.Equal(t, tt.wantCharge, got.Charge.String())
			assert.Equal(t, tt.wantRate, got.RatePerKm.String())
			assert.Equal(t, tt.wantTier, got.Tier)
			assert.Equal(t, 2, got.DurationMinutes)
			assert.Equal(t, "2 mins", got.DurationText)
		})
	}
}

func TestEstimator_Estimate(t *testing.T) {
	g := &mockGeocoder{coord: Coordinate{Lat: 12.93, Lng: 77.62}}
	r := &mockRouter{route: Route{DistanceMeters: 7200, DurationSeconds: 900}}
	e := newTestEstimator(t, g, r)

	got, err := e.Estimate(context.Background(), Destination{
		Text:       "12 MG Road, Bengaluru, KA, 560001",
		PostalCode: "560001",
	})
	require.NoError(t, err)

	assert.Equal(t, "12 MG Road, Bengaluru, KA, 560001, India", g.query)
	assert.Equal(t, Coordinate{Lat: 12.9716, Lng: 77.5946}, r.from)
	assert.Equal(t, g.coord, r.to)
	assert.True(t, decimal.NewFromInt(40).Equal(got.Charge))
	assert.InDelta(t, 7.2, got.DistanceKm, 1e-9)
	assert.Equal(t, "7.20 km", got.DistanceText)
	assert.Equal(t, "15 mins", got.DurationText)
}

func TestEstimator_EstimateErrors(t *testing.T) {
	tests := []struct {
		name     string
		postal   string
		text     string
		geocoder *mockGeocoder
		router   *mockRouter
		wantErr  error
	}{
		{
			name:     "outside region",
			postal:   "400001",
			text:     "Mumbai",
			geocoder: &mockGeocoder{},
			router:   &mockRouter{},
			wantErr:  ErrUnsupportedRegion,
		},
		{
			name:     "excluded code",
			postal:   "560044",
			text:     "Bengaluru",
			geocoder: &mockGeocoder{},
			router:   &mockRouter{},
			wantErr:  ErrUnsupportedRegion,
		},
		{
			name:     "no geocoding result",
			postal:   "560001",
			text:     "Nowhere",
			geocoder: &mockGeocoder{err: ErrNoResult},
			router:   &mockRouter{},
			wantErr:  ErrGeocodingFailed,
		},
		{
			name:     "geocoding timeout",
			postal:   "560001",
			text:     "Slow street",
			geocoder: &mockGeocoder{block: true},
			router:   &mockRouter{},
			wantErr:  ErrGeocodingFailed,
		},
		{
			name:     "empty address",
			postal:   "560001",
			text:     " ",
			geocoder: &mockGeocoder{},
			router:   &mockRouter{},
			wantErr:  ErrGeocodingFailed,
		},
		{
			name:     "routing failed",
			postal:   "560001",
			text:     "MG Road",
			geocoder: &mockGeocoder{},
			router:   &mockRouter{err: errors.New("upstream 500")},
			wantErr:  ErrRoutingFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEstimator(t, tt.geocoder, tt.router)
			_, err := e.Estimate(context.Background(), Destination{Text: tt.text, PostalCode: tt.postal})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEstimator_TimeoutKeepsCause(t *testing.T) {
	e := newTestEstimator(t, &mockGeocoder{block: true}, &mockRouter{})

	_, err := e.Estimate(context.Background(), Destination{Text: "MG Road", PostalCode: "560001"})
	require.ErrorIs(t, err, ErrGeocodingFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
