package mapbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("pk.test-token", nil, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestClient_Geocode(t *testing.T) {
	var gotPath, gotToken, gotLimit string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotToken = r.URL.Query().Get("access_token")
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{
			"type": "FeatureCollection",
			"features": [
				{"id": "address.1", "place_name": "MG Road", "center": [77.6101, 12.9752], "relevance": 1},
				{"id": "address.2", "center": [0, 0]}
			],
			"attribution": "NOTICE"
		}`))
	})

	got, err := c.Geocode(context.Background(), "12 MG Road, Bengaluru, India")
	require.NoError(t, err)

	assert.Equal(t, shipping.Coordinate{Lat: 12.9752, Lng: 77.6101}, got)
	assert.Equal(t, "/geocoding/v5/mapbox.places/12%20MG%20Road%2C%20Bengaluru%2C%20India.json", gotPath)
	assert.Equal(t, "pk.test-token", gotToken)
	assert.Equal(t, "1", gotLimit)
}

func TestClient_GeocodeNoResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	})

	_, err := c.Geocode(context.Background(), "nowhere")
	require.ErrorIs(t, err, shipping.ErrNoResult)
}

func TestClient_Route(t *testing.T) {
	var gotPath, gotOverview string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOverview = r.URL.Query().Get("overview")
		_, _ = w.Write([]byte(`{
			"routes": [{"weight_name": "auto", "duration": 901.4, "distance": 7200.5, "legs": []}],
			"waypoints": [],
			"code": "Ok",
			"uuid": "x"
		}`))
	})

	got, err := c.Route(context.Background(),
		shipping.Coordinate{Lat: 12.9716, Lng: 77.5946},
		shipping.Coordinate{Lat: 12.9752, Lng: 77.6101},
	)
	require.NoError(t, err)

	assert.Equal(t, "/directions/v5/mapbox/driving/77.5946,12.9716;77.6101,12.9752", gotPath)
	assert.Equal(t, "false", gotOverview)
	assert.InDelta(t, 7200.5, got.DistanceMeters, 1e-9)
	assert.InDelta(t, 901.4, got.DurationSeconds, 1e-9)
}

func TestClient_RouteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		check   func(t *testing.T, err error)
	}{
		{
			name:    "no route code",
			status:  http.StatusOK,
			body:    `{"code":"NoRoute","message":"No route found","routes":[]}`,
			wantErr: shipping.ErrNoResult,
		},
		{
			name:    "empty routes",
			status:  http.StatusOK,
			body:    `{"code":"Ok","routes":[]}`,
			wantErr: shipping.ErrNoResult,
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"message":"Not Authorized - Invalid Token"}`,
			check: func(t *testing.T, err error) {
				var sErr *StatusError
				require.ErrorAs(t, err, &sErr)
				assert.Equal(t, http.StatusUnauthorized, sErr.Code)
				assert.Equal(t, "Not Authorized - Invalid Token", sErr.Message)
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `{"routes":[{"distance":"far"}]}`,
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "decode directions response")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Route(context.Background(), shipping.Coordinate{}, shipping.Coordinate{Lat: 1, Lng: 1})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestClient_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New("pk.secret-token", nil, WithBaseURL(srv.URL))

	_, err := c.Geocode(context.Background(), "anything")
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "pk.secret-token"), err.Error())
}
