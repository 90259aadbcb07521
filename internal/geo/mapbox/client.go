// Package mapbox implements geocoding and driving routes on the Mapbox API.
package mapbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

// DefaultBaseURL is the public Mapbox API endpoint.
const DefaultBaseURL = "https://api.mapbox.com"

// maxBody bounds how much of a response is read.
const maxBody = 1 << 20

var (
	_ shipping.Geocoder = (*Client)(nil)
	_ shipping.Router   = (*Client)(nil)
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mapbox: status %d", e.Code)
	}
	return fmt.Sprintf("mapbox: status %d: %s", e.Code, e.Message)
}

// Client calls the Mapbox geocoding and directions APIs.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is used as is.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(cl *Client) { cl.baseURL = strings.TrimRight(u, "/") }
}

// New creates a Client authenticating with token. tp may be nil.
func New(token string, tp trace.TracerProvider, opts ...Option) *Client {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	c := &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "mapbox " + r.Method
				}),
			),
		},
		baseURL: DefaultBaseURL,
		token:   token,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Geocode resolves query to the best matching point.
func (c *Client) Geocode(ctx context.Context, query string) (shipping.Coordinate, error) {
	u := c.baseURL + "/geocoding/v5/mapbox.places/" + url.PathEscape(query) + ".json"
	body, err := c.get(ctx, u, url.Values{"limit": {"1"}})
	if err != nil {
		return shipping.Coordinate{}, err
	}

	var (
		coord shipping.Coordinate
		found bool
	)
	err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "features" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			if found {
				return d.Skip()
			}
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "center" {
					return d.Skip()
				}
				p, err := decodePoint(d)
				if err != nil {
					return errors.Wrap(err, "center")
				}
				coord, found = p, true
				return nil
			})
		})
	})
	if err != nil {
		return shipping.Coordinate{}, errors.Wrap(err, "decode geocoding response")
	}
	if !found {
		return shipping.Coordinate{}, shipping.ErrNoResult
	}
	return coord, nil
}

// Route returns the driving route summary between two points.
func (c *Client) Route(ctx context.Context, from, to shipping.Coordinate) (shipping.Route, error) {
	u := c.baseURL + "/directions/v5/mapbox/driving/" + formatPoint(from) + ";" + formatPoint(to)
	body, err := c.get(ctx, u, url.Values{"overview": {"false"}})
	if err != nil {
		return shipping.Route{}, err
	}

	var (
		route shipping.Route
		found bool
		code  string
	)
	err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "code":
			v, err := d.Str()
			code = v
			return err
		case "routes":
			return d.Arr(func(d *jx.Decoder) error {
				if found {
					return d.Skip()
				}
				found = true
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					switch string(key) {
					case "distance":
						v, err := d.Float64()
						route.DistanceMeters = v
						return err
					case "duration":
						v, err := d.Float64()
						route.DurationSeconds = v
						return err
					default:
						return d.Skip()
					}
				})
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return shipping.Route{}, errors.Wrap(err, "decode directions response")
	}
	if code != "" && code != "Ok" {
		return shipping.Route{}, errors.Wrapf(shipping.ErrNoResult, "directions code %q", code)
	}
	if !found {
		return shipping.Route{}, shipping.ErrNoResult
	}
	return route, nil
}

func (c *Client) get(ctx context.Context, rawURL string, q url.Values) ([]byte, error) {
	q.Set("access_token", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error carries the full URL including the access token.
		var uErr *url.Error
		if errors.As(err, &uErr) {
			err = uErr.Err
		}
		return nil, errors.Wrap(err, "mapbox request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var msg string
	_ = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "message" {
			return d.Skip()
		}
		v, err := d.Str()
		msg = v
		return err
	})
	return msg
}

// decodePoint decodes a [lng, lat] array.
func decodePoint(d *jx.Decoder) (shipping.Coordinate, error) {
	var vals []float64
	if err := d.Arr(func(d *jx.Decoder) error {
		v, err := d.Float64()
		if err != nil {
			return err
		}
		vals = append(vals, v)
		return nil
	}); err != nil {
		return shipping.Coordinate{}, err
	}
	if len(vals) < 2 {
		return shipping.Coordinate{}, errors.Errorf("expected [lng, lat], got %d values", len(vals))
	}
	return shipping.Coordinate{Lng: vals[0], Lat: vals[1]}, nil
}

func formatPoint(c shipping.Coordinate) string {
	return strconv.FormatFloat(c.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lat, 'f', -1, 64)
}
