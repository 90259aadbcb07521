package httpmiddleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides the meter and tracer providers. *app.Telemetry from
// go-faster/sdk satisfies it.
type Telemetry interface {
	MeterProvider() metric.MeterProvider
	TracerProvider() trace.TracerProvider
}

// Instrument traces every request with otelhttp and records a request
// counter and a duration histogram labelled by route, method and status.
// The span is renamed to "METHOD route" once the route is known.
func Instrument(service string, find RouteFinder, t Telemetry) Middleware {
	meter := t.MeterProvider().Meter("github.com/xenking/kart-checkout/pkg/httpmiddleware")
	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("Number of handled HTTP requests"),
	)
	if err != nil {
		otel.Handle(err)
	}
	duration, err := meter.Float64Histogram("http.server.request.duration.seconds",
		metric.WithDescription("Duration of handled HTTP requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return func(next http.Handler) http.Handler {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = withRouteContext(r)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			route := routeOrPath(find, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []attribute.KeyValue{
				attribute.String("http.route", route),
				attribute.String("http.request.method", r.Method),
				attribute.String("http.response.status_code", strconv.Itoa(status)),
			}
			ctx := r.Context()
			requests.Add(ctx, 1, metric.WithAttributes(attrs...))
			duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))

			trace.SpanFromContext(ctx).SetName(r.Method + " " + route)
			if labeler, ok := otelhttp.LabelerFromContext(ctx); ok {
				labeler.Add(attribute.String("http.route", route))
			}
		})

		return otelhttp.NewHandler(inner, service,
			otelhttp.WithTracerProvider(t.TracerProvider()),
			otelhttp.WithMeterProvider(t.MeterProvider()),
		)
	}
}
