// Package httpmiddleware contains net/http middlewares shared by the API
// server.
package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h so that the first one listed is the
// outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder returns the route template that served r, or "" when the
// request matched no route.
type RouteFinder func(r *http.Request) string

// ChiRoute finds the route pattern recorded by a chi router. The pattern is
// only complete once the router has dispatched the request, so callers read
// it after calling the next handler.
func ChiRoute(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

// routeOrPath falls back to a fixed label for unmatched requests so that
// metrics do not get one series per raw path.
func routeOrPath(find RouteFinder, r *http.Request) string {
	if find == nil {
		return "unknown"
	}
	if route := find(r); route != "" {
		return route
	}
	return "unknown"
}

// writeError writes the API error body {code, message}.
func writeError(w http.ResponseWriter, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
