package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

var (
	errRouteNotFound    = errors.New("route not found")
	errMethodNotAllowed = errors.New("method not allowed")
)

// msgExternal is the only detail callers get about upstream failures.
const msgExternal = "external service unavailable"

// apiError is the response shape of every failed request.
type apiError struct {
	status  int
	message string
	fields  []FieldError
}

// classify maps an error to its HTTP representation.
func classify(err error) apiError {
	var (
		verr    *ValidationError
		orderVE *order.ValidationError
		couponV *coupon.ValidationError
		belowM  *coupon.BelowMinimumError
		missing *order.ProductNotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return apiError{status: http.StatusBadRequest, message: "invalid request", fields: verr.Fields}
	case errors.As(err, &orderVE):
		return fieldError(orderVE.Field, orderVE.Reason)
	case errors.As(err, &couponV):
		return fieldError(couponV.Field, couponV.Reason)
	case errors.As(err, &belowM):
		return apiError{status: http.StatusBadRequest, message: belowM.Error()}
	case errors.Is(err, errMalformedBody),
		errors.Is(err, order.ErrUnknownStatus),
		errors.Is(err, order.ErrVerificationFailed),
		errors.Is(err, coupon.ErrPerUserLimitReached),
		errors.Is(err, cart.ErrInvalidQuantity):
		return apiError{status: http.StatusBadRequest, message: err.Error()}
	case errors.Is(err, errBodyTooLarge):
		return apiError{status: http.StatusRequestEntityTooLarge, message: err.Error()}

	case errors.Is(err, auth.ErrUnauthorized):
		return apiError{status: http.StatusUnauthorized, message: "unauthorized"}
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, order.ErrForbidden):
		return apiError{status: http.StatusForbidden, message: "forbidden"}

	case errors.As(err, &missing):
		return apiError{status: http.StatusNotFound, message: missing.Error()}
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, cart.ErrProductNotFound),
		errors.Is(err, errRouteNotFound):
		return apiError{status: http.StatusNotFound, message: err.Error()}
	case errors.Is(err, errMethodNotAllowed):
		return apiError{status: http.StatusMethodNotAllowed, message: err.Error()}

	case errors.Is(err, coupon.ErrInvalid),
		errors.Is(err, coupon.ErrDuplicateCode),
		errors.Is(err, order.ErrTransitionNotAllowed),
		errors.Is(err, order.ErrConflict):
		return apiError{status: http.StatusConflict, message: err.Error()}

	case errors.Is(err, shipping.ErrUnsupportedRegion):
		return apiError{status: http.StatusUnprocessableEntity, message: err.Error()}
	case errors.Is(err, order.ErrPaymentGatewayUnavailable),
		errors.Is(err, shipping.ErrGeocodingFailed),
		errors.Is(err, shipping.ErrRoutingFailed):
		return apiError{status: http.StatusBadGateway, message: msgExternal}
	}
	return apiError{status: http.StatusInternalServerError, message: "internal error"}
}

func fieldError(field, reason string) apiError {
	return apiError{
		status:  http.StatusBadRequest,
		message: field + ": " + reason,
		fields:  []FieldError{{Field: field, Reason: reason}},
	}
}

// fail writes err as an error response. Server side and upstream failures
// are logged with the full error; the body stays generic.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	lg := zctx.From(r.Context())
	switch {
	case ae.status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Int("status", ae.status), zap.Error(err))
	case ae.status == http.StatusUnauthorized || ae.status == http.StatusForbidden:
		lg.Info("Request rejected", zap.Int("status", ae.status), zap.Error(err))
	default:
		lg.Debug("Request rejected", zap.Int("status", ae.status), zap.Error(err))
	}

	writeJSON(w, ae.status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(ae.status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(ae.message) })
			if len(ae.fields) > 0 {
				e.Field("fields", func(e *jx.Encoder) {
					e.ArrStart()
					for _, f := range ae.fields {
						e.Obj(func(e *jx.Encoder) {
							e.Field("field", func(e *jx.Encoder) { e.Str(f.Field) })
							e.Field("reason", func(e *jx.Encoder) { e.Str(f.Reason) })
						})
					}
					e.ArrEnd()
				})
			}
		})
	})
}
