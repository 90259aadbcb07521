package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

func decodeAddress(a *form) order.Address {
	return order.Address{
		FullName:   a.String("fullName", true),
		Phone:      a.String("phone", true),
		Email:      a.String("email", true),
		Line1:      a.String("line1", true),
		Line2:      a.String("line2", false),
		City:       a.String("city", true),
		State:      a.String("state", true),
		PostalCode: a.String("postalCode", true),
	}
}

// decodeAmounts reads the totals the client displayed. All five components
// are required when the object is present.
func decodeAmounts(a *form) *order.Amounts {
	var out order.Amounts
	out.ItemTotal, _ = a.Decimal("itemTotal", true)
	out.ShippingCharge, _ = a.Decimal("shippingCharge", true)
	out.SalesTax, _ = a.Decimal("salesTax", true)
	out.CouponDiscount, _ = a.Decimal("couponDiscount", true)
	out.Total, _ = a.Decimal("total", true)
	return &out
}

// POST /api/orders
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	req := order.CheckoutRequest{
		UserID:     principal(r).UserID,
		CouponCode: f.String("couponCode", false),
	}
	for _, it := range f.Objects("items", false) {
		line := order.LineRequest{ProductID: it.String("productId", true)}
		line.Quantity, _ = it.Int("quantity", true)
		req.Items = append(req.Items, line)
	}
	if a := f.Object("address", true); a != nil {
		req.Address = decodeAddress(a)
	}
	if s := f.String("paymentMethod", true); s != "" {
		m, err := order.ParsePaymentMethod(s)
		if err != nil {
			f.fail("paymentMethod", "must be one of razorpay, cod")
		}
		req.PaymentMethod = m
	}
	if a := f.Object("amounts", false); a != nil {
		req.Declared = decodeAmounts(a)
	}
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}

	placement, err := h.Checkout.Place(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePlacement(e, placement) })
}

// POST /api/orders/{id}/confirm
//
// Online payments count as successful only when the client reports success
// and the gateway signature over the stored gateway order id verifies.
func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	success := f.Bool("success", true)
	paymentID := f.String("razorpayPaymentId", false)
	signature := f.String("razorpaySignature", false)
	gatewayOrderID := f.String("razorpayOrderId", false)
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}

	ctx := r.Context()
	a := actor(r)
	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"), a)
	if err != nil {
		fail(w, r, err)
		return
	}

	if success && o.Payment.Method == order.PaymentRazorpay {
		if paymentID == "" || signature == "" {
			if paymentID == "" {
				f.fail("razorpayPaymentId", "is required for online payments")
			}
			if signature == "" {
				f.fail("razorpaySignature", "is required for online payments")
			}
			fail(w, r, f.Err())
			return
		}
		success = h.verifyPayment(r, o, gatewayOrderID, paymentID, signature)
	}

	req := order.ConfirmRequest{OrderID: o.ID, Success: success}
	if !a.Admin {
		req.UserID = a.UserID
	}
	summary, err := h.Confirmer.Confirm(ctx, req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSummary(e, summary) })
}

func (h *Handler) verifyPayment(r *http.Request, o *order.Order, gatewayOrderID, paymentID, signature string) bool {
	lg := zctx.From(r.Context()).With(zap.String("order_id", o.ID))
	switch {
	case h.Payments == nil:
		lg.Warn("Online payment reported but no gateway is configured")
		return false
	case o.Payment.GatewayOrderID == "":
		lg.Warn("Order has no gateway order id")
		return false
	case gatewayOrderID != "" && gatewayOrderID != o.Payment.GatewayOrderID:
		lg.Warn("Gateway order id mismatch", zap.String("reported", gatewayOrderID))
		return false
	case !h.Payments.VerifySignature(o.Payment.GatewayOrderID, paymentID, signature):
		lg.Warn("Payment signature rejected")
		return false
	}
	return true
}

// GET /api/orders
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Orders.ListByUser(r.Context(), principal(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// GET /api/orders/{id}
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GET /api/admin/orders?date=YYYY-MM-DD&filter=daily|weekly|monthly|yearly
func (h *Handler) listConfirmedOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := order.ParseRangeFilter(q.Get("filter"))
	if err != nil {
		fail(w, r, err)
		return
	}
	date := h.now()
	if s := strings.TrimSpace(q.Get("date")); s != "" {
		date, err = parseTime(s)
		if err != nil {
			fail(w, r, &ValidationError{Fields: []FieldError{{Field: "date", Reason: "must be an RFC 3339 timestamp or a YYYY-MM-DD date"}}})
			return
		}
	}

	orders, err := h.Orders.ListConfirmed(r.Context(), date, filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// PATCH /api/admin/orders/{id}/status
func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	req := order.TransitionRequest{
		OrderID: chi.URLParam(r, "id"),
		Target:  f.String("status", true),
		Date:    f.Time("date", false),
		Actor:   actor(r),
	}
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}

	o, err := h.Orders.Transition(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
