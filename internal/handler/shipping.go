package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

// POST /api/shipping/estimate
//
//	{"address": {"line1": "...", "city": "...", "state": "...", "postalCode": "560001"}}
func (h *Handler) estimateShipping(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var dst shipping.Destination
	if a := f.Object("address", true); a != nil {
		line1 := a.String("line1", false)
		if line1 == "" {
			line1 = a.String("street", false)
		}
		if line1 == "" {
			a.fail("line1", "is required")
		}
		addr := order.Address{
			Line1:      line1,
			Line2:      a.String("line2", false),
			City:       a.String("city", true),
			State:      a.String("state", false),
			PostalCode: a.String("postalCode", true),
		}
		dst = shipping.Destination{Text: addr.Text(), PostalCode: addr.PostalCode}
	}
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}

	est, err := h.Shipping.Estimate(r.Context(), dst)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeEstimate(e, est) })
}
