package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

// POST /api/coupons/validate
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	code := f.String("code", true)
	amount, ok := f.Decimal("orderAmount", true)
	if ok && amount.IsNegative() {
		f.fail("orderAmount", "must not be negative")
	}
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}

	preview, err := h.Coupons.Validate(r.Context(), code, amount, principal(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePreview(e, preview) })
}

// decodeCoupon reads a coupon definition. Business rules are checked by
// coupon.Coupon.Validate later; this only checks shapes and types.
func decodeCoupon(f *form) *coupon.Coupon {
	c := &coupon.Coupon{
		Code:         f.String("code", true),
		MaxDiscount:  f.OptDecimal("maxDiscount"),
		ExpiryDate:   f.Time("expiryDate", true),
		UsageLimit:   f.OptInt("usageLimit"),
		PerUserLimit: f.OptInt("perUserLimit"),
		IsActive:     true,
	}
	if s := f.String("discountType", true); s != "" {
		t, err := coupon.ParseDiscountType(s)
		if err != nil {
			f.fail("discountType", "must be one of percentage, fixed")
		}
		c.DiscountType = t
	}
	c.DiscountValue, _ = f.Decimal("discountValue", true)
	if v, ok := f.Decimal("minPurchase", false); ok {
		c.MinPurchase = v
	}
	if f.Has("isActive") {
		c.IsActive = f.Bool("isActive", false)
	}
	return c
}

// GET /api/admin/coupons
func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.Coupons.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range coupons {
			encodeCoupon(e, &coupons[i])
		}
		e.ArrEnd()
	})
}

// GET /api/admin/coupons/{id}
func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.Coupons.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// POST /api/admin/coupons
func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	c := decodeCoupon(f)
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}

	created, err := h.Coupons.Create(r.Context(), c, principal(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, created) })
}

// PUT /api/admin/coupons/{id}
func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	c := decodeCoupon(f)
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}
	c.ID = chi.URLParam(r, "id")

	updated, err := h.Coupons.Update(r.Context(), c)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, updated) })
}

// DELETE /api/admin/coupons/{id}
func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.Coupons.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
