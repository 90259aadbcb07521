package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// GET /api/cart
func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.Get(r.Context(), principal(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

// POST /api/cart/items
func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	productID := f.String("productId", true)
	quantity, ok := f.Int("quantity", false)
	if !ok && !f.Has("quantity") {
		quantity = 1
	}
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}

	c, err := h.Carts.Add(r.Context(), principal(r).UserID, productID, quantity)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

// DELETE /api/cart/items/{productId}?quantity=N
//
// Without quantity the whole line is removed.
func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	quantity, _, err := queryInt(r, "quantity")
	if err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.Carts.Remove(r.Context(), principal(r).UserID, chi.URLParam(r, "productId"), quantity)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}
