package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

// GET /api/products
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Products.List(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range products {
			h.encodeProduct(e, &products[i])
		}
		e.ArrEnd()
	})
}

// GET /api/products/{id}
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

// PUT /api/admin/products/{id}
func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	p := &product.Product{
		ID:          chi.URLParam(r, "id"),
		Name:        f.String("name", true),
		Description: f.String("description", false),
		Category:    f.String("category", true),
	}
	p.Price, _ = f.Decimal("price", true)
	if rate, ok := f.Decimal("taxRate", false); ok {
		p.TaxRate = rate
	}
	if img := f.Object("image", false); img != nil {
		p.Image = product.Image{
			Thumbnail: img.String("thumbnail", false),
			Mobile:    img.String("mobile", false),
			Tablet:    img.String("tablet", false),
			Desktop:   img.String("desktop", false),
		}
	}
	if p.Price.IsNegative() {
		f.fail("price", "must not be negative")
	}
	if p.TaxRate.IsNegative() {
		f.fail("taxRate", "must not be negative")
	}
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}

	p.Normalize()
	if err := h.Products.Upsert(r.Context(), p); err != nil {
		fail(w, r, errors.Wrap(err, "upsert product"))
		return
	}
	zctx.From(r.Context()).Info("Product upserted", zap.String("product_id", p.ID))
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

// DELETE /api/admin/products/{id}
func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Products.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
