package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Register mounts the API under /api on r.
func (h *Handler) Register(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, r *http.Request) { fail(w, r, errRouteNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { fail(w, r, errMethodNotAllowed) })

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/auth/refresh", h.refreshToken)
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/auth/logout", h.logout)

			r.Get("/cart", h.getCart)
			r.Post("/cart/items", h.addCartItem)
			r.Delete("/cart/items/{productId}", h.removeCartItem)

			if h.Shipping != nil {
				r.Post("/shipping/estimate", h.estimateShipping)
			}
			r.Post("/coupons/validate", h.validateCoupon)

			r.Post("/orders", h.placeOrder)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{id}", h.getOrder)
			r.Post("/orders/{id}/confirm", h.confirmOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)

			r.Get("/orders", h.listConfirmedOrders)
			r.Patch("/orders/{id}/status", h.updateOrderStatus)

			r.Get("/coupons", h.listCoupons)
			r.Post("/coupons", h.createCoupon)
			r.Get("/coupons/{id}", h.getCoupon)
			r.Put("/coupons/{id}", h.updateCoupon)
			r.Delete("/coupons/{id}", h.deleteCoupon)

			r.Put("/products/{id}", h.upsertProduct)
			r.Delete("/products/{id}", h.deleteProduct)
		})
	})
}

// Router returns a chi router serving only the API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}
