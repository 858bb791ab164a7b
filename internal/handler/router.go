package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/strands/settlement-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса расчётов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/customer", func(r chi.Router) {
		r.Use(h.customerAuth.Middleware)

		r.Post("/payments", h.SettlePayment)
		r.Get("/rewards", h.GetRewards)
		r.Get("/promotions", h.GetPromotions)
	})

	r.Route("/api/merchant", func(r chi.Router) {
		r.Use(h.merchantAuth.Middleware)

		r.Post("/promotions", h.IssuePromotion)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
