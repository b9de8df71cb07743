package api

import (
	"github.com/go-chi/chi/v5"
)

// Routes builds the API router: public auth endpoints plus the JWT-protected
// order and profile endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/profile", h.Profile)
		r.Get("/orders", h.GetUserOrders)
		r.Get("/orders/open", h.GetOpenOrders)
		r.Post("/orders", h.PlaceOrder)
		r.Post("/orders/{id}/match", h.MatchOrder)
		r.Post("/orders/{id}/cancel", h.CancelOrder)
	})

	return r
}
