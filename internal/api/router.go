package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the full API surface. requestTimeout bounds each request's
// downstream calls.
func NewRouter(h *Handler, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/items", h.AddItem)
			r.Put("/items/{line_id}", h.UpdateQuantity)
			r.Delete("/items/{line_id}", h.RemoveItem)
			r.Post("/undo", h.UndoRemove)
			r.Delete("/undo", h.CancelUndo)
			r.Post("/discount", h.ApplyDiscount)
			r.Post("/refresh", h.Refresh)
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", h.GetWishlist)
			r.Post("/toggle", h.ToggleWishlist)
		})

		r.Route("/session", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Post("/retry-merge", h.RetryMerge)
		})

		r.Post("/checkout", h.CreateCheckout)
	})

	return r
}
