package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Connected controllers
		r.Route("/controllers", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListControllers)
			r.Route("/{pts_id}", func(r chi.Router) {
				r.Get("/", s.HandleGetController)
				r.Post("/command", s.HandleSendCommand)
				r.Delete("/", s.HandleCloseController)
			})
		})

		// Event log
		r.Route("/events", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListEvents)
		})

		// Fuel tag balances
		r.Route("/tags", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Route("/{tag_id}", func(r chi.Router) {
				r.Get("/balance", s.HandleGetTagBalance)
				r.Put("/balance", s.HandleSetTagBalance)
			})
		})
	})
}
