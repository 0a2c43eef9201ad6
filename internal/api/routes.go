package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires all routes with standard middleware.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/counts", h.HandleCounts)
		r.Get("/records", h.HandleRecords)
		r.Post("/records/{key}/recover", h.HandleRecover)
		r.Get("/health", h.HealthCheck)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/trigger", h.HandleSyncTrigger)
			r.Get("/status", h.HandleSyncStatus)
		})
	})

	return r
}
