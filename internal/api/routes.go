package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router and middleware stack.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://tripwell.io", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/notifications", h.SubmitNotification)
		r.Get("/notifications/inbox/{userID}", h.GetInbox)

		r.Get("/timing/recommendation", h.GetTimingRecommendation)

		r.Get("/metrics", h.GetMetrics)
		r.Post("/reports", h.GenerateReport)
		r.Get("/reports", h.ListReports)
		r.Get("/reports/{reportID}", h.GetReport)

		r.Get("/channels", h.GetChannels)
		r.Get("/channels/validate", h.ValidateChannels)

		r.Get("/stream/{userID}", h.StreamNotifications)
	})

	return r
}
