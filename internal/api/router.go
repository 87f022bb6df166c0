package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tablechat-io/tablechat/internal/api/middleware"
	"github.com/tablechat-io/tablechat/internal/config"
	"github.com/tablechat-io/tablechat/internal/handlers"
	"github.com/tablechat-io/tablechat/internal/hub"
	"github.com/tablechat-io/tablechat/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, data store.DataStore, messages store.MessageStore, h *hub.Hub) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - the browser clients are served from the booking frontend
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.HeaderUserID, middleware.HeaderUserName, middleware.HeaderUserRole},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	hd := handlers.NewHandler(data, messages, h, cfg)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no identity required)
	r.Get("/health", hd.Health)
	r.Get("/api/stats", hd.Stats)

	// WebSocket upgrade resolves identity itself; it cannot sit behind
	// the JSON-oriented middleware group.
	r.Get("/ws", hd.WebSocket)

	// Identified routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)

		r.Get("/api/rooms", hd.ListRooms)
		r.Post("/api/rooms", hd.CreateRoom)
		r.Get("/api/rooms/{id}/messages", hd.GetMessages)
		r.Post("/api/rooms/{id}/read", hd.MarkRead)
		r.Post("/api/rooms/{id}/archive", hd.Archive)
		r.Get("/api/unread", hd.Unread)
	})

	return r
}
