package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/medbot/app"
	"github.com/upb/medbot/handlers"
	"github.com/upb/medbot/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) (http.Handler, error) {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.Index, deps.Generator, deps.Logger)
	query := handlers.NewQueryHandler(deps.Pipeline, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", deps.Prometheus.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handlers.StatusHandler(handlers.StatusInfo{
			Version:        app.Version,
			Environment:    cfg.Environment,
			IndexBackend:   deps.Index.Backend(),
			EmbeddingModel: cfg.Embedder.Model,
			LanguageModel:  cfg.Generator.Model,
			TopK:           deps.Pipeline.Options().TopK,
			ScoreThreshold: deps.Pipeline.Options().ScoreThreshold,
			AuthEnabled:    deps.AuthMiddleware != nil,
		}))

		r.Group(func(r chi.Router) {
			if deps.AuthMiddleware != nil {
				r.Use(deps.AuthMiddleware.RequireAuth)
			}
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Limit)
			}
			r.Post("/query", query.HandleQuery)
		})
	})

	// Browser form
	if cfg.Server.UIEnabled {
		ui, err := handlers.NewUIHandler(deps.Pipeline, cfg.Retrieval.MaxQueryLength, deps.Logger)
		if err != nil {
			return nil, err
		}
		r.Get("/", ui.HandleIndex)
		r.Group(func(r chi.Router) {
			// Browsers authenticate with the auth_token cookie
			if deps.AuthMiddleware != nil {
				r.Use(deps.AuthMiddleware.RequireAuth)
			}
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Limit)
			}
			r.Post("/", ui.HandleAsk)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r, nil
}
