package router

import (
	"net/http"

	"acctshop-api/internal/handler"
	"acctshop-api/internal/metrics"
	"acctshop-api/internal/middleware"
	"acctshop-api/pkg/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler         *handler.Handler
	EventHandler    *handler.EventHandler
	AdminHandler    *handler.AdminHandler
	Metrics         *metrics.Metrics
	Logger          logrus.FieldLogger
	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key", "X-Login-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/status", cfg.Handler.Status)
		}

		r.Route("/v1", func(r chi.Router) {
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			// Chat transport webhook
			if cfg.EventHandler != nil {
				r.Group(func(r chi.Router) {
					if cfg.AuthMiddleware != nil {
						r.Use(cfg.AuthMiddleware)
					}
					r.Post("/events", cfg.EventHandler.Handle)
				})
			}

			// Operator endpoints
			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					if cfg.AdminMiddleware != nil {
						r.Use(cfg.AdminMiddleware)
					}
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Get("/health", cfg.AdminHandler.GetHealth)
					r.Get("/alerts", cfg.AdminHandler.ListAlerts)
					r.Post("/reconcile", cfg.AdminHandler.Reconcile)
				})
			}
		})
	})

	return r
}
