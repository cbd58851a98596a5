package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/everkeep/companion-platform/internal/http/handlers"
	httpmiddleware "github.com/everkeep/companion-platform/internal/http/middleware"
	"github.com/everkeep/companion-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	AISessions         *handlers.AISessionHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", cfg.AISessions.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Get("/crisis-resources", cfg.AISessions.GetCrisisResources)

	r.Route("/ai", func(r chi.Router) {
		r.Post("/sessions", cfg.AISessions.StartSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", cfg.AISessions.GetSession)
			r.Post("/messages", cfg.AISessions.PostMessage)
			r.Post("/end", cfg.AISessions.EndSession)
			r.Post("/break-reminder", cfg.AISessions.MarkBreakReminder)
			r.Post("/resources-shown", cfg.AISessions.MarkResourcesShown)
			r.Post("/crisis-handled", cfg.AISessions.MarkCrisisHandled)
		})
		r.Get("/stats", cfg.AISessions.GetStats)
	})

	return r
}
