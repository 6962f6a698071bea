// Package router assembles the HTTP surface: the WATI webhook ingress, the
// operator ticket API, health and metrics.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpmiddleware "github.com/ironlady-tech/wati-support/internal/http/middleware"
	"github.com/ironlady-tech/wati-support/internal/operator"
	"github.com/ironlady-tech/wati-support/internal/webhook"
	"github.com/ironlady-tech/wati-support/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	WebhookHandler     *webhook.Handler
	OperatorHandler    *operator.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	HealthCheck        http.HandlerFunc

	// OperatorRateLimit caps requests/sec per IP on the operator API.
	// Zero disables limiting.
	OperatorRateLimit float64
	OperatorRateBurst int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

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

	if cfg.HealthCheck != nil {
		r.Get("/health", cfg.HealthCheck)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
	}

	if cfg.WebhookHandler != nil {
		r.Post("/webhooks/wati", cfg.WebhookHandler.Receive)
	}
	if cfg.OperatorHandler != nil {
		r.Route("/api/v1", func(api chi.Router) {
			if cfg.OperatorRateLimit > 0 {
				api.Use(httpmiddleware.RateLimit(cfg.OperatorRateLimit, cfg.OperatorRateBurst))
			}
			api.Mount("/tickets", cfg.OperatorHandler.Routes())
		})
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
