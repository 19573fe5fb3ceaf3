package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/agent-relay/internal/middleware"
	"github.com/capitalize-ai/agent-relay/pkg/logger"
)

// RouterConfig wires the handlers into the HTTP surface.
type RouterConfig struct {
	Webhooks      *WebhookHandler
	Conversations *ConversationHandler
	Health        *HealthHandler
	Logger        *logger.Logger

	JWTSecret         string
	RateLimitRequests int
	PollRateRequests  int
	RateLimitWindow   time.Duration
}

// NewRouter builds the chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Channel webhooks are addressed by their webhook id and verified per connection.
	pollLimit := cfg.PollRateRequests
	if pollLimit <= 0 {
		pollLimit = cfg.RateLimitRequests
	}
	r.Route("/webhooks/{webhookID}", func(r chi.Router) {
		r.With(middleware.WebhookRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).Post("/", cfg.Webhooks.Inbound)
		r.With(middleware.PollRateLimit(pollLimit, cfg.RateLimitWindow)).Get("/response", cfg.Webhooks.Poll)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.OwnerRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", cfg.Conversations.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Conversations.Get)
				r.Get("/events", cfg.Conversations.Events)
			})
		})
	})

	return r
}
