package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfotel "github.com/Strob0t/ledgersync/internal/adapter/otel"
	"github.com/Strob0t/ledgersync/internal/middleware"
	"github.com/Strob0t/ledgersync/internal/port/cache"
)

// RouteOptions configures authentication and throttling of the routes.
// Secrets are read per request; a nil secret is empty.
type RouteOptions struct {
	WebhookSecret middleware.Secret
	APIToken      middleware.Secret
	// Deliveries records webhook delivery ids; nil disables deduplication.
	Deliveries cache.Cache
	DedupeTTL  time.Duration
	// Limiter throttles /api/v1; nil disables it.
	Limiter *middleware.RateLimiter
	// WS upgrades /ws; nil leaves the route unmounted.
	WS http.HandlerFunc
}

// NewRouter builds the HTTP surface:
//
//	POST /webhooks/github   signed GitHub deliveries
//	POST /api/v1/reconcile  manual reconciliation trigger
//	GET  /health
//	GET  /ws                live sync events
func NewRouter(h *Handlers, opts RouteOptions) chi.Router {
	if opts.WebhookSecret == nil {
		opts.WebhookSecret = middleware.Static("")
	}
	if opts.APIToken == nil {
		opts.APIToken = middleware.Static("")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logger(h.Log))
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/health", h.Health)
	if opts.WS != nil {
		r.Get("/ws", opts.WS)
	}

	r.Group(func(r chi.Router) {
		r.Use(cfotel.HTTPMiddleware("ledgersync.webhook"))
		r.Use(middleware.WebhookHMAC(opts.WebhookSecret, "X-Hub-Signature-256"))
		if opts.Deliveries != nil {
			r.Use(middleware.Dedupe(opts.Deliveries, "X-GitHub-Delivery", opts.DedupeTTL, h.Log))
		}
		r.Post("/webhooks/github", h.HandleGitHubWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cfotel.HTTPMiddleware("ledgersync.api"))
		r.Use(middleware.APIToken(opts.APIToken))
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Handler)
		}
		r.Post("/reconcile", h.HandleReconcile)
	})

	return r
}
