package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jusunglee/kaitoribot/internal/db"
	"github.com/jusunglee/kaitoribot/internal/stats"
	"github.com/jusunglee/kaitoribot/internal/web/handlers"
	"github.com/jusunglee/kaitoribot/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	ChannelSecret string
	AdminKey      string
}

type Router struct {
	repo        db.Repository
	log         *slog.Logger
	dispatcher  handlers.Dispatcher
	broadcaster handlers.Broadcaster
	guard       handlers.ActivityReader
	stats       stats.Store
	config      Config

	webhook     *handlers.WebhookHandler
	rateLimiter *middleware.IPRateLimiter
}

func NewRouter(
	repo db.Repository,
	log *slog.Logger,
	dispatcher handlers.Dispatcher,
	broadcaster handlers.Broadcaster,
	g handlers.ActivityReader,
	statsStore stats.Store,
	config Config,
) *Router {
	return &Router{
		repo:        repo,
		log:         log,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		guard:       g,
		stats:       statsStore,
		config:      config,
		webhook:     handlers.NewWebhookHandler(config.ChannelSecret, dispatcher, log),
		rateLimiter: middleware.NewRateLimiter(30, time.Minute),
	}
}

// Webhook exposes the webhook handler so the server can drain it on shutdown.
func (r *Router) Webhook() *handlers.WebhookHandler {
	return r.webhook
}

// RateLimiter exposes the admin rate limiter so idle IPs can be pruned.
func (r *Router) RateLimiter() *middleware.IPRateLimiter {
	return r.rateLimiter
}

func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	adminHandler := handlers.NewAdminHandler(r.repo, r.broadcaster, r.guard, r.stats, r.log)

	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /webhook",
		middleware.Chain(
			http.HandlerFunc(r.webhook.Handle),
			middleware.Recover(r.log, http.StatusOK),
			middleware.PrometheusMetrics(),
			middleware.RequestLogger(r.log),
		),
	)

	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(
			h,
			middleware.Recover(r.log, http.StatusInternalServerError),
			middleware.PrometheusMetrics(),
			middleware.RequestLogger(r.log),
			middleware.RateLimit(r.rateLimiter),
			middleware.AdminKey(r.config.AdminKey),
		)
	}

	mux.Handle("POST /admin/broadcast", admin(adminHandler.Broadcast))
	mux.Handle("GET /admin/inquiries", admin(adminHandler.ListInquiries))
	mux.Handle("GET /admin/users/{id}", admin(adminHandler.GetUser))
	mux.Handle("GET /admin/stats", admin(adminHandler.Stats))

	return mux
}
