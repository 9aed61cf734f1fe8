package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudfly/chat-relay/internal/middleware"
	"github.com/cloudfly/chat-relay/pkg/logger"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	AllowedOrigins  []string
	NotifySecret    string
	NotifyRateLimit int
	WSRateLimit     int
	RateLimitWindow time.Duration
}

// NewRouter wires every HTTP endpoint of the relay.
func NewRouter(cfg RouterConfig, health *HealthHandler, notify *NotifyHandler, sock *SocketHandler, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/", health.Root)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.WSRateLimit > 0 {
			r.Use(middleware.RateLimit(cfg.WSRateLimit, cfg.RateLimitWindow))
		}
		r.Get("/ws", sock.Connect)
	})

	r.Route("/api/notify", func(r chi.Router) {
		if cfg.NotifyRateLimit > 0 {
			r.Use(middleware.RateLimit(cfg.NotifyRateLimit, cfg.RateLimitWindow))
		}
		r.Use(middleware.APISecret(cfg.NotifySecret, log))
		r.Use(middleware.RequireJSON(middleware.MaxNotifyBodyBytes))

		r.Post("/new-message", notify.NewMessage)
		r.Post("/message-status", notify.MessageStatus)
	})

	return r
}
