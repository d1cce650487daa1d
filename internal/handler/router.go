package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/middleware"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// RouterOptions configures the gateway router.
type RouterOptions struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string
	Heartbeat         time.Duration
}

// NewRouter builds the gateway's routes over b. conn backs the readiness probe.
func NewRouter(b backend.Backend, conn Connectivity, log *logger.Logger, opts RouterOptions) http.Handler {
	log = logger.OrGlobal(log)

	healthHandler := NewHealthHandler(conn)
	conversationHandler := NewConversationHandler(b, log)
	messageHandler := NewMessageHandler(b, log)
	streamHandler := NewStreamHandler(b, log, opts.Heartbeat)
	preferencesHandler := NewPreferencesHandler(b, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(opts.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(opts.JWTSecret))
		if opts.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitRequests, opts.RateLimitWindow))
		}

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Put("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)

				r.Get("/stream", streamHandler.Watch)
				r.Post("/stream", streamHandler.Chat)
			})
		})

		r.Get("/preferences", preferencesHandler.Get)
		r.Put("/preferences", preferencesHandler.Put)
	})

	return r
}
