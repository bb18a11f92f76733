package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterOptions carries the optional pieces mounted around the handlers.
type RouterOptions struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	// TrustProxy rewrites RemoteAddr from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// RateLimit wraps only the chat-completions route when set.
	RateLimit func(http.Handler) http.Handler
	// Metrics is served at /metrics when set.
	Metrics http.Handler
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestID)
	r.Use(Logging(logger))
	r.Use(Recovery(logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(CORS(opts.AllowedOrigins))
	}

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/health/upstream", h.UpstreamHealth)
	r.Get("/v1/models", h.ListModels)
	r.Post("/test", h.Test)
	r.Post("/mock-test", h.MockTest)

	r.Group(func(r chi.Router) {
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		r.Post("/v1/chat/completions", h.ChatCompletions)
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	return r
}
