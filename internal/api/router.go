/**
 * @description
 * HTTP router setup for the relayer service using go-chi/chi.
 */
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/remitchain/relayer-service/internal/metrics"
)

// RouterOptions configures access control and instrumentation.
type RouterOptions struct {
	APIKey         string
	JWTSecret      string
	AllowedOrigins []string
	Metrics        *metrics.Metrics
}

// NewRouter creates a new Chi router and registers relayer routes.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(MetricsMiddleware(opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", APIKeyHeader, IdempotencyKeyHeader},
		ExposedHeaders:   []string{ReplayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.APIKey, opts.JWTSecret))
		r.Post("/remittance/send", h.handleSend)
		r.Get("/remittance/status/{id}", h.handleStatus)
		r.Get("/nonce/{address}", h.handleNonce)
		r.Get("/chain/head", h.handleChainHead)
	})

	return r
}
