// Package api serves the reconciler's views over HTTP and accepts
// certification events posted by webhook producers.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/certsync/internal/model"
	"github.com/roach88/certsync/internal/reconciler"
)

// DefaultRefreshTimeout bounds how long POST /v1/refresh waits for a load.
const DefaultRefreshTimeout = 30 * time.Second

// maxBodyBytes caps webhook request bodies.
const maxBodyBytes = 1 << 20

// Reconciler is the part of *reconciler.Reconciler the server uses.
type Reconciler interface {
	Submit(ev model.Event) error
	Snapshot() *reconciler.Snapshot
	Refresh(ctx context.Context) error
	Stats() reconciler.Stats
}

// FeedStatus is the part of *feed.Subscriber the server reports on.
type FeedStatus interface {
	Connected() bool
	Received() int64
}

// ServerOption configures the server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metrics        http.Handler
	refreshTimeout time.Duration
	feed           FeedStatus
}

// WithMiddlewares adds middleware to the server.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metrics = h
	}
}

// WithRefreshTimeout bounds POST /v1/refresh.
func WithRefreshTimeout(d time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.refreshTimeout = d
	}
}

// WithFeed reports push feed connectivity in /healthz and the number of
// events it delivered in /v1/stats.
func WithFeed(f FeedStatus) ServerOption {
	return func(cfg *serverConfig) {
		cfg.feed = f
	}
}

// NewServer creates the HTTP router.
func NewServer(rec Reconciler, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{refreshTimeout: DefaultRefreshTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &handlers{rec: rec, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", h.health)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pending-counts", h.pendingCounts)
		r.Get("/trainers", h.listTrainers)
		r.Get("/trainers/{id}", h.getTrainer)
		r.Get("/trainers/{id}/pending", h.trainerPending)
		r.Get("/stats", h.stats)
		r.Post("/events", h.postEnvelope)
		r.Post("/events/{kind}", h.postEvent)
		r.Post("/refresh", h.refresh)
	})

	return r
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
