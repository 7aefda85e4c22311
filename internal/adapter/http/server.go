// Package http serves the permit API along with health, readiness and
// metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/couchcryptid/permit-data-service/internal/observability"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Snapshots exposes the currently published dataset.
type Snapshots interface {
	Current() *domain.Dataset
	CheckReadiness(ctx context.Context) error
}

// Options configures the API server.
type Options struct {
	Addr           string
	DefaultK       int
	MaxK           int
	RateLimit      float64 // requests per second on /v1; <= 0 disables limiting
	RateBurst      int
	AllowedOrigins []string
}

// Server exposes the permit API plus /healthz, /readyz and /metrics.
type Server struct {
	httpServer *http.Server
	snapshots  Snapshots
	estimator  *domain.Estimator
	opts       Options
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewServer creates the HTTP server and its routes.
func NewServer(opts Options, snapshots Snapshots, estimator *domain.Estimator, metrics *observability.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		snapshots: snapshots,
		estimator: estimator,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(s.snapshots))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Content-Disposition", "X-Dataset-Id"},
			MaxAge:         300,
		}))
		r.Use(rateLimit(s.opts.RateLimit, s.opts.RateBurst))
		r.Use(s.requireDataset)

		r.Get("/estimate", s.handleEstimate)
		r.Get("/summary", s.handleSummary)
		r.Get("/summary.xlsx", s.handleSummaryXLSX)
		r.Get("/filters", s.handleFilters)
	})
	return r
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type datasetKey struct{}

// requireDataset pins the current snapshot for the request, or answers 503
// when nothing has been loaded yet.
func (s *Server) requireDataset(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds := s.snapshots.Current()
		if ds == nil {
			writeError(w, http.StatusServiceUnavailable, "no dataset loaded yet")
			return
		}
		w.Header().Set("X-Dataset-Id", ds.ID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), datasetKey{}, ds)))
	})
}

func datasetFrom(ctx context.Context) *domain.Dataset {
	ds, _ := ctx.Value(datasetKey{}).(*domain.Dataset)
	return ds
}

// rateLimit applies one shared token bucket to every request it wraps.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, max(burst, 1))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
