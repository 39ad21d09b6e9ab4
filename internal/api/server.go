package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/driftcast/internal/auth"
	"github.com/star/driftcast/internal/forecast"
	"github.com/star/driftcast/internal/health"
	"github.com/star/driftcast/internal/httputil"
	"github.com/star/driftcast/internal/launch"
	"github.com/star/driftcast/internal/metrics"
	"github.com/star/driftcast/internal/sites"
	"github.com/star/driftcast/internal/stream"
)

// Planner runs launch windows. *launch.Planner implements it.
type Planner interface {
	Run(ctx context.Context, req launch.Request) (*launch.Batch, error)
	Stream(ctx context.Context, req launch.Request, emit func(launch.Event) error) (*launch.Batch, error)
	MaxWindowHours() int
}

// Publisher receives every completed batch. *publish.Publisher implements it.
type Publisher interface {
	PublishBatch(ctx context.Context, b *launch.Batch) error
}

// CacheStats reports forecast cache counters. *forecast.MemoryCache
// implements it.
type CacheStats interface {
	Stats() forecast.CacheStats
}

// Options holds the server's dependencies. Publisher and Cache may be nil.
type Options struct {
	Auth        auth.Config
	Stream      stream.Config
	Planner     Planner
	Sites       sites.Store
	Publisher   Publisher
	Cache       CacheStats
	ReadyChecks []health.Check
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	stream     *stream.Handler
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, opts Options) *Server {
	rv := &resolver{sites: opts.Sites, maxHours: opts.Planner.MaxWindowHours()}
	streamHandler := stream.NewHandler(opts.Planner, rv.resolveQuery,
		func(ctx context.Context, b *launch.Batch) {
			publishBatch(ctx, opts.Publisher, b, logger)
		}, opts.Stream, logger)

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(2*time.Second, opts.ReadyChecks...))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/predictions", predictionsHandler(opts.Planner, rv, opts.Publisher, logger))
	mux.HandleFunc("GET /api/v1/stream/predictions", streamHandler.HandlePredictions)

	mux.HandleFunc("GET /api/v1/sites", listSitesHandler(opts.Sites, logger))
	mux.HandleFunc("GET /api/v1/sites/{name}", getSiteHandler(opts.Sites, logger))
	mux.HandleFunc("PUT /api/v1/sites/{name}", putSiteHandler(opts.Sites, logger))
	mux.HandleFunc("DELETE /api/v1/sites/{name}", deleteSiteHandler(opts.Sites, logger))

	mux.HandleFunc("GET /api/v1/cache/stats", cacheStatsHandler(opts.Cache))

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(opts.Auth)(handler)
	handler = loggingMiddleware(logger, opts.Stream.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// A full window fetches one forecast per hour; the stream
			// handler manages its own deadlines.
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		stream: streamHandler,
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ActiveStreams returns the number of open prediction streams.
func (s *Server) ActiveStreams() int {
	return s.stream.Active()
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE responses pass through the logging middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
