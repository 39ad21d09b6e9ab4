package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcast_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftcast_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	simulationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcast_simulations_total",
			Help: "Hourly descent simulations by outcome.",
		},
		[]string{"outcome"},
	)

	batchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftcast_batch_duration_seconds",
			Help:    "Wall time to simulate a launch window.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	forecastFetchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftcast_forecast_fetch_duration_seconds",
			Help:    "Upstream forecast request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	forecastCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcast_forecast_cache_requests_total",
			Help: "Forecast cache lookups by layer and result.",
		},
		[]string{"layer", "result"},
	)

	forecastCacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftcast_forecast_cache_evictions_total",
			Help: "Profiles evicted from the in-memory forecast cache.",
		},
	)

	publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcast_publish_total",
			Help: "Batches published to the message bus by result.",
		},
		[]string{"result"},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcast_stream_connections_total",
			Help: "SSE connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftcast_streams_active",
			Help: "Open SSE streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftcast_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftcast_stream_bytes_total",
			Help: "Bytes written to SSE streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcast_stream_errors_total",
			Help: "SSE errors by reason.",
		},
		[]string{"reason"},
	)

	forecastAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftcast_forecast_last_success_age_seconds",
			Help: "Seconds since the last successful upstream forecast fetch.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(simulationsTotal)
	prometheus.MustRegister(batchDurationSeconds)
	prometheus.MustRegister(forecastFetchSeconds)
	prometheus.MustRegister(forecastCacheTotal)
	prometheus.MustRegister(forecastCacheEvictions)
	prometheus.MustRegister(publishTotal)
	prometheus.MustRegister(streamConnectionsTotal)
	prometheus.MustRegister(streamsActive)
	prometheus.MustRegister(streamMessagesTotal)
	prometheus.MustRegister(streamBytesTotal)
	prometheus.MustRegister(streamErrorsTotal)
	prometheus.MustRegister(forecastAgeSeconds)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSimulation counts one hour's simulation. outcome is "ok", "fetch_error"
// or the failed phase name.
func RecordSimulation(outcome string) {
	simulationsTotal.WithLabelValues(outcome).Inc()
}

func ObserveBatch(d time.Duration) {
	batchDurationSeconds.Observe(d.Seconds())
}

// ObserveForecastFetch records an upstream request; result is "ok" or "error".
func ObserveForecastFetch(result string, d time.Duration) {
	forecastFetchSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// IncCacheHit and IncCacheMiss count lookups per cache layer
// ("memory", "redis", "archive").
func IncCacheHit(layer string)  { forecastCacheTotal.WithLabelValues(layer, "hit").Inc() }
func IncCacheMiss(layer string) { forecastCacheTotal.WithLabelValues(layer, "miss").Inc() }

func IncCacheEvictions() { forecastCacheEvictions.Inc() }

func SetForecastAge(seconds float64) { forecastAgeSeconds.Set(seconds) }

func IncPublish(result string) { publishTotal.WithLabelValues(result).Inc() }

func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }
func IncStreamsActive()                 { streamsActive.Inc() }
func DecStreamsActive()                 { streamsActive.Dec() }
func IncStreamMessages()                { streamMessagesTotal.Inc() }
func AddStreamBytes(n int64)            { streamBytesTotal.Add(float64(n)) }
func IncStreamErrors(reason string)     { streamErrorsTotal.WithLabelValues(reason).Inc() }

// knownRoutes are the exact paths served by the API.
var knownRoutes = map[string]bool{
	"/healthz":                   true,
	"/readyz":                    true,
	"/metrics":                   true,
	"/api/v1/predictions":        true,
	"/api/v1/stream/predictions": true,
	"/api/v1/sites":              true,
	"/api/v1/cache/stats":        true,
}

const sitePrefix = "/api/v1/sites/"

// normalizeRoute maps a request path onto a bounded label set so bots and
// site names cannot explode metric cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if name, ok := strings.CutPrefix(path, sitePrefix); ok && name != "" && !strings.Contains(name, "/") {
		return sitePrefix + "{name}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE responses still stream.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
