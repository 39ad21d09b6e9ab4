package forecast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/star/driftcast/internal/metrics"
)

const defaultSourceURL = "https://api.open-meteo.com/v1/forecast"

// maxResponseBytes caps a single forecast response body.
const maxResponseBytes = 50 << 20

// PressureLevels are the isobaric levels requested, lowest altitude first.
var PressureLevels = []int{1000, 975, 950, 925, 900, 850, 800, 700, 600, 500, 400, 300, 250, 200}

const hourFormat = "2006-01-02T15:04"

// Fetcher retrieves one hour's forecast per request from an Open-Meteo
// compatible endpoint. Requests are serialized: at most one is in flight
// per Fetcher no matter how many batches are running.
type Fetcher struct {
	sourceURL  string
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	lastSuccess atomic.Int64 // unix nanoseconds
}

// NewFetcher creates a Fetcher for the given source URL. An empty URL selects
// the public Open-Meteo endpoint.
func NewFetcher(sourceURL string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if sourceURL == "" {
		sourceURL = defaultSourceURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		sourceURL: sourceURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// LastSuccess returns the time of the last successful fetch, or the zero
// time if none has succeeded.
func (f *Fetcher) LastSuccess() time.Time {
	ns := f.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// RequestURL builds the forecast URL for q.
func (f *Fetcher) RequestURL(q Query) string {
	hourly := []string{"wind_speed_10m", "wind_direction_10m"}
	for _, lvl := range PressureLevels {
		l := strconv.Itoa(lvl)
		hourly = append(hourly,
			"wind_speed_"+l+"hPa",
			"wind_direction_"+l+"hPa",
			"geopotential_height_"+l+"hPa",
		)
	}

	hour := q.Hour.UTC().Truncate(time.Hour).Format(hourFormat)
	model := q.Model
	if model == "" {
		model = DefaultModel
	}

	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(q.Site.Lat(), 'f', 4, 64))
	v.Set("longitude", strconv.FormatFloat(q.Site.Lon(), 'f', 4, 64))
	v.Set("hourly", strings.Join(hourly, ","))
	v.Set("wind_speed_unit", "kn")
	v.Set("timezone", "GMT")
	v.Set("start_hour", hour)
	v.Set("end_hour", hour)
	v.Set("models", model)
	return f.sourceURL + "?" + v.Encode()
}

// Fetch performs an HTTP GET for one hour's forecast.
func (f *Fetcher) Fetch(ctx context.Context, q Query) ([]byte, error) {
	ctx, span := otel.Tracer("driftcast/forecast").Start(ctx, "forecast.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("forecast.key", q.Key()),
		attribute.String("forecast.model", q.Model),
	)

	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	body, err := f.fetch(ctx, q)
	if err != nil {
		metrics.ObserveForecastFetch("error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.ObserveForecastFetch("ok", time.Since(start))
	f.lastSuccess.Store(time.Now().UnixNano())
	f.logger.Debug("forecast fetched",
		"component", "forecast",
		"key", q.Key(),
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return body, nil
}

func (f *Fetcher) fetch(ctx context.Context, q Query) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.RequestURL(q), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", f.sourceURL, maxResponseBytes)
	}

	return body, nil
}
