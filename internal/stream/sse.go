// Package stream implements Server-Sent Events (SSE) streaming of landing
// predictions. Clients connect via GET /api/v1/stream/predictions and
// receive one message per launch hour as soon as it has been simulated.
//
// SSE message format:
//
//	data: {"type":"result","result":{...}}\n\n
//
// The first message is always metadata and the last is done (or error):
//
//	data: {"type":"metadata","site":{...},"window":{...},"hours":6}\n\n
//	data: {"type":"skip","skip":{"time":"...","hour":"3PM","reason":"..."}}\n\n
//	data: {"type":"done","batch_id":"...","results":5,"skipped":1}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval while a
// forecast is being fetched.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/star/driftcast/internal/descent"
	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/httputil"
	"github.com/star/driftcast/internal/launch"
	"github.com/star/driftcast/internal/metrics"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 200).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Take the client IP from proxy headers.
}

// Planner runs a launch window, reporting each hour through emit.
type Planner interface {
	Stream(ctx context.Context, req launch.Request, emit func(launch.Event) error) (*launch.Batch, error)
}

// ResolveFunc turns an incoming request into a validated launch request.
// Errors carrying an httputil.StatusError are reported with that status.
type ResolveFunc func(r *http.Request) (launch.Request, error)

// CompleteFunc is called with every batch that streamed to completion.
type CompleteFunc func(ctx context.Context, b *launch.Batch)

// Handler manages SSE streaming connections.
type Handler struct {
	planner    Planner
	resolve    ResolveFunc
	onComplete CompleteFunc
	config     Config
	limiter    *streamLimiter
	logger     *slog.Logger
}

// NewHandler creates a new streaming handler. onComplete may be nil.
func NewHandler(planner Planner, resolve ResolveFunc, onComplete CompleteFunc, config Config, logger *slog.Logger) *Handler {
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		planner:    planner,
		resolve:    resolve,
		onComplete: onComplete,
		config:     config,
		limiter:    newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:     logger,
	}
}

// Active returns the number of open streams.
func (h *Handler) Active() int { return h.limiter.active() }

// HandlePredictions serves the SSE prediction stream.
// GET /api/v1/stream/predictions?site=pad&start_hour=0&end_hour=6&apogee_ft=5000&main_rate_fps=20
func (h *Handler) HandlePredictions(w http.ResponseWriter, r *http.Request) {
	req, err := h.resolve(r)
	if err != nil {
		httputil.WriteStatusError(w, err)
		return
	}

	// Rate limiting: enforce concurrent stream limits.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"component", "stream",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"component", "stream",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"site", req.SiteName,
		"start_hour", req.Window.StartHour,
		"end_hour", req.Window.EndHour,
	)

	c := &client{
		w:      w,
		ip:     ip,
		logger: h.logger,
	}
	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"component", "stream",
			"remote_ip", ip,
			"messages", c.messagesSent,
			"bytes", c.bytesSent,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	c.flusher = flusher

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection; each
	// write extends its own deadline.
	c.rc = http.NewResponseController(w)
	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "component", "stream", "error", err)
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	if err := c.sendRetry(3000 + rand.Intn(4000)); err != nil {
		return
	}

	meta := metadataMessage{
		Type:     "metadata",
		SiteName: req.SiteName,
		Site:     req.Site,
		Window:   req.Window,
		Hours:    req.Window.Len(),
		Model:    req.Model,
	}
	if err := c.sendJSON(meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "component", "stream", "remote_ip", ip, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	type outcome struct {
		batch *launch.Batch
		err   error
	}
	events := make(chan launch.Event)
	done := make(chan outcome, 1)
	go func() {
		b, err := h.planner.Stream(ctx, req, func(ev launch.Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		done <- outcome{b, err}
	}()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-events:
			var msg any
			if ev.Result != nil {
				msg = resultMessage{Type: "result", Result: ev.Result}
			} else {
				msg = skipMessage{Type: "skip", Skip: *ev.Skip}
			}
			if err := c.sendJSON(msg); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "component", "stream", "remote_ip", ip, "error", err)
				return
			}
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case out := <-done:
			if out.err != nil {
				if errors.Is(out.err, context.Canceled) || ctx.Err() != nil {
					return
				}
				metrics.IncStreamErrors("planner_error")
				h.logger.Warn("stream prediction failed", "component", "stream", "remote_ip", ip, "error", out.err)
				c.sendJSON(errorMessage{Type: "error", Error: "prediction failed"})
				return
			}
			if err := c.sendJSON(doneMessage{
				Type:    "done",
				BatchID: out.batch.ID.String(),
				Results: len(out.batch.Results),
				Skipped: len(out.batch.Skipped),
			}); err != nil {
				metrics.IncStreamErrors("send_error")
				return
			}
			if h.onComplete != nil {
				h.onComplete(ctx, out.batch)
			}
			return

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "component", "stream", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type     string        `json:"type"`
	SiteName string        `json:"site_name,omitempty"`
	Site     geo.Point     `json:"site"`
	Window   launch.Window `json:"window"`
	Hours    int           `json:"hours"`
	Model    string        `json:"model,omitempty"`
}

type resultMessage struct {
	Type   string          `json:"type"`
	Result *descent.Result `json:"result"`
}

type skipMessage struct {
	Type string      `json:"type"`
	Skip launch.Skip `json:"skip"`
}

type doneMessage struct {
	Type    string `json:"type"`
	BatchID string `json:"batch_id"`
	Results int    `json:"results"`
	Skipped int    `json:"skipped"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
