package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/star/driftcast/internal/descent"
	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/httputil"
	"github.com/star/driftcast/internal/launch"
	"github.com/star/driftcast/internal/wind"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

var testSite = geo.MustPoint(40, -105)

func testRequest() launch.Request {
	rec, _ := descent.NewRecovery(20)
	return launch.Request{
		SiteName: "pad",
		Site:     testSite,
		Window:   launch.Window{StartHour: 0, EndHour: 1},
		ApogeeFt: 3000,
		Recovery: rec,
	}
}

func resolveOK(*http.Request) (launch.Request, error) { return testRequest(), nil }

func testResult(t *testing.T) *descent.Result {
	t.Helper()
	profile, err := wind.NewProfile(wind.ProfileConfig{
		Model:              "test",
		GroundSpeedKt:      10,
		GroundDirectionDeg: 270,
		Samples: []wind.Sample{
			{AltitudeFt: 0, SpeedKt: 10, DirectionDeg: 270},
			{AltitudeFt: 5000, SpeedKt: 10, DirectionDeg: 270},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := descent.NewRecovery(20)
	res, err := descent.NewSimulator(testLogger()).Simulate(descent.Input{
		Time:     time.Date(2026, 6, 13, 15, 0, 0, 0, time.UTC),
		Launch:   testSite,
		ApogeeFt: 3000,
		Recovery: rec,
		Profile:  profile,
	})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// fakePlanner emits a fixed list of events. When block is set it waits for
// cancellation after emitting them.
type fakePlanner struct {
	events []launch.Event
	err    error
	block  bool
	delay  time.Duration
}

func (p *fakePlanner) Stream(ctx context.Context, req launch.Request, emit func(launch.Event) error) (*launch.Batch, error) {
	b := &launch.Batch{ID: uuid.New(), SiteName: req.SiteName, Site: req.Site, Window: req.Window}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return b, ctx.Err()
		}
	}
	for _, ev := range p.events {
		if err := emit(ev); err != nil {
			return b, err
		}
		if ev.Result != nil {
			b.Results = append(b.Results, ev.Result)
		} else {
			b.Skipped = append(b.Skipped, *ev.Skip)
		}
	}
	if p.block {
		<-ctx.Done()
		return b, ctx.Err()
	}
	return b, p.err
}

// sseMessages decodes every "data:" line of an SSE body.
func sseMessages(t *testing.T, body string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Fatalf("invalid JSON in SSE data line: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func messageTypes(msgs []map[string]any) []string {
	types := make([]string, len(msgs))
	for i, m := range msgs {
		types[i], _ = m["type"].(string)
	}
	return types
}

// TestSSEMessageFormat verifies the wire format and message order.
func TestSSEMessageFormat(t *testing.T) {
	skip := launch.Skip{Time: time.Date(2026, 6, 13, 16, 0, 0, 0, time.UTC), Hour: "4PM", Reason: "forecast unavailable"}
	planner := &fakePlanner{events: []launch.Event{
		{Result: testResult(t)},
		{Skip: &skip},
	}}

	var completed *launch.Batch
	handler := NewHandler(planner, resolveOK, func(_ context.Context, b *launch.Batch) {
		completed = b
	}, Config{KeepaliveInterval: time.Minute}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/predictions?site=pad", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.HandlePredictions(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: ") {
		t.Errorf("body does not start with a retry hint: %q", body[:min(len(body), 20)])
	}

	msgs := sseMessages(t, body)
	got := strings.Join(messageTypes(msgs), ",")
	if got != "metadata,result,skip,done" {
		t.Fatalf("message types = %s, want metadata,result,skip,done", got)
	}

	meta := msgs[0]
	if meta["site_name"] != "pad" {
		t.Errorf("metadata site_name = %v, want pad", meta["site_name"])
	}
	if meta["hours"].(float64) != 2 {
		t.Errorf("metadata hours = %v, want 2", meta["hours"])
	}

	result := msgs[1]["result"].(map[string]any)
	if result["hour"] != "3PM" {
		t.Errorf("result hour = %v, want 3PM", result["hour"])
	}
	if msgs[2]["skip"].(map[string]any)["reason"] != "forecast unavailable" {
		t.Errorf("skip = %v", msgs[2]["skip"])
	}

	done := msgs[3]
	if done["results"].(float64) != 1 || done["skipped"].(float64) != 1 {
		t.Errorf("done counts = %v/%v, want 1/1", done["results"], done["skipped"])
	}
	if completed == nil {
		t.Fatal("onComplete not called")
	}
	if done["batch_id"] != completed.ID.String() {
		t.Errorf("done batch_id = %v, want %s", done["batch_id"], completed.ID)
	}

	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") && line != ":" {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

// TestPlannerErrorMessage verifies a failed run ends with an error message
// and skips onComplete.
func TestPlannerErrorMessage(t *testing.T) {
	planner := &fakePlanner{err: errors.New("boom")}
	called := false
	handler := NewHandler(planner, resolveOK, func(context.Context, *launch.Batch) { called = true },
		Config{}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/predictions", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.HandlePredictions(w, req)

	msgs := sseMessages(t, w.Body.String())
	got := strings.Join(messageTypes(msgs), ",")
	if got != "metadata,error" {
		t.Fatalf("message types = %s, want metadata,error", got)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("internal error detail leaked to client")
	}
	if called {
		t.Error("onComplete called for a failed run")
	}
}

// TestResolveError verifies request errors are reported before streaming.
func TestResolveError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"bad request", httputil.Errorf(http.StatusBadRequest, "invalid window", nil), http.StatusBadRequest},
		{"unknown site", httputil.Errorf(http.StatusNotFound, "unknown site", nil), http.StatusNotFound},
		{"store failure", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolve := func(*http.Request) (launch.Request, error) { return launch.Request{}, tt.err }
			handler := NewHandler(&fakePlanner{}, resolve, nil, Config{}, testLogger())

			req := httptest.NewRequest("GET", "/api/v1/stream/predictions", nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			handler.HandlePredictions(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if handler.Active() != 0 {
				t.Errorf("active = %d, want 0", handler.Active())
			}
		})
	}
}

// TestKeepalive verifies keep-alive comments are sent while the planner
// is busy.
func TestKeepalive(t *testing.T) {
	planner := &fakePlanner{delay: 120 * time.Millisecond}
	handler := NewHandler(planner, resolveOK, nil, Config{KeepaliveInterval: 20 * time.Millisecond}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/predictions", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.HandlePredictions(w, req)

	if !strings.Contains(w.Body.String(), "\n:\n\n") {
		t.Errorf("no keepalive comment in body: %q", w.Body.String())
	}
}

// TestClientDisconnect verifies the handler returns and releases its slot
// when the client goes away.
func TestClientDisconnect(t *testing.T) {
	planner := &fakePlanner{events: []launch.Event{{Result: testResult(t)}}, block: true}
	handler := NewHandler(planner, resolveOK, func(context.Context, *launch.Batch) {
		t.Error("onComplete called for a cancelled stream")
	}, Config{}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/predictions", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 100*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	handler.HandlePredictions(w, req.WithContext(ctx))

	if got := strings.Join(messageTypes(sseMessages(t, w.Body.String())), ","); got != "metadata,result" {
		t.Errorf("message types = %s, want metadata,result", got)
	}
	if handler.Active() != 0 {
		t.Errorf("active = %d after disconnect, want 0", handler.Active())
	}
}

// TestRateLimiting verifies per-IP and global concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 5)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond per-IP limit should fail")
	}

	if !limiter.acquire("10.0.0.2") || !limiter.acquire("10.0.0.3") {
		t.Fatal("different IPs should not be rate limited")
	}
	if limiter.acquire("10.0.0.4") {
		t.Error("acquire beyond global limit should fail")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.4") {
		t.Error("acquire after release should succeed")
	}

	if c := limiter.count("10.0.0.1"); c != 2 {
		t.Errorf("count = %d, want 2", c)
	}
	if a := limiter.active(); a != 5 {
		t.Errorf("active = %d, want 5", a)
	}

	// Releasing an IP with no streams must not drive counts negative.
	limiter.release("10.9.9.9")
	if a := limiter.active(); a != 5 {
		t.Errorf("active after spurious release = %d, want 5", a)
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
	if a := limiter.active(); a != 0 {
		t.Errorf("active after all released = %d, want 0", a)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	planner := &fakePlanner{block: true}
	handler := NewHandler(planner, resolveOK, nil, Config{MaxConcurrentPerIP: 1}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/predictions", nil).WithContext(ctx)
		req.RemoteAddr = "10.0.0.1:12345"
		handler.HandlePredictions(httptest.NewRecorder(), req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for handler.Active() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first stream never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest("GET", "/api/v1/stream/predictions", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandlePredictions(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q, want 30", w.Header().Get("Retry-After"))
	}

	cancel()
	<-done
	if handler.Active() != 0 {
		t.Errorf("active = %d, want 0", handler.Active())
	}
}

// TestClientFrames verifies frame formats and per-stream counters.
func TestClientFrames(t *testing.T) {
	w := httptest.NewRecorder()
	c := &client{w: w, flusher: w, ip: "127.0.0.1", logger: testLogger()}

	if err := c.sendRetry(3500); err != nil {
		t.Fatal(err)
	}
	if err := c.sendJSON(errorMessage{Type: "error", Error: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := c.sendKeepalive(); err != nil {
		t.Fatal(err)
	}

	want := "retry: 3500\n\n" + `data: {"type":"error","error":"x"}` + "\n\n:\n\n"
	if got := w.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if c.messagesSent != 1 {
		t.Errorf("messagesSent = %d, want 1", c.messagesSent)
	}
	if c.bytesSent != int64(len(want)) {
		t.Errorf("bytesSent = %d, want %d", c.bytesSent, len(want))
	}
}
