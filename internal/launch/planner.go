package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/star/driftcast/internal/descent"
	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/metrics"
	"github.com/star/driftcast/internal/wind"
)

var tracer = otel.Tracer("driftcast/launch")

// ForecastSource supplies the wind profile for one hour at one site.
type ForecastSource interface {
	Profile(ctx context.Context, site geo.Point, hour time.Time, model string) (*wind.Profile, error)
}

// Skip records an hour that produced no result.
type Skip struct {
	Time time.Time `json:"time"`
	Hour string    `json:"hour"`
	// Phase is the descent phase that failed, empty when the forecast
	// could not be obtained.
	Phase  string `json:"phase,omitempty"`
	Reason string `json:"reason"`
}

// Batch is the outcome of one launch window. Results are chronological.
type Batch struct {
	ID        uuid.UUID         `json:"id"`
	SiteName  string            `json:"site_name,omitempty"`
	Site      geo.Point         `json:"site"`
	Window    Window            `json:"window"`
	Model     string            `json:"model,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Results   []*descent.Result `json:"results"`
	Skipped   []Skip            `json:"skipped"`
}

// Event is delivered to a Stream callback once per hour: exactly one of
// Result and Skip is set.
type Event struct {
	Result *descent.Result
	Skip   *Skip
}

// Planner drives the simulator over a launch window. Hours are processed
// strictly in order: hour N is fetched and simulated before hour N+1 is
// requested.
type Planner struct {
	source   ForecastSource
	sim      *descent.Simulator
	maxHours int
	logger   *slog.Logger
	now      func() time.Time
}

func NewPlanner(source ForecastSource, maxHours int, logger *slog.Logger) *Planner {
	if maxHours <= 0 {
		maxHours = DefaultMaxWindowHours
	}
	return &Planner{
		source:   source,
		sim:      descent.NewSimulator(logger),
		maxHours: maxHours,
		logger:   logger,
		now:      time.Now,
	}
}

// MaxWindowHours returns the configured window limit.
func (p *Planner) MaxWindowHours() int { return p.maxHours }

// Run simulates every hour of req's window.
func (p *Planner) Run(ctx context.Context, req Request) (*Batch, error) {
	return p.Stream(ctx, req, nil)
}

// Stream is Run with a callback invoked as each hour completes. An error
// from emit stops the batch and is returned. Failed hours are recorded in
// Batch.Skipped and never stop the batch. The returned error is non-nil
// only for an invalid request, cancellation, or an emit failure; the
// partial batch is returned alongside the latter two.
func (p *Planner) Stream(ctx context.Context, req Request, emit func(Event) error) (*Batch, error) {
	if err := req.Validate(p.maxHours); err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:        uuid.New(),
		SiteName:  req.SiteName,
		Site:      req.Site,
		Window:    req.Window,
		Model:     req.Model,
		StartedAt: p.now(),
		Results:   make([]*descent.Result, 0, req.Window.Len()),
		Skipped:   []Skip{},
	}

	ctx, span := tracer.Start(ctx, "launch.batch", trace.WithAttributes(
		attribute.String("batch.id", batch.ID.String()),
		attribute.String("site.name", req.SiteName),
		attribute.Int("window.start_hour", req.Window.StartHour),
		attribute.Int("window.end_hour", req.Window.EndHour),
	))
	defer span.End()

	start := time.Now()
	for _, hour := range req.Window.Hours(batch.StartedAt) {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return batch, err
		}

		res, skip := p.simulateHour(ctx, req, hour)
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return batch, err
		}

		var ev Event
		if skip != nil {
			batch.Skipped = append(batch.Skipped, *skip)
			ev.Skip = skip
		} else {
			batch.Results = append(batch.Results, res)
			ev.Result = res
		}
		if emit != nil {
			if err := emit(ev); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "emit failed")
				return batch, fmt.Errorf("emitting %s: %w", hour.Format(time.RFC3339), err)
			}
		}
	}

	elapsed := time.Since(start)
	metrics.ObserveBatch(elapsed)
	span.SetAttributes(
		attribute.Int("batch.results", len(batch.Results)),
		attribute.Int("batch.skipped", len(batch.Skipped)),
	)
	p.logger.Info("batch complete",
		"component", "launch",
		"batch_id", batch.ID.String(),
		"site", req.SiteName,
		"results", len(batch.Results),
		"skipped", len(batch.Skipped),
		"duration_ms", elapsed.Milliseconds(),
	)
	return batch, nil
}

func (p *Planner) simulateHour(ctx context.Context, req Request, hour time.Time) (*descent.Result, *Skip) {
	ctx, span := tracer.Start(ctx, "launch.hour", trace.WithAttributes(
		attribute.String("launch.time", hour.UTC().Format(time.RFC3339)),
	))
	defer span.End()

	skip := func(phase string, err error) *Skip {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("skipping launch hour",
			"component", "launch",
			"time", hour.UTC().Format(time.RFC3339),
			"phase", phase,
			"error", err,
		)
		return &Skip{
			Time:   hour,
			Hour:   descent.HourLabel(hour.Hour()),
			Phase:  phase,
			Reason: err.Error(),
		}
	}

	profile, err := p.source.Profile(ctx, req.Site, hour, req.Model)
	if err != nil {
		metrics.RecordSimulation("fetch_error")
		return nil, skip("", fmt.Errorf("forecast unavailable: %w", err))
	}

	res, err := p.sim.Simulate(descent.Input{
		Time:        hour,
		Launch:      req.Site,
		ApogeeFt:    req.ApogeeFt,
		Recovery:    req.Recovery,
		Weathercock: req.Weathercock,
		Profile:     profile,
	})
	if err != nil {
		phase := descent.PhaseFailed.String()
		var pe *descent.PhaseError
		if errors.As(err, &pe) {
			phase = pe.Phase.String()
		}
		metrics.RecordSimulation(phase)
		return nil, skip(phase, err)
	}

	metrics.RecordSimulation("ok")
	span.SetAttributes(attribute.Float64("drift.meters", res.DriftMeters()))
	return res, nil
}
