// Package publish announces completed prediction batches on NATS JetStream.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/launch"
	"github.com/star/driftcast/internal/metrics"
)

const (
	DefaultSubject = "driftcast.predictions"
	streamName     = "DRIFTCAST_PREDICTIONS"
)

type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher sends batch summaries to a JetStream subject. A nil *Publisher
// is valid and publishes nothing.
type Publisher struct {
	conn    *nats.Conn
	js      jetStream
	subject string
	logger  *slog.Logger
}

// New connects to url and makes sure a stream captures subject.
func New(url, subject string, logger *slog.Logger) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	nc, err := nats.Connect(url,
		nats.Name("driftcast"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "component", "publish", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "component", "publish", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Publisher{conn: nc, js: js, subject: subject, logger: logger}, nil
}

// Subject returns the subject batches are published on.
func (p *Publisher) Subject() string {
	if p == nil {
		return ""
	}
	return p.subject
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// HourSummary is the per-hour part of a published batch.
type HourSummary struct {
	Time                time.Time `json:"time"`
	Hour                string    `json:"hour"`
	GroundWindKt        float64   `json:"ground_wind_kt"`
	GroundWindDirection float64   `json:"ground_wind_direction_deg"`
	ApogeeFt            float64   `json:"apogee_ft"`
	Landing             geo.Point `json:"landing"`
	DriftM              float64   `json:"drift_m"`
	DriftBearing        float64   `json:"drift_bearing_deg"`
}

// Summary is the message body published for each batch.
type Summary struct {
	BatchID   string        `json:"batch_id"`
	SiteName  string        `json:"site_name,omitempty"`
	Site      geo.Point     `json:"site"`
	Model     string        `json:"model,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Hours     []HourSummary `json:"hours"`
	Skipped   int           `json:"skipped"`
}

// Summarize reduces a batch to its landing points.
func Summarize(b *launch.Batch) Summary {
	s := Summary{
		BatchID:   b.ID.String(),
		SiteName:  b.SiteName,
		Site:      b.Site,
		Model:     b.Model,
		StartedAt: b.StartedAt,
		Hours:     make([]HourSummary, 0, len(b.Results)),
		Skipped:   len(b.Skipped),
	}
	for _, r := range b.Results {
		s.Hours = append(s.Hours, HourSummary{
			Time:                r.Time(),
			Hour:                r.HourLabel(),
			GroundWindKt:        r.GroundWindKt(),
			GroundWindDirection: r.GroundWindDirection(),
			ApogeeFt:            r.Apogee().AltitudeFt,
			Landing:             r.Landing().Location,
			DriftM:              r.DriftMeters(),
			DriftBearing:        r.DriftBearing(),
		})
	}
	return s
}

// PublishBatch publishes b's summary. The batch ID doubles as the JetStream
// message ID so retries are deduplicated.
func (p *Publisher) PublishBatch(ctx context.Context, b *launch.Batch) error {
	if p == nil || b == nil {
		return nil
	}

	data, err := json.Marshal(Summarize(b))
	if err != nil {
		metrics.IncPublish("error")
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	if _, err := p.js.Publish(p.subject, data, nats.Context(ctx), nats.MsgId(b.ID.String())); err != nil {
		metrics.IncPublish("error")
		return fmt.Errorf("failed to publish batch %s: %w", b.ID, err)
	}

	metrics.IncPublish("ok")
	p.logger.Debug("batch published",
		"component", "publish",
		"batch_id", b.ID.String(),
		"subject", p.subject,
		"bytes", len(data),
	)
	return nil
}
