package protocol

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/session"
)

// Metrics counts session outcomes. A nil *Metrics records nothing.
type Metrics struct {
	created   metric.Int64Counter
	completed metric.Int64Counter
	duration  metric.Int64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	created, err := meter.Int64Counter(
		"session.created_count",
		metric.WithDescription("Sessions created"),
		metric.WithUnit("session"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating created_count meter: %w", err)
	}

	completed, err := meter.Int64Counter(
		"session.completed_count",
		metric.WithDescription("Sessions that received a result"),
		metric.WithUnit("session"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating completed_count meter: %w", err)
	}

	duration, err := meter.Int64Histogram(
		"session.duration",
		metric.WithDescription("Time from creation to result"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration meter: %w", err)
	}

	return &Metrics{
		created:   created,
		completed: completed,
		duration:  duration,
	}, nil
}

func (m *Metrics) sessionCreated(ctx context.Context, flow session.Flow) {
	if m == nil {
		return
	}

	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", string(flow))))
}

func (m *Metrics) sessionCompleted(ctx context.Context, flow session.Flow, status credential.ProofStatus, since time.Time) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("flow", string(flow)),
		attribute.String("status", string(status)),
	)
	m.completed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(since).Milliseconds(), attrs)
}
