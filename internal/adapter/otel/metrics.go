package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "ledgersync"

// Metrics holds all ledgersync metric instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	Passes           metric.Int64Counter
	IssuesConsidered metric.Int64Counter
	EntriesCreated   metric.Int64Counter
	EntriesFailed    metric.Int64Counter
	EventsHandled    metric.Int64Counter
	PassDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Passes, err = meter.Int64Counter("ledgersync.passes",
		metric.WithDescription("Number of reconciliation passes"))
	if err != nil {
		return nil, err
	}

	m.IssuesConsidered, err = meter.Int64Counter("ledgersync.issues.considered",
		metric.WithDescription("Source issues considered by reconciliation passes"))
	if err != nil {
		return nil, err
	}

	m.EntriesCreated, err = meter.Int64Counter("ledgersync.entries.created",
		metric.WithDescription("Ledger entries created"))
	if err != nil {
		return nil, err
	}

	m.EntriesFailed, err = meter.Int64Counter("ledgersync.entries.failed",
		metric.WithDescription("Ledger entry creations that failed"))
	if err != nil {
		return nil, err
	}

	m.EventsHandled, err = meter.Int64Counter("ledgersync.events.handled",
		metric.WithDescription("Issue events applied to the ledger"))
	if err != nil {
		return nil, err
	}

	m.PassDuration, err = meter.Float64Histogram("ledgersync.pass.duration_seconds",
		metric.WithDescription("Reconciliation pass duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordPass records the counts of one finished pass. status is "ok",
// "partial" or "error".
func (m *Metrics) RecordPass(ctx context.Context, repository, status string, considered, created, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	repo := metric.WithAttributes(attribute.String("repository", repository))
	m.Passes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.String("status", status),
	))
	m.IssuesConsidered.Add(ctx, int64(considered), repo)
	m.EntriesCreated.Add(ctx, int64(created), repo)
	m.EntriesFailed.Add(ctx, int64(failed), repo)
	m.PassDuration.Record(ctx, elapsed.Seconds(), repo)
}

// RecordEvent records one handled issue event.
func (m *Metrics) RecordEvent(ctx context.Context, action string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EventsHandled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}
