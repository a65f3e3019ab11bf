package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/tradebatch/orderingest/internal/ingest"
)

// IngestMetrics reports pipeline observations through OpenTelemetry
// instruments. Instrument creation failures degrade to nil instruments,
// which drop observations rather than failing the run.
type IngestMetrics struct {
	jobName string

	recordsLoaded       metric.Int64Counter
	recordsValid        metric.Int64Counter
	recordsInvalid      metric.Int64Counter
	aggregatesExported  metric.Int64Counter
	aggregatesPersisted metric.Int64Counter
	stageDuration       metric.Float64Histogram
	runDuration         metric.Float64Histogram
}

// NewIngestMetrics constructs ingest instruments on the global meter provider.
func NewIngestMetrics(jobName string) *IngestMetrics {
	meter := otel.Meter("orderingest")
	m := &IngestMetrics{jobName: jobName}
	m.recordsLoaded, _ = meter.Int64Counter("orderingest_records_total",
		metric.WithDescription("Number of order records loaded from input files"),
		metric.WithUnit("{record}"))
	m.recordsValid, _ = meter.Int64Counter("orderingest_records_valid",
		metric.WithDescription("Number of order records that passed validation"),
		metric.WithUnit("{record}"))
	m.recordsInvalid, _ = meter.Int64Counter("orderingest_records_invalid",
		metric.WithDescription("Number of order records rejected by validation"),
		metric.WithUnit("{record}"))
	m.aggregatesExported, _ = meter.Int64Counter("orderingest_aggregates_exported",
		metric.WithDescription("Number of aggregated rows written to the export file"),
		metric.WithUnit("{row}"))
	m.aggregatesPersisted, _ = meter.Int64Counter("orderingest_aggregates_persisted",
		metric.WithDescription("Number of aggregated rows persisted to the database"),
		metric.WithUnit("{row}"))
	m.stageDuration, _ = meter.Float64Histogram("orderingest_stage_duration",
		metric.WithDescription("Pipeline stage execution duration"),
		metric.WithUnit("ms"))
	m.runDuration, _ = meter.Float64Histogram("orderingest_run_duration",
		metric.WithDescription("End-to-end job execution duration"),
		metric.WithUnit("ms"))
	return m
}

func (m *IngestMetrics) RecordsLoaded(ctx context.Context, count int) {
	m.add(ctx, m.recordsLoaded, count)
}

func (m *IngestMetrics) RecordsValid(ctx context.Context, count int) {
	m.add(ctx, m.recordsValid, count)
}

func (m *IngestMetrics) RecordsInvalid(ctx context.Context, count int) {
	m.add(ctx, m.recordsInvalid, count)
}

func (m *IngestMetrics) AggregatesExported(ctx context.Context, count int) {
	m.add(ctx, m.aggregatesExported, count)
}

func (m *IngestMetrics) AggregatesPersisted(ctx context.Context, count int) {
	m.add(ctx, m.aggregatesPersisted, count)
}

func (m *IngestMetrics) StageCompleted(ctx context.Context, stage string, elapsed time.Duration, err error) {
	if m.stageDuration == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stageDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		AttrJob.String(m.jobName),
		AttrStage.String(stage),
		AttrStatus.String(status),
		AttrEnvironment.String(Environment()),
	))
}

func (m *IngestMetrics) RunCompleted(ctx context.Context, status string, elapsed time.Duration) {
	if m.runDuration == nil {
		return
	}
	m.runDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		AttrJob.String(m.jobName),
		AttrStatus.String(status),
		AttrEnvironment.String(Environment()),
	))
}

func (m *IngestMetrics) add(ctx context.Context, counter metric.Int64Counter, count int) {
	if counter == nil || count <= 0 {
		return
	}
	counter.Add(ctx, int64(count), metric.WithAttributes(
		AttrJob.String(m.jobName),
		AttrEnvironment.String(Environment()),
	))
}

var _ ingest.Metrics = (*IngestMetrics)(nil)
