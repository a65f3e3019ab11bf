package ingest

import (
	"context"
	"time"
)

// Metrics receives pipeline observations. Implementations must be safe for
// concurrent use; the OpenTelemetry-backed implementation lives in the
// telemetry package and NopMetrics serves tests.
type Metrics interface {
	RecordsLoaded(ctx context.Context, count int)
	RecordsValid(ctx context.Context, count int)
	RecordsInvalid(ctx context.Context, count int)
	AggregatesExported(ctx context.Context, count int)
	AggregatesPersisted(ctx context.Context, count int)
	StageCompleted(ctx context.Context, stage string, elapsed time.Duration, err error)
	RunCompleted(ctx context.Context, status string, elapsed time.Duration)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) RecordsLoaded(context.Context, int)                           {}
func (NopMetrics) RecordsValid(context.Context, int)                            {}
func (NopMetrics) RecordsInvalid(context.Context, int)                          {}
func (NopMetrics) AggregatesExported(context.Context, int)                      {}
func (NopMetrics) AggregatesPersisted(context.Context, int)                     {}
func (NopMetrics) StageCompleted(context.Context, string, time.Duration, error) {}
func (NopMetrics) RunCompleted(context.Context, string, time.Duration)          {}

var _ Metrics = NopMetrics{}
