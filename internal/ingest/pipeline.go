// Package ingest implements the order ingest pipeline: CSV codec, validator,
// VWAP aggregator, and the four sequential stages that tie them together.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tradebatch/orderingest/errs"
	"github.com/tradebatch/orderingest/internal/domain"
)

// Stage names, also used as metric and log labels.
const (
	stageLoad      = "load"
	stageValidate  = "validate"
	stageAggregate = "aggregate"
	stagePersist   = "persist"
)

// Paths resolves the {dataDate} token in configured file patterns.
type Paths struct {
	InputPattern      string
	AggregatesPattern string
	RejectsPattern    string
}

// Resolve substitutes the business date into a path pattern.
func Resolve(pattern string, dataDate time.Time) string {
	return strings.ReplaceAll(pattern, "{dataDate}", dataDate.Format(domain.DateLayout))
}

// RunContext is the mutable carrier threaded through one pipeline execution.
// Each stage reads only its predecessor's output field and writes only its
// own. A nil slice means the producing stage has not run; an empty non-nil
// slice is a legitimate "nothing found" result.
type RunContext struct {
	DataDate     time.Time
	RawRecords   []domain.OrderRecord
	ValidRecords []domain.OrderRecord
	Rejects      []domain.Reject
	Aggregates   []domain.AggregatedOrder

	PersistedRows int64
}

// Stage is one pipeline step.
type Stage interface {
	Name() string
	Execute(ctx context.Context, run *RunContext) error
}

// AggregateStore persists aggregate rows. ReplaceForDate must atomically
// delete any prior generation for the date and insert the new rows; readers
// never observe a mix of generations or an empty window for a date that has
// data.
type AggregateStore interface {
	ReplaceForDate(ctx context.Context, dataDate time.Time, aggregates []domain.AggregatedOrder) (int64, error)
}

// Pipeline drives the ordered stages over a RunContext.
type Pipeline struct {
	stages  []Stage
	logger  *zap.Logger
	metrics Metrics
}

// NewPipeline assembles the canonical four-stage pipeline.
func NewPipeline(paths Paths, store AggregateStore, logger *zap.Logger, metrics Metrics) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	stages := []Stage{
		&loadStage{paths: paths, logger: logger, metrics: metrics},
		&validateStage{paths: paths, logger: logger, metrics: metrics},
		&aggregateStage{paths: paths, logger: logger, metrics: metrics},
		&persistStage{store: store, logger: logger, metrics: metrics},
	}
	return &Pipeline{stages: stages, logger: logger, metrics: metrics}
}

// Run executes the stages strictly in order, stopping at the first failure.
func (p *Pipeline) Run(ctx context.Context, run *RunContext) error {
	for _, stage := range p.stages {
		started := time.Now()
		p.logger.Info("starting stage", zap.String("stage", stage.Name()), zap.String("data_date", run.DataDate.Format(domain.DateLayout)))
		err := stage.Execute(ctx, run)
		elapsed := time.Since(started)
		p.metrics.StageCompleted(ctx, stage.Name(), elapsed, err)
		if err != nil {
			p.logger.Error("stage failed",
				zap.String("stage", stage.Name()),
				zap.String("data_date", run.DataDate.Format(domain.DateLayout)),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			return err
		}
		p.logger.Info("completed stage",
			zap.String("stage", stage.Name()),
			zap.String("data_date", run.DataDate.Format(domain.DateLayout)),
			zap.Duration("elapsed", elapsed))
	}
	return nil
}

func missingInput(stage, input string) error {
	return errs.New(errs.CodeInternal, errs.WithStage(stage),
		errs.WithMessage(fmt.Sprintf("%s stage requires %s from its predecessor", stage, input)))
}

type loadStage struct {
	paths   Paths
	logger  *zap.Logger
	metrics Metrics
}

func (s *loadStage) Name() string { return stageLoad }

func (s *loadStage) Execute(ctx context.Context, run *RunContext) error {
	inputPath := Resolve(s.paths.InputPattern, run.DataDate)
	records, err := ReadOrders(inputPath)
	if err != nil {
		return err
	}
	run.RawRecords = records
	s.metrics.RecordsLoaded(ctx, len(records))
	s.logger.Info("loaded raw records", zap.Int("count", len(records)), zap.String("path", inputPath))
	return nil
}

type validateStage struct {
	paths   Paths
	logger  *zap.Logger
	metrics Metrics
}

func (s *validateStage) Name() string { return stageValidate }

func (s *validateStage) Execute(ctx context.Context, run *RunContext) error {
	if run.RawRecords == nil {
		return missingInput(stageValidate, "raw records")
	}

	valid := make([]domain.OrderRecord, 0, len(run.RawRecords))
	rejects := make([]domain.Reject, 0)
	for _, rec := range run.RawRecords {
		normalized, reason := ValidateOrder(rec)
		if reason == "" {
			valid = append(valid, normalized)
			continue
		}
		rejects = append(rejects, domain.Reject{Record: rec, Reason: reason})
	}

	// The reject file is written only when at least one reject exists; an
	// empty file would ambiguously read as "ran and found nothing wrong".
	if len(rejects) > 0 {
		rejectsPath := Resolve(s.paths.RejectsPattern, run.DataDate)
		if err := WriteRejects(rejectsPath, rejects); err != nil {
			return errs.New(errs.CodeInternal, errs.WithStage(stageValidate),
				errs.WithMessage("write rejects"), errs.WithCause(err))
		}
		s.logger.Warn("wrote reject rows", zap.Int("count", len(rejects)), zap.String("path", rejectsPath))
	}

	run.ValidRecords = valid
	run.Rejects = rejects
	s.metrics.RecordsValid(ctx, len(valid))
	s.metrics.RecordsInvalid(ctx, len(rejects))
	s.logger.Info("validated records", zap.Int("valid", len(valid)), zap.Int("invalid", len(rejects)))
	return nil
}

type aggregateStage struct {
	paths   Paths
	logger  *zap.Logger
	metrics Metrics
}

func (s *aggregateStage) Name() string { return stageAggregate }

func (s *aggregateStage) Execute(ctx context.Context, run *RunContext) error {
	if run.ValidRecords == nil {
		return missingInput(stageAggregate, "valid records")
	}

	aggregates := Aggregate(run.DataDate, run.ValidRecords)

	// The aggregate file is always written, header-only when empty: an empty
	// export is a valid "nothing aggregated" signal distinct from "stage
	// didn't run".
	aggregatesPath := Resolve(s.paths.AggregatesPattern, run.DataDate)
	if err := WriteAggregates(aggregatesPath, aggregates); err != nil {
		return errs.New(errs.CodeInternal, errs.WithStage(stageAggregate),
			errs.WithMessage("write aggregates"), errs.WithCause(err))
	}

	run.Aggregates = aggregates
	s.metrics.AggregatesExported(ctx, len(aggregates))
	s.logger.Info("wrote aggregates", zap.Int("count", len(aggregates)), zap.String("path", aggregatesPath))
	return nil
}

type persistStage struct {
	store   AggregateStore
	logger  *zap.Logger
	metrics Metrics
}

func (s *persistStage) Name() string { return stagePersist }

func (s *persistStage) Execute(ctx context.Context, run *RunContext) error {
	if run.Aggregates == nil {
		return missingInput(stagePersist, "aggregates")
	}
	if len(run.Aggregates) == 0 {
		// A date with no colocated trades is a normal outcome, not an error.
		s.logger.Info("no aggregates to persist", zap.String("data_date", run.DataDate.Format(domain.DateLayout)))
		return nil
	}

	inserted, err := s.store.ReplaceForDate(ctx, run.DataDate, run.Aggregates)
	if err != nil {
		return errs.New(errs.CodePersistence, errs.WithStage(stagePersist),
			errs.WithMessage(fmt.Sprintf("replace aggregates for %s", run.DataDate.Format(domain.DateLayout))), errs.WithCause(err))
	}

	run.PersistedRows = inserted
	s.metrics.AggregatesPersisted(ctx, int(inserted))
	s.logger.Info("persisted aggregate rows", zap.Int64("count", inserted))
	return nil
}
