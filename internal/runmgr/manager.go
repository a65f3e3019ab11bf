package runmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/tradebatch/orderingest/errs"
	"github.com/tradebatch/orderingest/internal/domain"
	"github.com/tradebatch/orderingest/internal/ingest"
)

// DefaultJobName identifies the order ingest job in execution history.
const DefaultJobName = "orderIngest"

// defaultHistoryLimit caps RecentExecutions when the caller passes no limit.
const defaultHistoryLimit = 20

// Runner executes one pipeline pass over a run context.
type Runner interface {
	Run(ctx context.Context, run *ingest.RunContext) error
}

// Manager owns the job-execution state machine. It enforces at most one
// non-terminal execution per business date, drives the pipeline, and records
// every transition in the ExecutionStore.
type Manager struct {
	jobName  string
	runner   Runner
	store    ExecutionStore
	clock    Clock
	location *time.Location
	logger   *zap.Logger
	metrics  ingest.Metrics

	mu     sync.Mutex
	active map[string]*JobExecution

	runs conc.WaitGroup
}

// NewManager wires a run manager around the given pipeline runner and store.
// A nil clock falls back to the system clock, a nil location to UTC.
func NewManager(runner Runner, store ExecutionStore, clock Clock, location *time.Location, logger *zap.Logger, metrics ingest.Metrics) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = ingest.NopMetrics{}
	}
	return &Manager{
		jobName:  DefaultJobName,
		runner:   runner,
		store:    store,
		clock:    clock,
		location: location,
		logger:   logger,
		metrics:  metrics,
		active:   make(map[string]*JobExecution),
	}
}

// CurrentDate returns the wall-clock date in the configured timezone.
func (m *Manager) CurrentDate() time.Time {
	now := m.clock.Now().In(m.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Trigger accepts a run for the date and executes it asynchronously. It
// returns a snapshot of the accepted execution, or CodeConflict when a
// non-terminal execution already exists for the same date.
func (m *Manager) Trigger(ctx context.Context, dataDate time.Time) (JobExecution, error) {
	exec, err := m.accept(ctx, dataDate)
	if err != nil {
		return JobExecution{}, err
	}
	snapshot := *exec
	runCtx := context.WithoutCancel(ctx)
	m.runs.Go(func() {
		m.execute(runCtx, exec)
	})
	return snapshot, nil
}

// TriggerAndWait accepts a run for the date, blocks until it reaches a
// terminal status, and returns the final execution record.
func (m *Manager) TriggerAndWait(ctx context.Context, dataDate time.Time) (JobExecution, error) {
	exec, err := m.accept(ctx, dataDate)
	if err != nil {
		return JobExecution{}, err
	}
	return m.execute(ctx, exec), nil
}

// RecentExecutions lists execution history, most recent first. A non-positive
// limit selects the default of 20.
func (m *Manager) RecentExecutions(ctx context.Context, limit int) ([]JobExecution, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return m.store.ListRecent(ctx, m.jobName, limit)
}

// Shutdown waits for in-flight runs to finish. If ctx expires first, any
// still-active execution is marked STOPPED so history never shows a phantom
// RUNNING row after the process exits.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.stopActive()
		return ctx.Err()
	}
}

// accept is the atomic check-not-running-then-start step. The date-keyed map
// under the mutex is the single-flight gate; the store row is created before
// the gate releases so history and the gate can never disagree.
func (m *Manager) accept(ctx context.Context, dataDate time.Time) (*JobExecution, error) {
	date := normalizeDate(dataDate)
	key := date.Format(domain.DateLayout)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[key]; ok {
		return nil, errs.New(errs.CodeConflict,
			errs.WithMessage(fmt.Sprintf("a job execution is already running for dataDate %s (execution %d)", key, existing.ID)))
	}

	exec := &JobExecution{
		JobName:  m.jobName,
		DataDate: date,
		Status:   StatusStarting,
	}
	if err := m.store.Create(ctx, exec); err != nil {
		return nil, errs.New(errs.CodePersistence, errs.WithMessage("record job execution"), errs.WithCause(err))
	}
	m.active[key] = exec

	m.logger.Info("accepted ingest run",
		zap.Int64("execution_id", exec.ID),
		zap.String("data_date", key))
	return exec, nil
}

// execute drives one accepted run to a terminal status and returns the final
// record. All mutation of the shared execution happens under m.mu so the
// shutdown path never races this goroutine; once shutdown marks the execution
// STOPPED the outcome here is discarded, terminal states being final.
func (m *Manager) execute(ctx context.Context, exec *JobExecution) JobExecution {
	key := exec.DataDate.Format(domain.DateLayout)
	runID := uuid.NewString()

	snapshot, live := m.markRunning(key, exec)
	if !live {
		return snapshot
	}
	if err := m.store.Update(ctx, &snapshot); err != nil {
		m.logger.Error("record running transition", zap.Int64("execution_id", snapshot.ID), zap.String("run_id", runID), zap.Error(err))
	}

	run := &ingest.RunContext{DataDate: exec.DataDate}
	runErr := m.runner.Run(ctx, run)

	snapshot, live = m.markTerminal(key, exec, runErr)
	if !live {
		m.logger.Warn("ingest run outcome discarded after shutdown marking",
			zap.Int64("execution_id", snapshot.ID),
			zap.String("run_id", runID),
			zap.String("data_date", key))
		return snapshot
	}
	if runErr != nil {
		m.logger.Error("ingest run failed",
			zap.Int64("execution_id", snapshot.ID),
			zap.String("run_id", runID),
			zap.String("data_date", key),
			zap.Error(runErr))
	} else {
		m.logger.Info("ingest run completed",
			zap.Int64("execution_id", snapshot.ID),
			zap.String("run_id", runID),
			zap.String("data_date", key),
			zap.Int64("persisted_rows", run.PersistedRows))
	}
	if err := m.store.Update(ctx, &snapshot); err != nil {
		m.logger.Error("record terminal transition", zap.Int64("execution_id", snapshot.ID), zap.Error(err))
	}
	m.metrics.RunCompleted(ctx, string(snapshot.Status), snapshot.EndTime.Sub(snapshot.StartTime))
	return snapshot
}

// markRunning moves the execution to RUNNING. It reports false when the
// execution no longer holds its single-flight slot, which means shutdown
// already marked it STOPPED.
func (m *Manager) markRunning(key string, exec *JobExecution) (JobExecution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[key] != exec || exec.Status.Terminal() {
		return *exec, false
	}
	exec.Status = StatusRunning
	exec.StartTime = m.clock.Now()
	return *exec, true
}

// markTerminal applies the run outcome and releases the single-flight slot.
// It reports false when shutdown already stopped the execution, in which case
// the record is left untouched.
func (m *Manager) markTerminal(key string, exec *JobExecution, runErr error) (JobExecution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[key] != exec || exec.Status.Terminal() {
		return *exec, false
	}
	delete(m.active, key)
	exec.EndTime = m.clock.Now()
	if runErr != nil {
		exec.Status = StatusFailed
		exec.ExitCode = string(StatusFailed)
		exec.ExitDescription = errs.Message(runErr)
	} else {
		exec.Status = StatusCompleted
		exec.ExitCode = string(StatusCompleted)
	}
	return *exec, true
}

func (m *Manager) stopActive() {
	m.mu.Lock()
	stopped := make([]JobExecution, 0, len(m.active))
	for key, exec := range m.active {
		exec.Status = StatusStopped
		exec.ExitCode = string(StatusStopped)
		exec.ExitDescription = "shutdown before completion"
		exec.EndTime = m.clock.Now()
		stopped = append(stopped, *exec)
		delete(m.active, key)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := range stopped {
		if err := m.store.Update(ctx, &stopped[i]); err != nil {
			m.logger.Error("record stopped transition", zap.Int64("execution_id", stopped[i].ID), zap.Error(err))
		}
	}
}

func normalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
