// Package runmgr manages ingest run lifecycles: single-flight triggering per
// business date, status transitions, and execution history.
package runmgr

import (
	"context"
	"time"
)

// Status is the lifecycle state of a job execution.
type Status string

const (
	StatusStarting  Status = "STARTING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// JobExecution records one run of the ingest job for a business date. It is
// mutated only by the Manager while the run is live and is read-only history
// afterwards.
type JobExecution struct {
	ID              int64
	JobName         string
	DataDate        time.Time
	Status          Status
	StartTime       time.Time
	EndTime         time.Time
	ExitCode        string
	ExitDescription string
	CreatedAt       time.Time
}

// ExecutionStore durably records executions and their transitions.
type ExecutionStore interface {
	// Create persists a new execution and assigns its ID and CreatedAt.
	Create(ctx context.Context, exec *JobExecution) error
	// Update persists the mutable fields (status, times, exit info) by ID.
	Update(ctx context.Context, exec *JobExecution) error
	// ListRecent returns up to limit executions for the job, most recent
	// creation first.
	ListRecent(ctx context.Context, jobName string, limit int) ([]JobExecution, error)
}

// Clock abstracts wall-clock reads so run dates stay deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
