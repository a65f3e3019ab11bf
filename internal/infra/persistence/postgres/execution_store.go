package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradebatch/orderingest/internal/runmgr"
)

const (
	executionInsertSQL = `
INSERT INTO job_executions (
    job_name,
    data_date,
    status,
    created_at
)
VALUES (
    @job_name,
    @data_date,
    @status,
    NOW()
)
RETURNING id, created_at;
`

	executionUpdateSQL = `
UPDATE job_executions
SET status = @status,
    start_time = @start_time,
    end_time = @end_time,
    exit_code = @exit_code,
    exit_description = @exit_description
WHERE id = @id;
`

	executionListSQL = `
SELECT
    id,
    job_name,
    data_date,
    status,
    start_time,
    end_time,
    COALESCE(exit_code, ''),
    COALESCE(exit_description, ''),
    created_at
FROM job_executions
WHERE job_name = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;
`
)

// ExecutionStore records job execution lifecycle rows.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore constructs an ExecutionStore backed by the provided pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

func (s *ExecutionStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("execution store: nil pool")
	}
	return s.pool, nil
}

// Create inserts a new execution row and backfills its ID and CreatedAt.
func (s *ExecutionStore) Create(ctx context.Context, exec *runmgr.JobExecution) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"job_name":  exec.JobName,
		"data_date": exec.DataDate,
		"status":    string(exec.Status),
	}
	row := pool.QueryRow(ctx, executionInsertSQL, args)
	if err := row.Scan(&exec.ID, &exec.CreatedAt); err != nil {
		return fmt.Errorf("execution store: insert execution: %w", err)
	}
	return nil
}

// Update persists status, timing, and exit fields by execution ID.
func (s *ExecutionStore) Update(ctx context.Context, exec *runmgr.JobExecution) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"id":               exec.ID,
		"status":           string(exec.Status),
		"start_time":       nullableTime(exec.StartTime),
		"end_time":         nullableTime(exec.EndTime),
		"exit_code":        exec.ExitCode,
		"exit_description": exec.ExitDescription,
	}
	if _, err := pool.Exec(ctx, executionUpdateSQL, args); err != nil {
		return fmt.Errorf("execution store: update execution %d: %w", exec.ID, err)
	}
	return nil
}

// ListRecent returns up to limit executions for the job, newest creation first.
func (s *ExecutionStore) ListRecent(ctx context.Context, jobName string, limit int) ([]runmgr.JobExecution, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}
	rows, err := pool.Query(ctx, executionListSQL, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("execution store: query executions: %w", err)
	}
	defer rows.Close()

	executions := make([]runmgr.JobExecution, 0, limit)
	for rows.Next() {
		var exec runmgr.JobExecution
		var status string
		var startTime, endTime *time.Time
		if err := rows.Scan(&exec.ID, &exec.JobName, &exec.DataDate, &status, &startTime, &endTime,
			&exec.ExitCode, &exec.ExitDescription, &exec.CreatedAt); err != nil {
			return nil, fmt.Errorf("execution store: scan execution: %w", err)
		}
		exec.Status = runmgr.Status(status)
		if startTime != nil {
			exec.StartTime = *startTime
		}
		if endTime != nil {
			exec.EndTime = *endTime
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execution store: iterate executions: %w", err)
	}
	return executions, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ runmgr.ExecutionStore = (*ExecutionStore)(nil)
