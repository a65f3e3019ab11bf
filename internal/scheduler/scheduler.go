// Package scheduler fires the nightly ingest run on a cron expression in
// the business timezone. A run already in flight for the same date is a
// normal condition (a manual trigger beat the clock) and is only logged.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tradebatch/orderingest/errs"
	"github.com/tradebatch/orderingest/internal/domain"
	"github.com/tradebatch/orderingest/internal/runmgr"
)

// Trigger is the slice of the run manager the scheduler needs.
type Trigger interface {
	CurrentDate() time.Time
	Trigger(ctx context.Context, dataDate time.Time) (runmgr.JobExecution, error)
}

// Scheduler wraps a cron runner around the ingest trigger.
type Scheduler struct {
	cron    *cron.Cron
	trigger Trigger
	logger  *zap.Logger
}

// New builds a scheduler firing spec (six-field cron, seconds included) in
// the given location. Returns an error when the expression does not parse.
func New(spec string, location *time.Location, trigger Trigger, logger *zap.Logger) (*Scheduler, error) {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(location),
		),
		trigger: trigger,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing on schedule. It returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight fire callback. Runs the
// callback already handed to the manager keep going; the manager owns those.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire() {
	ctx := context.Background()
	date := s.trigger.CurrentDate()
	exec, err := s.trigger.Trigger(ctx, date)
	if err != nil {
		if errs.IsCode(err, errs.CodeConflict) {
			s.logger.Warn("scheduled run skipped",
				zap.String("data_date", date.Format(domain.DateLayout)),
				zap.String("reason", errs.Message(err)))
			return
		}
		s.logger.Error("scheduled run rejected",
			zap.String("data_date", date.Format(domain.DateLayout)),
			zap.Error(err))
		return
	}
	s.logger.Info("scheduled run accepted",
		zap.Int64("execution_id", exec.ID),
		zap.String("data_date", date.Format(domain.DateLayout)))
}
