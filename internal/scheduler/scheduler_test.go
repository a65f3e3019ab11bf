package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/tradebatch/orderingest/errs"
	"github.com/tradebatch/orderingest/internal/runmgr"
)

type fakeTrigger struct {
	date      time.Time
	calls     int
	err       error
	triggered []time.Time
}

func (f *fakeTrigger) CurrentDate() time.Time { return f.date }

func (f *fakeTrigger) Trigger(_ context.Context, dataDate time.Time) (runmgr.JobExecution, error) {
	f.calls++
	f.triggered = append(f.triggered, dataDate)
	if f.err != nil {
		return runmgr.JobExecution{}, f.err
	}
	return runmgr.JobExecution{ID: 1, DataDate: dataDate, Status: runmgr.StatusStarting}, nil
}

func TestNewRejectsInvalidCron(t *testing.T) {
	if _, err := New("not a cron line", time.UTC, &fakeTrigger{}, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewAcceptsSixFieldSpec(t *testing.T) {
	sched, err := New("0 0 20 * * *", time.UTC, &fakeTrigger{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sched.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestFireTriggersCurrentDate(t *testing.T) {
	trigger := &fakeTrigger{date: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)}
	sched, err := New("0 0 20 * * *", time.UTC, trigger, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sched.fire()
	if trigger.calls != 1 {
		t.Fatalf("expected 1 trigger call, got %d", trigger.calls)
	}
	if !trigger.triggered[0].Equal(trigger.date) {
		t.Fatalf("expected current date, got %v", trigger.triggered[0])
	}
}

func TestFireSwallowsConflict(t *testing.T) {
	trigger := &fakeTrigger{
		date: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		err:  errs.New(errs.CodeConflict, errs.WithMessage("already running")),
	}
	sched, err := New("0 0 20 * * *", time.UTC, trigger, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// A conflict means a manual trigger beat the clock; the callback must not
	// panic or retry.
	sched.fire()
	sched.fire()
	if trigger.calls != 2 {
		t.Fatalf("expected both fires attempted, got %d", trigger.calls)
	}
}
