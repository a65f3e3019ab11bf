package runmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tradebatch/orderingest/errs"
	"github.com/tradebatch/orderingest/internal/ingest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	started chan struct{}
}

func (r *fakeRunner) Run(_ context.Context, run *ingest.RunContext) error {
	r.mu.Lock()
	r.calls++
	block := r.block
	err := r.err
	if r.started != nil {
		close(r.started)
		r.started = nil
	}
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return err
	}
	run.PersistedRows = 3
	return nil
}

var managerDate = time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

func TestTriggerAndWaitCompletes(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC))
	runner := &fakeRunner{}
	store := NewMemoryStore()
	manager := NewManager(runner, store, clock, nil, nil, nil)

	exec, err := manager.TriggerAndWait(context.Background(), managerDate)
	if err != nil {
		t.Fatalf("TriggerAndWait: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", exec.Status)
	}
	if exec.ExitCode != string(StatusCompleted) {
		t.Fatalf("expected exit code COMPLETED, got %q", exec.ExitCode)
	}
	if exec.JobName != DefaultJobName {
		t.Fatalf("expected job name %q, got %q", DefaultJobName, exec.JobName)
	}
	if runner.calls != 1 {
		t.Fatalf("expected 1 run, got %d", runner.calls)
	}

	history, err := manager.RecentExecutions(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(history) != 1 || history[0].Status != StatusCompleted {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestTriggerAndWaitFailureCarriesStageMessage(t *testing.T) {
	runner := &fakeRunner{err: errs.New(errs.CodeNotFound, errs.WithStage("load"), errs.WithMessage("input file missing: data/in/orders_2026-08-28.csv"))}
	manager := NewManager(runner, NewMemoryStore(), newFakeClock(time.Now()), nil, nil, nil)

	exec, err := manager.TriggerAndWait(context.Background(), managerDate)
	if err != nil {
		t.Fatalf("TriggerAndWait must not propagate run failures: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", exec.Status)
	}
	if exec.ExitDescription != "input file missing: data/in/orders_2026-08-28.csv" {
		t.Fatalf("unexpected exit description: %q", exec.ExitDescription)
	}
}

func TestTriggerRejectsConcurrentRunForSameDate(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	manager := NewManager(runner, NewMemoryStore(), newFakeClock(time.Now()), nil, nil, nil)

	first, err := manager.Trigger(context.Background(), managerDate)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if first.Status != StatusStarting {
		t.Fatalf("expected STARTING snapshot, got %s", first.Status)
	}
	<-runner.started

	_, err = manager.Trigger(context.Background(), managerDate)
	if !errs.IsCode(err, errs.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	close(runner.block)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// The date is free again once the run reaches a terminal status.
	if _, err := manager.TriggerAndWait(context.Background(), managerDate); err != nil {
		t.Fatalf("retrigger after completion: %v", err)
	}
}

func TestTriggerAllowsDifferentDatesConcurrently(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	manager := NewManager(runner, NewMemoryStore(), newFakeClock(time.Now()), nil, nil, nil)

	if _, err := manager.Trigger(context.Background(), managerDate); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	<-runner.started
	if _, err := manager.Trigger(context.Background(), managerDate.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("different date must be accepted: %v", err)
	}

	close(runner.block)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestTriggerNormalizesDateToMidnight(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	manager := NewManager(runner, NewMemoryStore(), newFakeClock(time.Now()), nil, nil, nil)

	if _, err := manager.Trigger(context.Background(), managerDate.Add(9*time.Hour)); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	<-runner.started
	// Same calendar date at a different time of day collides.
	_, err := manager.Trigger(context.Background(), managerDate.Add(15*time.Hour))
	if !errs.IsCode(err, errs.CodeConflict) {
		t.Fatalf("expected conflict for same calendar date, got %v", err)
	}

	close(runner.block)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = manager.Shutdown(shutdownCtx)
}

func TestCurrentDateUsesConfiguredTimezone(t *testing.T) {
	singapore, err := time.LoadLocation("Asia/Singapore")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 2026-08-28 18:30 UTC is already 2026-08-29 02:30 in Singapore.
	clock := newFakeClock(time.Date(2026, 8, 28, 18, 30, 0, 0, time.UTC))
	manager := NewManager(&fakeRunner{}, NewMemoryStore(), clock, singapore, nil, nil)

	got := manager.CurrentDate()
	want := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRecentExecutionsMostRecentFirst(t *testing.T) {
	clock := newFakeClock(time.Now())
	runner := &fakeRunner{}
	manager := NewManager(runner, NewMemoryStore(), clock, nil, nil, nil)

	dates := []time.Time{
		managerDate,
		managerDate.AddDate(0, 0, 1),
		managerDate.AddDate(0, 0, 2),
	}
	for _, date := range dates {
		if _, err := manager.TriggerAndWait(context.Background(), date); err != nil {
			t.Fatalf("trigger %v: %v", date, err)
		}
		clock.advance(time.Minute)
	}

	history, err := manager.RecentExecutions(context.Background(), 2)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected limit applied, got %d", len(history))
	}
	if !history[0].DataDate.Equal(dates[2]) || !history[1].DataDate.Equal(dates[1]) {
		t.Fatalf("expected most recent first, got %+v", history)
	}
}

func TestShutdownMarksActiveRunStopped(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	store := NewMemoryStore()
	manager := NewManager(runner, store, newFakeClock(time.Now()), nil, nil, nil)

	if _, err := manager.Trigger(context.Background(), managerDate); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	<-runner.started

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	history, err := store.ListRecent(context.Background(), DefaultJobName, 1)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(history) != 1 || history[0].Status != StatusStopped {
		t.Fatalf("expected STOPPED execution, got %+v", history)
	}
	close(runner.block)
}

func TestShutdownStoppedOutcomeIsFinal(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	store := NewMemoryStore()
	manager := NewManager(runner, store, newFakeClock(time.Now()), nil, nil, nil)

	if _, err := manager.Trigger(context.Background(), managerDate); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	<-runner.started

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// Let the blocked run finish and drain its goroutine; its late outcome
	// must not overwrite the STOPPED record.
	close(runner.block)
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	if err := manager.Shutdown(waitCtx); err != nil {
		t.Fatalf("wait for run goroutine: %v", err)
	}

	history, err := store.ListRecent(context.Background(), DefaultJobName, 1)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(history))
	}
	if history[0].Status != StatusStopped {
		t.Fatalf("STOPPED overwritten after run finished: got %s", history[0].Status)
	}
	if history[0].ExitDescription != "shutdown before completion" {
		t.Fatalf("unexpected exit description: %q", history[0].ExitDescription)
	}

	// The single-flight slot was released by the stop, so the date can rerun.
	exec, err := manager.TriggerAndWait(context.Background(), managerDate)
	if err != nil {
		t.Fatalf("retrigger after stop: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED rerun, got %s", exec.Status)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusStopped}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	for _, s := range []Status{StatusStarting, StatusRunning} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}
