package runmgr

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCreateAssignsIDs(t *testing.T) {
	store := NewMemoryStore()
	first := &JobExecution{JobName: DefaultJobName, DataDate: managerDate, Status: StatusStarting}
	second := &JobExecution{JobName: DefaultJobName, DataDate: managerDate.AddDate(0, 0, 1), Status: StatusStarting}

	if err := store.Create(context.Background(), first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(context.Background(), second); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected sequential ids, got %d and %d", first.ID, second.ID)
	}
	if first.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be assigned")
	}
}

func TestMemoryStoreUpdatePersistsTransitions(t *testing.T) {
	store := NewMemoryStore()
	exec := &JobExecution{JobName: DefaultJobName, DataDate: managerDate, Status: StatusStarting}
	if err := store.Create(context.Background(), exec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	exec.Status = StatusCompleted
	exec.StartTime = time.Now()
	exec.EndTime = exec.StartTime.Add(time.Second)
	exec.ExitCode = string(StatusCompleted)
	if err := store.Update(context.Background(), exec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	history, err := store.ListRecent(context.Background(), DefaultJobName, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(history) != 1 || history[0].Status != StatusCompleted {
		t.Fatalf("expected updated execution, got %+v", history)
	}
}

func TestMemoryStoreListRecentFiltersJobNameAndLimits(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		exec := &JobExecution{JobName: DefaultJobName, DataDate: managerDate.AddDate(0, 0, i), Status: StatusCompleted}
		if err := store.Create(context.Background(), exec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	other := &JobExecution{JobName: "otherJob", DataDate: managerDate, Status: StatusCompleted}
	if err := store.Create(context.Background(), other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	history, err := store.ListRecent(context.Background(), DefaultJobName, 3)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(history))
	}
	// Most recent creation first, ID as the tiebreak for equal timestamps.
	if history[0].ID < history[1].ID || history[1].ID < history[2].ID {
		t.Fatalf("expected descending order, got %+v", history)
	}
	for _, exec := range history {
		if exec.JobName != DefaultJobName {
			t.Fatalf("expected job filter, got %q", exec.JobName)
		}
	}
}
