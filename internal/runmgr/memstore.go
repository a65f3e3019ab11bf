package runmgr

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process ExecutionStore. It backs tests and lets the
// service run without a database when history durability is not required.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	executions []JobExecution
}

// NewMemoryStore returns an empty in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Create(_ context.Context, exec *JobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec.ID = s.nextID
	s.nextID++
	exec.CreatedAt = time.Now()
	s.executions = append(s.executions, *exec)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, exec *JobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.executions {
		if s.executions[i].ID == exec.ID {
			s.executions[i] = *exec
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ListRecent(_ context.Context, jobName string, limit int) ([]JobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]JobExecution, 0, len(s.executions))
	for _, exec := range s.executions {
		if exec.JobName == jobName {
			matched = append(matched, exec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

var _ ExecutionStore = (*MemoryStore)(nil)
