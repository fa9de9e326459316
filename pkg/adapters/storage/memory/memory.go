package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/fulfillment/pkg/domain"
)

// ExecutionStore implements ports.ExecutionStore using an in-memory map.
// Records are deep copied on the way in and out.
type ExecutionStore struct {
	executions map[string]*domain.Execution
	mu         sync.RWMutex
}

// NewExecutionStore creates a new in-memory execution store
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		executions: make(map[string]*domain.Execution),
	}
}

// Save stores a copy of exec
func (s *ExecutionStore) Save(ctx context.Context, exec *domain.Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[exec.ID] = exec.Clone()
	return nil
}

// Load returns a copy of the stored execution
func (s *ExecutionStore) Load(ctx context.Context, executionID string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
	}
	return exec.Clone(), nil
}

// Delete removes an execution
func (s *ExecutionStore) Delete(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.executions, executionID)
	return nil
}

// List returns copies of every execution, oldest first
func (s *ExecutionStore) List(ctx context.Context) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, exec.Clone())
	}
	sortExecutions(out)
	return out, nil
}

func sortExecutions(execs []*domain.Execution) {
	sort.Slice(execs, func(i, j int) bool {
		if !execs[i].InitiatedAt.Equal(execs[j].InitiatedAt) {
			return execs[i].InitiatedAt.Before(execs[j].InitiatedAt)
		}
		return execs[i].ID < execs[j].ID
	})
}
