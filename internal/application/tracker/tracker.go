package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"go.uber.org/zap"
)

// Change describes the effect of a mutation. Execution and Step are copies.
type Change struct {
	Execution *domain.Execution
	Step      *domain.StepInstance
	// Completed is set when this mutation moved the execution to COMPLETED.
	Completed bool
	// Stalled is set when this mutation left the execution newly stalled.
	Stalled bool
	// Late is set for a result recorded after the execution terminated.
	Late bool
}

// Tracker is the single writer of execution state
type Tracker struct {
	store  ports.ExecutionStore
	logger *zap.Logger
	now    func() time.Time

	locksMu sync.Mutex
	locks   map[string]*executionLock

	cacheMu sync.RWMutex
	cache   map[string]*domain.Execution
}

// New creates a tracker backed by store
func New(store ports.ExecutionStore, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[string]*executionLock),
		cache:  make(map[string]*domain.Execution),
	}
}

// executionLock serializes writers of one execution. refs counts holders
// and waiters so the entry can be dropped once nobody uses it.
type executionLock struct {
	mu   sync.Mutex
	refs int
}

// acquire locks the execution and returns the matching unlock
func (t *Tracker) acquire(id string) func() {
	t.locksMu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &executionLock{}
		t.locks[id] = l
	}
	l.refs++
	t.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		t.locksMu.Lock()
		defer t.locksMu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
	}
}

// load returns the current record; callers must hold the execution lock and
// must not mutate the result
func (t *Tracker) load(ctx context.Context, id string) (*domain.Execution, error) {
	t.cacheMu.RLock()
	exec, ok := t.cache[id]
	t.cacheMu.RUnlock()
	if ok {
		return exec, nil
	}

	exec, err := t.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	t.remember(exec)
	return exec, nil
}

// remember caches live executions; terminal ones are served from the store
func (t *Tracker) remember(exec *domain.Execution) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	if exec.Status.IsTerminal() {
		delete(t.cache, exec.ID)
		return
	}
	t.cache[exec.ID] = exec
}

// mutate applies fn to a copy of the execution, persists it and only then
// publishes it to the cache. A failed save leaves the cache untouched.
func (t *Tracker) mutate(ctx context.Context, id string, fn func(exec *domain.Execution, now time.Time) (*Change, error)) (*Change, error) {
	defer t.acquire(id)()

	current, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	now := t.now()
	change, err := fn(working, now)
	if err != nil {
		return nil, err
	}
	working.LastUpdatedAt = now

	if err := t.store.Save(ctx, working); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}
	t.remember(working)

	change.Execution = working.Clone()
	if change.Step != nil {
		change.Step = change.Execution.Step(change.Step.ID)
	}
	return change, nil
}

// Create persists a new execution
func (t *Tracker) Create(ctx context.Context, exec *domain.Execution) (*domain.Execution, error) {
	if exec == nil || exec.ID == "" {
		return nil, fmt.Errorf("execution ID is required")
	}

	defer t.acquire(exec.ID)()

	if _, err := t.load(ctx, exec.ID); err == nil {
		return nil, fmt.Errorf("execution %s already exists", exec.ID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	record := exec.Clone()
	record.Status = domain.ExecutionStatusInitiated
	if record.InitiatedAt.IsZero() {
		record.InitiatedAt = t.now()
	}
	record.LastUpdatedAt = record.InitiatedAt
	record.Recount()

	if err := t.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}
	t.remember(record)

	t.logger.Debug("execution created",
		zap.String("execution_id", record.ID),
		zap.Int("steps", len(record.Steps)))
	return record.Clone(), nil
}

// Get returns a snapshot of the execution, falling back to the store when
// it is not cached
func (t *Tracker) Get(ctx context.Context, id string) (*domain.Execution, error) {
	defer t.acquire(id)()

	exec, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return exec.Clone(), nil
}

// List returns every persisted execution
func (t *Tracker) List(ctx context.Context) ([]*domain.Execution, error) {
	return t.store.List(ctx)
}

// NextEligibleSteps returns the scheduling frontier: PENDING steps whose
// dependencies are all COMPLETED. It is empty for terminal executions.
func (t *Tracker) NextEligibleSteps(ctx context.Context, id string) ([]*domain.StepInstance, error) {
	exec, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return exec.EligibleSteps(), nil
}
