package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/aescanero/fulfillment/pkg/adapters/storage/memory"
	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func linearExecution(id string, n int) *domain.Execution {
	exec := &domain.Execution{ID: id, OrderID: "o-1", TemplateID: "t"}
	for i := 0; i < n; i++ {
		s := &domain.StepInstance{
			ID:              fmt.Sprintf("s%d", i),
			Type:            domain.StepTypeProcessing,
			Status:          domain.StepStatusPending,
			AutomationLevel: domain.AutomationFullyAutomated,
		}
		if i > 0 {
			s.DependsOn = []string{fmt.Sprintf("s%d", i-1)}
		}
		exec.Steps = append(exec.Steps, s)
	}
	return exec
}

func newTracker(t *testing.T, exec *domain.Execution) *Tracker {
	t.Helper()
	tr := New(memory.NewExecutionStore(), zap.NewNop())
	_, err := tr.Create(context.Background(), exec)
	require.NoError(t, err)
	return tr
}

func complete(t *testing.T, tr *Tracker, id, stepID string) *Change {
	t.Helper()
	ctx := context.Background()
	_, err := tr.BeginStep(ctx, id, stepID, "test")
	require.NoError(t, err)
	change, err := tr.ApplyStepResult(ctx, id, stepID, Succeeded(map[string]interface{}{"ok": true}))
	require.NoError(t, err)
	return change
}

func TestLinearExecutionCompletes(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, linearExecution("exec-1", 4))

	exec, err := tr.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusInitiated, exec.Status)
	assert.Equal(t, 4, exec.TotalSteps)

	_, err = tr.BeginStep(ctx, "exec-1", "s1", "test")
	assert.True(t, errors.Is(err, domain.ErrDependencyNotSatisfied))

	var last *Change
	for i := 0; i < 4; i++ {
		frontier, err := tr.NextEligibleSteps(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, frontier, 1)
		assert.Equal(t, fmt.Sprintf("s%d", i), frontier[0].ID)
		last = complete(t, tr, "exec-1", frontier[0].ID)
		assert.Equal(t, float64(i+1)*25, last.Execution.PercentComplete)
	}

	assert.True(t, last.Completed)
	assert.Equal(t, domain.ExecutionStatusCompleted, last.Execution.Status)
	assert.NotNil(t, last.Execution.CompletedAt)
	assert.NotNil(t, last.Execution.StartedAt)

	frontier, err := tr.NextEligibleSteps(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, frontier)

	_, err = tr.Cancel(ctx, "exec-1", "too late")
	assert.True(t, errors.Is(err, domain.ErrAlreadyTerminal))
}

func TestApprovalGating(t *testing.T) {
	ctx := context.Background()
	exec := linearExecution("exec-1", 2)
	exec.Steps[0].ApprovalRequired = true
	tr := newTracker(t, exec)

	_, err := tr.BeginStep(ctx, "exec-1", "s0", "test")
	assert.True(t, errors.Is(err, domain.ErrApprovalRequired))

	change, err := tr.RecordApproval(ctx, "exec-1", "s0", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusPending, change.Step.Status)
	require.NotNil(t, change.Step.Approval)
	assert.Equal(t, "alice", change.Step.Approval.ApproverID)
	assert.Equal(t, domain.StepEventApproved, change.Step.History[len(change.Step.History)-1].Type)

	complete(t, tr, "exec-1", "s0")

	_, err = tr.RecordApproval(ctx, "exec-1", "s0", "bob")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	_, err = tr.RecordApproval(ctx, "exec-1", "missing", "bob")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestReviewRequestedReturnsStepToPending(t *testing.T) {
	ctx := context.Background()
	exec := linearExecution("exec-1", 1)
	exec.Steps[0].Type = domain.StepTypeCompliance
	tr := newTracker(t, exec)

	_, err := tr.BeginStep(ctx, "exec-1", "s0", "test")
	require.NoError(t, err)
	change, err := tr.ApplyStepResult(ctx, "exec-1", "s0", ReviewRequested("destination requires review"))
	require.NoError(t, err)

	step := change.Step
	assert.Equal(t, domain.StepStatusPending, step.Status)
	assert.True(t, step.AwaitingApproval())
	assert.Contains(t, step.Warnings, "destination requires review")
	assert.False(t, change.Execution.Stalled)

	_, err = tr.BeginStep(ctx, "exec-1", "s0", "test")
	assert.True(t, errors.Is(err, domain.ErrApprovalRequired))
}

func TestFailureStallsAndResetResumes(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, linearExecution("exec-1", 3))

	complete(t, tr, "exec-1", "s0")
	_, err := tr.BeginStep(ctx, "exec-1", "s1", "test")
	require.NoError(t, err)

	_, err = tr.RecordRetry(ctx, "exec-1", "s1", errors.New("carrier timeout"))
	require.NoError(t, err)

	change, err := tr.ApplyStepResult(ctx, "exec-1", "s1", Failed(errors.New("carrier down")))
	require.NoError(t, err)
	assert.True(t, change.Stalled)
	assert.True(t, change.Execution.Stalled)
	assert.Contains(t, change.Execution.StalledReason, "s1")
	assert.Equal(t, domain.ExecutionStatusInProgress, change.Execution.Status)
	assert.Equal(t, 1, change.Execution.ErrorCount)
	assert.Equal(t, 2, change.Step.Attempts)
	assert.Equal(t, []string{"carrier down"}, change.Step.Errors)

	change, err = tr.ResetStep(ctx, "exec-1", "s1", "operator")
	require.NoError(t, err)
	assert.False(t, change.Execution.Stalled)
	assert.Equal(t, domain.StepStatusPending, change.Step.Status)

	complete(t, tr, "exec-1", "s1")
	last := complete(t, tr, "exec-1", "s2")
	assert.True(t, last.Completed)
	assert.Equal(t, 1, last.Execution.ErrorCount)

	types := make([]domain.StepEventType, 0)
	for _, ev := range last.Execution.Step("s1").History {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domain.StepEventType{
		domain.StepEventStarted, domain.StepEventRetried, domain.StepEventFailed,
		domain.StepEventReset, domain.StepEventStarted, domain.StepEventCompleted,
	}, types)
}

func TestCancelAfterThreeOfEight(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, linearExecution("exec-1", 8))

	for i := 0; i < 3; i++ {
		complete(t, tr, "exec-1", fmt.Sprintf("s%d", i))
	}
	_, err := tr.BeginStep(ctx, "exec-1", "s3", "test")
	require.NoError(t, err)

	change, err := tr.Cancel(ctx, "exec-1", "customer request")
	require.NoError(t, err)
	exec := change.Execution
	assert.Equal(t, domain.ExecutionStatusCancelled, exec.Status)
	assert.Equal(t, "customer request", exec.CancelReason)
	assert.Equal(t, 3, exec.CompletedSteps)

	skipped := 0
	for _, s := range exec.Steps {
		if s.Status == domain.StepStatusSkipped {
			skipped++
		}
	}
	assert.Equal(t, 5, skipped)

	_, err = tr.Cancel(ctx, "exec-1", "again")
	assert.True(t, errors.Is(err, domain.ErrAlreadyTerminal))

	frontier, err := tr.NextEligibleSteps(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, frontier)

	// the in-flight step reports back after cancellation
	late, err := tr.ApplyStepResult(ctx, "exec-1", "s3", Succeeded(nil))
	require.NoError(t, err)
	assert.True(t, late.Late)
	assert.Equal(t, domain.StepStatusCompleted, late.Step.Status)
	assert.Equal(t, domain.ExecutionStatusCancelled, late.Execution.Status)
	assert.Equal(t, 4, late.Execution.CompletedSteps)

	// steps that never started cannot report
	_, err = tr.ApplyStepResult(ctx, "exec-1", "s5", Succeeded(nil))
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestLateResultAfterRetryAndReset(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, linearExecution("exec-1", 3))

	_, err := tr.BeginStep(ctx, "exec-1", "s0", "test")
	require.NoError(t, err)
	_, err = tr.RecordRetry(ctx, "exec-1", "s0", errors.New("timeout"))
	require.NoError(t, err)
	_, err = tr.Cancel(ctx, "exec-1", "customer request")
	require.NoError(t, err)

	late, err := tr.ApplyStepResult(ctx, "exec-1", "s0", Succeeded(nil))
	require.NoError(t, err)
	assert.True(t, late.Late)
	assert.Equal(t, domain.StepStatusCompleted, late.Step.Status)
	assert.Equal(t, domain.ExecutionStatusCancelled, late.Execution.Status)

	// a failed step that was reset is not in flight when skipped
	tr = newTracker(t, linearExecution("exec-2", 2))
	_, err = tr.BeginStep(ctx, "exec-2", "s0", "test")
	require.NoError(t, err)
	_, err = tr.ApplyStepResult(ctx, "exec-2", "s0", Failed(errors.New("boom")))
	require.NoError(t, err)
	_, err = tr.ResetStep(ctx, "exec-2", "s0", "ops")
	require.NoError(t, err)
	_, err = tr.Cancel(ctx, "exec-2", "customer request")
	require.NoError(t, err)

	_, err = tr.ApplyStepResult(ctx, "exec-2", "s0", Succeeded(nil))
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestFailSkipsOpenSteps(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, linearExecution("exec-1", 3))
	complete(t, tr, "exec-1", "s0")

	change, err := tr.Fail(ctx, "exec-1", "deadline exceeded")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, change.Execution.Status)
	assert.Equal(t, "deadline exceeded", change.Execution.FailureReason)
	assert.Equal(t, domain.StepStatusSkipped, change.Execution.Step("s2").Status)

	_, err = tr.Fail(ctx, "exec-1", "again")
	assert.True(t, errors.Is(err, domain.ErrAlreadyTerminal))
}

type failingStore struct {
	*memory.ExecutionStore
	fail bool
}

func (s *failingStore) Save(ctx context.Context, exec *domain.Execution) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.ExecutionStore.Save(ctx, exec)
}

func TestFailedSaveLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{ExecutionStore: memory.NewExecutionStore()}
	tr := New(store, zap.NewNop())
	_, err := tr.Create(ctx, linearExecution("exec-1", 2))
	require.NoError(t, err)

	store.fail = true
	_, err = tr.BeginStep(ctx, "exec-1", "s0", "test")
	require.Error(t, err)

	exec, err := tr.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusPending, exec.Step("s0").Status)
	assert.Equal(t, domain.ExecutionStatusInitiated, exec.Status)
}

func TestGetFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewExecutionStore()
	first := New(store, zap.NewNop())
	_, err := first.Create(ctx, linearExecution("exec-1", 2))
	require.NoError(t, err)

	// a fresh tracker has an empty cache
	second := New(store, zap.NewNop())
	exec, err := second.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", exec.ID)

	_, err = second.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = second.Create(ctx, linearExecution("exec-1", 1))
	assert.Error(t, err)
}

func TestExecutionLocksAreReleased(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, linearExecution("exec-1", 3))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Get(ctx, "exec-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	for i := 0; i < 3; i++ {
		complete(t, tr, "exec-1", fmt.Sprintf("s%d", i))
	}
	_, err := tr.Get(ctx, "missing")
	require.Error(t, err)

	tr.locksMu.Lock()
	defer tr.locksMu.Unlock()
	assert.Empty(t, tr.locks)
}

func TestSnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, linearExecution("exec-1", 2))

	exec, err := tr.Get(ctx, "exec-1")
	require.NoError(t, err)
	exec.Steps[0].Status = domain.StepStatusCompleted

	_, err = tr.BeginStep(ctx, "exec-1", "s1", "test")
	assert.True(t, errors.Is(err, domain.ErrDependencyNotSatisfied))
}

// randomDAG builds n steps where each step depends on a random subset of
// earlier steps, then shuffles the step order
func randomDAG(rng *rand.Rand, id string, n int) *domain.Execution {
	exec := &domain.Execution{ID: id, OrderID: "o-1"}
	for i := 0; i < n; i++ {
		s := &domain.StepInstance{ID: fmt.Sprintf("s%d", i), Status: domain.StepStatusPending, Type: domain.StepTypeProcessing}
		for j := 0; j < i; j++ {
			if rng.Intn(3) == 0 {
				s.DependsOn = append(s.DependsOn, fmt.Sprintf("s%d", j))
			}
		}
		exec.Steps = append(exec.Steps, s)
	}
	rng.Shuffle(len(exec.Steps), func(i, j int) { exec.Steps[i], exec.Steps[j] = exec.Steps[j], exec.Steps[i] })
	return exec
}

func TestStepsNeverStartBeforeDependencies(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 25; round++ {
		id := fmt.Sprintf("exec-%d", round)
		tr := newTracker(t, randomDAG(rng, id, 3+rng.Intn(10)))

		lastPercent := 0.0
		for attempts := 0; attempts < 2000; attempts++ {
			exec, err := tr.Get(ctx, id)
			require.NoError(t, err)
			if exec.Status == domain.ExecutionStatusCompleted {
				break
			}

			// try any step, eligible or not
			step := exec.Steps[rng.Intn(len(exec.Steps))]
			depsDone := exec.DependenciesCompleted(step)

			change, err := tr.BeginStep(ctx, id, step.ID, "prop")
			switch {
			case step.Status != domain.StepStatusPending:
				require.True(t, errors.Is(err, domain.ErrInvalidTransition), "round %d step %s", round, step.ID)
				continue
			case !depsDone:
				require.True(t, errors.Is(err, domain.ErrDependencyNotSatisfied), "round %d step %s", round, step.ID)
				continue
			}
			require.NoError(t, err)
			for _, dep := range change.Step.DependsOn {
				require.Equal(t, domain.StepStatusCompleted, change.Execution.Step(dep).Status)
			}

			var outcome Outcome
			if rng.Intn(5) == 0 {
				outcome = Failed(errors.New("flaky"))
			} else {
				outcome = Succeeded(nil)
			}
			change, err = tr.ApplyStepResult(ctx, id, step.ID, outcome)
			require.NoError(t, err)
			require.GreaterOrEqual(t, change.Execution.PercentComplete, lastPercent)
			require.Equal(t, change.Execution.PercentComplete == 0, change.Execution.CompletedSteps == 0)
			lastPercent = change.Execution.PercentComplete

			if outcome.Status == domain.StepStatusFailed {
				_, err = tr.ResetStep(ctx, id, step.ID, "prop")
				require.NoError(t, err)
			}
		}

		exec, err := tr.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.ExecutionStatusCompleted, exec.Status, "round %d", round)
		assert.Equal(t, 100.0, exec.PercentComplete)
	}
}
