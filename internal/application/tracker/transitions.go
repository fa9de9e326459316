package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
	"go.uber.org/zap"
)

// Outcome is the result of one step attempt as reported to ApplyStepResult
type Outcome struct {
	Status   domain.StepStatus
	Outputs  map[string]interface{}
	Err      error
	Warnings []string
	// NeedsReview returns the step to PENDING until it is approved.
	NeedsReview bool
}

// Succeeded builds a COMPLETED outcome
func Succeeded(outputs map[string]interface{}, warnings ...string) Outcome {
	return Outcome{Status: domain.StepStatusCompleted, Outputs: outputs, Warnings: warnings}
}

// Failed builds a FAILED outcome
func Failed(err error) Outcome {
	return Outcome{Status: domain.StepStatusFailed, Err: err}
}

// ReviewRequested builds an outcome that asks for human review
func ReviewRequested(warnings ...string) Outcome {
	return Outcome{Status: domain.StepStatusPending, NeedsReview: true, Warnings: warnings}
}

func findStep(exec *domain.Execution, stepID string) (*domain.StepInstance, error) {
	step := exec.Step(stepID)
	if step == nil {
		return nil, fmt.Errorf("step %s in execution %s: %w", stepID, exec.ID, domain.ErrNotFound)
	}
	return step, nil
}

func appendEvent(step *domain.StepInstance, typ domain.StepEventType, actor, message string, at time.Time) {
	step.History = append(step.History, domain.StepEvent{Type: typ, Actor: actor, Message: message, At: at})
}

// BeginStep moves a PENDING step to IN_PROGRESS. It fails with
// ErrAlreadyTerminal, ErrInvalidTransition, ErrDependencyNotSatisfied or
// ErrApprovalRequired and then changes nothing.
func (t *Tracker) BeginStep(ctx context.Context, id, stepID, actor string) (*Change, error) {
	return t.mutate(ctx, id, func(exec *domain.Execution, now time.Time) (*Change, error) {
		if exec.Status.IsTerminal() {
			return nil, fmt.Errorf("execution %s is %s: %w", id, exec.Status, domain.ErrAlreadyTerminal)
		}
		step, err := findStep(exec, stepID)
		if err != nil {
			return nil, err
		}
		if step.Status != domain.StepStatusPending {
			return nil, fmt.Errorf("step %s is %s: %w", stepID, step.Status, domain.ErrInvalidTransition)
		}
		if missing := unmetDependencies(exec, step); len(missing) > 0 {
			return nil, fmt.Errorf("step %s waits for %s: %w", stepID, strings.Join(missing, ", "), domain.ErrDependencyNotSatisfied)
		}
		if step.AwaitingApproval() {
			return nil, fmt.Errorf("step %s: %w", stepID, domain.ErrApprovalRequired)
		}

		step.Status = domain.StepStatusInProgress
		step.Attempts++
		step.CompletedAt = nil
		if step.StartedAt == nil {
			step.StartedAt = &now
		}
		appendEvent(step, domain.StepEventStarted, actor, "", now)

		if exec.Status == domain.ExecutionStatusInitiated {
			exec.Status = domain.ExecutionStatusInProgress
		}
		if exec.StartedAt == nil {
			exec.StartedAt = &now
		}
		refreshStall(exec)

		return &Change{Step: step}, nil
	})
}

func unmetDependencies(exec *domain.Execution, step *domain.StepInstance) []string {
	var missing []string
	for _, dep := range step.DependsOn {
		d := exec.Step(dep)
		if d == nil || d.Status != domain.StepStatusCompleted {
			missing = append(missing, dep)
		}
	}
	return missing
}

// ApplyStepResult records the outcome of an IN_PROGRESS step and recomputes
// progress, completion and stall state. A result for a step that was in
// flight when the execution terminated is recorded, but the execution status
// does not change.
func (t *Tracker) ApplyStepResult(ctx context.Context, id, stepID string, outcome Outcome) (*Change, error) {
	change, err := t.mutate(ctx, id, func(exec *domain.Execution, now time.Time) (*Change, error) {
		step, err := findStep(exec, stepID)
		if err != nil {
			return nil, err
		}

		late := exec.Status.IsTerminal() && wasInFlight(step)
		if step.Status != domain.StepStatusInProgress && !late {
			return nil, fmt.Errorf("step %s is %s: %w", stepID, step.Status, domain.ErrInvalidTransition)
		}

		step.Warnings = append(step.Warnings, outcome.Warnings...)
		switch {
		case outcome.NeedsReview:
			if late {
				break
			}
			step.Status = domain.StepStatusPending
			step.ApprovalRequired = true
			step.Approval = nil
			appendEvent(step, domain.StepEventReviewRequested, "", strings.Join(outcome.Warnings, "; "), now)
		case outcome.Status == domain.StepStatusCompleted:
			step.Status = domain.StepStatusCompleted
			step.Outputs = domain.CloneMap(outcome.Outputs)
			step.CompletedAt = &now
			appendEvent(step, domain.StepEventCompleted, "", "", now)
		case outcome.Status == domain.StepStatusFailed:
			msg := "step failed"
			if outcome.Err != nil {
				msg = outcome.Err.Error()
			}
			step.Status = domain.StepStatusFailed
			step.Errors = append(step.Errors, msg)
			step.CompletedAt = &now
			exec.ErrorCount++
			appendEvent(step, domain.StepEventFailed, "", msg, now)
		default:
			return nil, fmt.Errorf("unsupported outcome status %q", outcome.Status)
		}

		exec.Recount()
		change := &Change{Step: step, Late: late}
		if late {
			return change, nil
		}

		if exec.AllStepsDone() {
			exec.Status = domain.ExecutionStatusCompleted
			exec.CompletedAt = &now
			change.Completed = true
		}
		change.Stalled = refreshStall(exec)
		return change, nil
	})
	if err != nil {
		return nil, err
	}

	if change.Late {
		t.logger.Info("late step result recorded",
			zap.String("execution_id", id),
			zap.String("step_id", stepID),
			zap.String("status", string(change.Step.Status)))
	}
	return change, nil
}

// wasInFlight reports whether step was IN_PROGRESS when it got skipped. An
// attempt opens with STARTED and may record RETRIED entries before the skip.
func wasInFlight(step *domain.StepInstance) bool {
	n := len(step.History)
	if step.Status != domain.StepStatusSkipped || n < 2 || step.History[n-1].Type != domain.StepEventSkipped {
		return false
	}
	for i := n - 2; i >= 0; i-- {
		switch step.History[i].Type {
		case domain.StepEventRetried:
			continue
		case domain.StepEventStarted:
			return true
		}
		return false
	}
	return false
}

// RecordApproval attaches an approval to a PENDING step. It does not start
// the step.
func (t *Tracker) RecordApproval(ctx context.Context, id, stepID, approverID string) (*Change, error) {
	if approverID == "" {
		return nil, fmt.Errorf("approver ID is required")
	}
	return t.mutate(ctx, id, func(exec *domain.Execution, now time.Time) (*Change, error) {
		if exec.Status.IsTerminal() {
			return nil, fmt.Errorf("execution %s is %s: %w", id, exec.Status, domain.ErrAlreadyTerminal)
		}
		step, err := findStep(exec, stepID)
		if err != nil {
			return nil, err
		}
		if step.Status != domain.StepStatusPending {
			return nil, fmt.Errorf("step %s is %s: %w", stepID, step.Status, domain.ErrInvalidTransition)
		}

		step.Approval = &domain.Approval{ApproverID: approverID, ApprovedAt: now}
		appendEvent(step, domain.StepEventApproved, approverID, "", now)
		return &Change{Step: step}, nil
	})
}

// RecordRetry notes a failed attempt of an IN_PROGRESS step that is about to
// be retried
func (t *Tracker) RecordRetry(ctx context.Context, id, stepID string, cause error) (*Change, error) {
	return t.mutate(ctx, id, func(exec *domain.Execution, now time.Time) (*Change, error) {
		step, err := findStep(exec, stepID)
		if err != nil {
			return nil, err
		}
		if step.Status != domain.StepStatusInProgress {
			return nil, fmt.Errorf("step %s is %s: %w", stepID, step.Status, domain.ErrInvalidTransition)
		}

		msg := ""
		if cause != nil {
			msg = cause.Error()
			step.Warnings = append(step.Warnings, fmt.Sprintf("attempt %d failed: %s", step.Attempts, msg))
		}
		step.Attempts++
		appendEvent(step, domain.StepEventRetried, "", msg, now)
		return &Change{Step: step}, nil
	})
}

// ResetStep returns a FAILED step to PENDING so it can run again
func (t *Tracker) ResetStep(ctx context.Context, id, stepID, actor string) (*Change, error) {
	return t.mutate(ctx, id, func(exec *domain.Execution, now time.Time) (*Change, error) {
		if exec.Status.IsTerminal() {
			return nil, fmt.Errorf("execution %s is %s: %w", id, exec.Status, domain.ErrAlreadyTerminal)
		}
		step, err := findStep(exec, stepID)
		if err != nil {
			return nil, err
		}
		if step.Status != domain.StepStatusFailed {
			return nil, fmt.Errorf("step %s is %s: %w", stepID, step.Status, domain.ErrInvalidTransition)
		}

		step.Status = domain.StepStatusPending
		step.CompletedAt = nil
		appendEvent(step, domain.StepEventReset, actor, "", now)
		refreshStall(exec)
		return &Change{Step: step}, nil
	})
}

// Cancel skips every PENDING and IN_PROGRESS step and moves the execution to
// CANCELLED. Terminal executions fail with ErrAlreadyTerminal.
func (t *Tracker) Cancel(ctx context.Context, id, reason string) (*Change, error) {
	return t.mutate(ctx, id, func(exec *domain.Execution, now time.Time) (*Change, error) {
		if exec.Status.IsTerminal() {
			return nil, fmt.Errorf("execution %s is %s: %w", id, exec.Status, domain.ErrAlreadyTerminal)
		}
		skipOpenSteps(exec, "cancelled: "+reason, now)
		exec.Status = domain.ExecutionStatusCancelled
		exec.CancelReason = reason
		exec.CompletedAt = &now
		refreshStall(exec)
		return &Change{}, nil
	})
}

// Fail skips every open step and moves the execution to FAILED. It is used
// when the execution as a whole can no longer finish, such as an expired
// execution deadline.
func (t *Tracker) Fail(ctx context.Context, id, reason string) (*Change, error) {
	return t.mutate(ctx, id, func(exec *domain.Execution, now time.Time) (*Change, error) {
		if exec.Status.IsTerminal() {
			return nil, fmt.Errorf("execution %s is %s: %w", id, exec.Status, domain.ErrAlreadyTerminal)
		}
		skipOpenSteps(exec, "execution failed: "+reason, now)
		exec.Status = domain.ExecutionStatusFailed
		exec.FailureReason = reason
		exec.CompletedAt = &now
		refreshStall(exec)
		return &Change{}, nil
	})
}

func skipOpenSteps(exec *domain.Execution, message string, now time.Time) {
	for _, s := range exec.Steps {
		if s.Status == domain.StepStatusPending || s.Status == domain.StepStatusInProgress {
			s.Status = domain.StepStatusSkipped
			appendEvent(s, domain.StepEventSkipped, "", message, now)
		}
	}
}

// refreshStall recomputes the stall flag and reports whether the execution
// just became stalled. An execution is stalled when nothing runs, nothing
// is eligible and a FAILED step blocks the rest.
func refreshStall(exec *domain.Execution) bool {
	was := exec.Stalled
	exec.Stalled, exec.StalledReason = false, ""
	if exec.Status.IsTerminal() {
		return false
	}

	var failed []string
	for _, s := range exec.Steps {
		switch s.Status {
		case domain.StepStatusInProgress:
			return false
		case domain.StepStatusFailed:
			failed = append(failed, s.ID)
		}
	}
	if len(failed) == 0 || len(exec.EligibleSteps()) > 0 {
		return false
	}

	exec.Stalled = true
	exec.StalledReason = fmt.Sprintf("failed steps %s block the remaining work", strings.Join(failed, ", "))
	return !was
}
