package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify with errors.Is.
var (
	// ErrInvalidTemplate rejects malformed or cyclic templates at registration.
	ErrInvalidTemplate = errors.New("invalid template")
	// ErrNotFound is returned for unknown templates, executions, steps or orders.
	ErrNotFound = errors.New("not found")
	// ErrNotFulfillable means the order cannot start fulfillment; no state is created.
	ErrNotFulfillable = errors.New("order not fulfillable")
	// ErrAccessDenied means a warehouse or permission check failed.
	ErrAccessDenied = errors.New("access denied")
	// ErrDependencyNotSatisfied means a step was started before its dependencies completed.
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
	// ErrApprovalRequired means a gated step was started without an approval.
	ErrApprovalRequired = errors.New("approval required")
	// ErrInvalidTransition means the step is not in a state that allows the request.
	ErrInvalidTransition = errors.New("invalid step transition")
	// ErrAlreadyTerminal means the execution is COMPLETED, FAILED or CANCELLED.
	ErrAlreadyTerminal = errors.New("execution already terminal")
	// ErrStepTimeout is the cause recorded when a step exceeds its deadline.
	ErrStepTimeout = errors.New("step timed out")
)

// StepExecutionError wraps a collaborator failure for one step
type StepExecutionError struct {
	StepID   string
	StepType StepType
	Cause    error
	// Permanent failures are business rejections that retrying cannot fix.
	Permanent bool
}

// Error implements error
func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.StepType, e.Cause)
}

// Unwrap exposes the cause to errors.Is/As
func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a step failure worth retrying
func IsRetryable(err error) bool {
	var stepErr *StepExecutionError
	if !errors.As(err, &stepErr) {
		return false
	}
	return !stepErr.Permanent
}
