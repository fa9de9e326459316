// Package executor performs the side-effecting work of a single step.
//
// Work is dispatched on the step type through a table of Handlers built once
// at construction. The executor never retries; callers decide what to do
// with a *domain.StepExecutionError.
package executor
