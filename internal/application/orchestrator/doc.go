// Package orchestrator drives fulfillment executions.
//
// The Manager composes the template registry, planner, step executor and
// tracker:
//   - InitiateFulfillment plans an order against a template and persists the execution
//   - automated executions run in waves of eligible steps on the worker pool
//   - ExecuteStep, ApproveStep and RetryStep let operators move gated, manual or failed steps
//   - CancelFulfillment and the execution deadline end an execution
//
// Every transition is published on the event bus as an audit record.
package orchestrator
