// Package tracker owns the runtime state of executions.
//
// The Tracker is the only writer of Execution and StepInstance state.
// Mutations of one execution are serialized by a per-execution mutex and
// persisted to the ExecutionStore before the in-memory cache sees them.
// Callers only ever receive deep copies.
package tracker
