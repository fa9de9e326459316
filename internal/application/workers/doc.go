// Package workers implements the worker pool that runs step dispatches.
//
// The pool owns a fixed number of goroutines. Callers hand it jobs with Do
// and wait for them; the pool bounds concurrent collaborator calls across
// every execution in the process.
//
// The health monitor samples worker status and the number of step attempts
// waiting for a worker. A pool with every worker busy and attempts queued is
// saturated but still healthy.
package workers
