// Package domain defines the fulfillment workflow data model.
//
// It contains:
//   - Workflow templates and step definitions
//   - Executions and their step instances
//   - Orders as seen by the fulfillment engine
//   - Audit events
//   - The error taxonomy shared by every layer
//
// Types in this package carry no behaviour beyond pure helpers (status
// predicates, cloning, dependency checks). All mutation of executions goes
// through the execution tracker.
package domain
