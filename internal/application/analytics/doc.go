// Package analytics aggregates persisted executions into read-only reports.
package analytics
