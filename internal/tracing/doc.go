// Package tracing wraps OpenTelemetry so the rest of the service starts and
// ends spans without touching the SDK directly. Until Init is called spans
// are no-ops.
package tracing
