// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Initiating, inspecting and cancelling fulfillments
//   - Executing, approving and retrying individual steps
//   - Templates and analytics
//   - Health checks and Prometheus metrics
package http
