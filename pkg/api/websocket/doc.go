// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/fulfillments/:id/ws and receive a snapshot of
// the execution followed by its events. The stream closes once the
// execution completes, fails or is cancelled.
package websocket
