// Package collaborators provides in-process implementations of the external
// systems a fulfillment step talks to.
//
// The factory creates collaborators based on provider configuration.
// Currently supports:
//   - memory: catalog, weighted router, idempotent label printer, outbox and
//     rule based compliance checker, optionally seeded from a YAML file
package collaborators
