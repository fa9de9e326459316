// Package storage provides ExecutionStore implementations.
//
// Implementations:
//   - memory: in-process map, for tests and single-node demos
//   - redis: one JSON document per execution with optional TTL
//   - postgres: one JSONB row per execution
package storage
