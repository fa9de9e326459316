// Package events provides EventBus implementations for the audit log.
//
// Implementations:
//   - redis: Redis Streams, fan-out readers or consumer groups
//   - memory: in-process queues with a bounded per-topic history
package events
