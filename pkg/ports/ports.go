// Package ports declares the interfaces the fulfillment engine depends on.
//
// Infrastructure ports (execution store, event bus, metrics) are implemented
// under pkg/adapters. Collaborator ports describe the external systems a step
// talks to; pkg/adapters/collaborators ships in-process implementations.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
)

// ExecutionStore is the durable system of record for executions.
// Load returns an error wrapping domain.ErrNotFound for unknown ids.
type ExecutionStore interface {
	Save(ctx context.Context, exec *domain.Execution) error
	Load(ctx context.Context, executionID string) (*domain.Execution, error)
	Delete(ctx context.Context, executionID string) error
	List(ctx context.Context) ([]*domain.Execution, error)
}

// EventHandler processes a single event
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus is the append-only audit/event log
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	// Subscribe delivers events published after the call until ctx is done.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// MetricsCollector records engine metrics
type MetricsCollector interface {
	RecordExecutionInitiated(templateID string, level domain.AutomationLevel)
	RecordExecutionFinished(status domain.ExecutionStatus, duration time.Duration)
	RecordExecutionStalled(templateID string)
	RecordStepExecuted(stepType domain.StepType, status domain.StepStatus, duration time.Duration)
	RecordStepRetry(stepType domain.StepType)
	SetActiveExecutions(count int)
	RecordWorkerPoolStatus(idle, busy, stopped, queued int)
}
