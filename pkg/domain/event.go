package domain

import "time"

// EventType identifies an audit event
type EventType string

const (
	EventTypeFulfillmentInitiated EventType = "fulfillment.initiated"
	EventTypeFulfillmentCompleted EventType = "fulfillment.completed"
	EventTypeFulfillmentFailed    EventType = "fulfillment.failed"
	EventTypeFulfillmentStalled   EventType = "fulfillment.stalled"
	EventTypeFulfillmentCancelled EventType = "fulfillment.cancelled"

	EventTypeStepStarted         EventType = "step.started"
	EventTypeStepCompleted       EventType = "step.completed"
	EventTypeStepFailed          EventType = "step.failed"
	EventTypeStepReviewRequested EventType = "step.review_requested"
	EventTypeStepApproved        EventType = "step.approved"
	EventTypeStepReset           EventType = "step.reset"
)

// EventsTopic is the topic every fulfillment event is published on
const EventsTopic = "fulfillment.events"

// Event is an append-only audit record
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	StepID      string                 `json:"step_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}
