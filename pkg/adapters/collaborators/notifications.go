package collaborators

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/fulfillment/pkg/ports"
	"go.uber.org/zap"
)

// Outbox implements NotificationDispatcher by recording messages and logging them
type Outbox struct {
	mu      sync.Mutex
	sent    []ports.Notification
	failing map[string]bool
	logger  *zap.Logger
}

// NewOutbox creates an empty outbox
func NewOutbox(logger *zap.Logger) *Outbox {
	return &Outbox{
		failing: make(map[string]bool),
		logger:  logger,
	}
}

// FailRecipient makes dispatches to recipient fail
func (o *Outbox) FailRecipient(recipient string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failing[recipient] = true
}

// Dispatch queues the notification
func (o *Outbox) Dispatch(ctx context.Context, n ports.Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("notification recipient is required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.failing[n.Recipient] {
		return fmt.Errorf("delivery to %s rejected", n.Recipient)
	}
	o.sent = append(o.sent, n)

	o.logger.Debug("notification queued",
		zap.String("channel", n.Channel),
		zap.String("recipient", n.Recipient),
		zap.String("template", n.Template))
	return nil
}

// Sent returns a copy of the dispatched notifications
func (o *Outbox) Sent() []ports.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ports.Notification(nil), o.sent...)
}
