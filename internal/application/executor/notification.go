package executor

import (
	"context"
	"fmt"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"go.uber.org/zap"
)

type notificationHandler struct {
	dispatcher ports.NotificationDispatcher
	logger     *zap.Logger
}

// Execute hands one message per recipient to the dispatcher. Delivery
// errors are counted and surfaced as warnings, never as a step failure.
func (h *notificationHandler) Execute(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error) {
	in, err := decodeInputs(step)
	if err != nil {
		return Result{}, err
	}

	data := map[string]interface{}{"order_id": in.OrderID}
	for _, key := range []string{"carrier", "tracking_number", "tracking_url"} {
		var v string
		if found, err := ec.Lookup(key, &v); err == nil && found {
			data[key] = v
		}
	}

	customer := in.CustomerEmail
	if customer == "" {
		customer = "customer:" + in.CustomerID
	}
	recipients := append([]string{customer}, ec.Constraints.Stakeholders...)

	sent, failed := 0, 0
	var warnings []string
	for _, r := range recipients {
		err := h.dispatcher.Dispatch(ctx, ports.Notification{
			Channel:   "email",
			Recipient: r,
			Template:  step.ID,
			Data:      data,
		})
		if err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("notification to %s not dispatched: %v", r, err))
			h.logger.Warn("notification dispatch failed",
				zap.String("execution_id", ec.ExecutionID),
				zap.String("step_id", step.ID),
				zap.String("recipient", r),
				zap.Error(err))
			continue
		}
		sent++
	}

	return Result{
		Outputs: map[string]interface{}{
			"sent":   sent,
			"failed": failed,
		},
		Warnings: warnings,
	}, nil
}
