package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
)

type processingHandler struct {
	documents ports.DocumentGenerator
}

// Execute generates a tracking id when the step id mentions "tracking" and
// a shipping label otherwise. Both requests carry an idempotency key derived
// from the execution, the step and its inputs.
func (h *processingHandler) Execute(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error) {
	in, err := decodeInputs(step)
	if err != nil {
		return Result{}, err
	}
	key, err := idempotencyKey(ec.ExecutionID, step)
	if err != nil {
		return Result{}, err
	}

	if strings.Contains(step.ID, "tracking") {
		return h.tracking(ctx, key, in, ec)
	}
	return h.label(ctx, key, in, ec)
}

func (h *processingHandler) label(ctx context.Context, key string, in stepInputs, ec *ExecutionContext) (Result, error) {
	var carrier, serviceLevel string
	if found, err := ec.Lookup("carrier", &carrier); err != nil {
		return Result{}, err
	} else if !found {
		return Result{}, reject("no carrier selected upstream")
	}
	if _, err := ec.Lookup("service_level", &serviceLevel); err != nil {
		return Result{}, err
	}

	var shipments []ports.Shipment
	if _, err := ec.Lookup("shipments", &shipments); err != nil {
		return Result{}, err
	}
	shipFrom := make([]string, 0, len(shipments))
	for _, s := range shipments {
		shipFrom = append(shipFrom, s.WarehouseID)
	}
	if len(shipFrom) == 0 {
		shipFrom = append(shipFrom, in.WarehouseID)
	}

	label, err := h.documents.GenerateLabel(ctx, ports.LabelRequest{
		IdempotencyKey: key,
		OrderID:        in.OrderID,
		Carrier:        carrier,
		ServiceLevel:   serviceLevel,
		ShipFrom:       shipFrom,
		ShipTo:         in.ShippingAddress,
	})
	if err != nil {
		return Result{}, fmt.Errorf("label generation failed: %w", err)
	}

	return Result{Outputs: map[string]interface{}{
		"label_id":     label.ID,
		"label_url":    label.URL,
		"label_format": label.Format,
	}}, nil
}

func (h *processingHandler) tracking(ctx context.Context, key string, in stepInputs, ec *ExecutionContext) (Result, error) {
	var carrier, labelID string
	if _, err := ec.Lookup("carrier", &carrier); err != nil {
		return Result{}, err
	}
	if found, err := ec.Lookup("label_id", &labelID); err != nil {
		return Result{}, err
	} else if !found {
		return Result{}, reject("no label generated upstream")
	}

	tr, err := h.documents.GenerateTracking(ctx, ports.TrackingRequest{
		IdempotencyKey: key,
		OrderID:        in.OrderID,
		Carrier:        carrier,
		LabelID:        labelID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("tracking generation failed: %w", err)
	}

	return Result{Outputs: map[string]interface{}{
		"tracking_number": tr.Number,
		"tracking_url":    tr.URL,
	}}, nil
}

// idempotencyKey hashes the execution id, step id and canonical inputs.
// encoding/json sorts map keys, which makes the encoding canonical.
func idempotencyKey(executionID string, step *domain.StepInstance) (string, error) {
	inputs, err := json.Marshal(step.Inputs)
	if err != nil {
		return "", reject("failed to encode inputs: %v", err)
	}
	h := sha256.New()
	h.Write([]byte(executionID))
	h.Write([]byte{0})
	h.Write([]byte(step.ID))
	h.Write([]byte{0})
	h.Write(inputs)
	return hex.EncodeToString(h.Sum(nil)), nil
}
