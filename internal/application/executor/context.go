package executor

import (
	"encoding/json"
	"fmt"

	"github.com/aescanero/fulfillment/pkg/domain"
)

// ExecutionContext is the read-only view of an execution a handler sees
type ExecutionContext struct {
	ExecutionID string
	OrderID     string
	Constraints domain.Constraints

	// outputs of COMPLETED steps, in template order
	outputs []map[string]interface{}
}

// NewExecutionContext snapshots the outputs of every completed step of exec
func NewExecutionContext(exec *domain.Execution) *ExecutionContext {
	ec := &ExecutionContext{
		ExecutionID: exec.ID,
		OrderID:     exec.OrderID,
		Constraints: exec.Constraints,
	}
	for _, s := range exec.Steps {
		if s.Status == domain.StepStatusCompleted && len(s.Outputs) > 0 {
			ec.outputs = append(ec.outputs, domain.CloneMap(s.Outputs))
		}
	}
	return ec
}

// Lookup decodes the most recent upstream output named key into target.
// It reports false when no completed step produced key.
func (ec *ExecutionContext) Lookup(key string, target interface{}) (bool, error) {
	for i := len(ec.outputs) - 1; i >= 0; i-- {
		v, ok := ec.outputs[i][key]
		if !ok {
			continue
		}
		if err := convert(v, target); err != nil {
			return true, fmt.Errorf("failed to decode output %q: %w", key, err)
		}
		return true, nil
	}
	return false, nil
}

// stepInputs is the typed form of the inputs bound by the planner
type stepInputs struct {
	OrderID         string            `json:"order_id"`
	CustomerID      string            `json:"customer_id"`
	CustomerEmail   string            `json:"customer_email"`
	WarehouseID     string            `json:"warehouse_id"`
	Priority        string            `json:"priority"`
	LineItems       []domain.LineItem `json:"line_items"`
	ShippingAddress domain.Address    `json:"shipping_address"`
	CostWeight      float64           `json:"cost_weight"`
	TimeWeight      float64           `json:"time_weight"`
}

func decodeInputs(step *domain.StepInstance) (stepInputs, error) {
	var in stepInputs
	if err := convert(step.Inputs, &in); err != nil {
		return in, reject("invalid step inputs: %v", err)
	}
	return in, nil
}

// convert maps a JSON-shaped value onto a typed target. Values may be typed
// (fresh from a handler) or generic (after a store round trip).
func convert(v interface{}, target interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
