package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
)

type routingHandler struct {
	routing ports.RoutingService
}

// Execute selects a carrier when the step id mentions "carrier" and splits
// the order across warehouses otherwise
func (h *routingHandler) Execute(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error) {
	in, err := decodeInputs(step)
	if err != nil {
		return Result{}, err
	}
	if strings.Contains(step.ID, "carrier") {
		return h.selectCarrier(ctx, in, ec)
	}
	return h.routeWarehouses(ctx, in, ec)
}

func (h *routingHandler) routeWarehouses(ctx context.Context, in stepInputs, ec *ExecutionContext) (Result, error) {
	var allocation map[string]map[string]int
	found, err := ec.Lookup("allocation", &allocation)
	if err != nil {
		return Result{}, err
	}
	if !found {
		allocation = singleWarehouse(in)
	}

	route, err := h.routing.RouteWarehouses(ctx, ports.WarehouseRoutingRequest{
		OrderID:     in.OrderID,
		Allocation:  allocation,
		Destination: in.ShippingAddress,
		CostWeight:  in.CostWeight,
		TimeWeight:  in.TimeWeight,
	})
	if err != nil {
		return Result{}, fmt.Errorf("warehouse routing failed: %w", err)
	}

	return Result{Outputs: map[string]interface{}{
		"shipments":  route.Shipments,
		"total_cost": route.TotalCost,
	}}, nil
}

func (h *routingHandler) selectCarrier(ctx context.Context, in stepInputs, ec *ExecutionContext) (Result, error) {
	var shipments []ports.Shipment
	found, err := ec.Lookup("shipments", &shipments)
	if err != nil {
		return Result{}, err
	}
	if !found {
		shipments = []ports.Shipment{{WarehouseID: in.WarehouseID, Items: in.LineItems}}
	}

	sel, err := h.routing.SelectCarrier(ctx, ports.CarrierRequest{
		OrderID:           in.OrderID,
		Shipments:         shipments,
		Destination:       in.ShippingAddress,
		Priority:          in.Priority,
		CostWeight:        in.CostWeight,
		TimeWeight:        in.TimeWeight,
		PreferredCarriers: ec.Constraints.PreferredCarriers,
	})
	if err != nil {
		return Result{}, fmt.Errorf("carrier selection failed: %w", err)
	}

	out := Result{Outputs: map[string]interface{}{
		"carrier":       sel.Carrier,
		"service_level": sel.ServiceLevel,
		"shipping_cost": sel.Cost,
		"transit_days":  sel.TransitDays,
	}}
	if !found {
		// templates without warehouse routing still hand shipments downstream
		out.Outputs["shipments"] = shipments
	}
	return out, nil
}

// singleWarehouse allocates the whole order from its own warehouse
func singleWarehouse(in stepInputs) map[string]map[string]int {
	out := make(map[string]map[string]int, len(in.LineItems))
	for _, li := range in.LineItems {
		out[li.SKU] = map[string]int{in.WarehouseID: li.Quantity}
	}
	return out
}
