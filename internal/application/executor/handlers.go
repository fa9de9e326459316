package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
)

// fulfillCapability is required of every warehouse that ships stock
const fulfillCapability = "fulfill"

type validationHandler struct {
	orders ports.OrderStore
}

// Execute confirms the order is complete and every SKU is stocked somewhere.
// It never mutates inventory.
func (h *validationHandler) Execute(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error) {
	order, err := h.orders.GetOrder(ctx, ec.OrderID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load order: %w", err)
	}
	if len(order.LineItems) == 0 {
		return Result{}, reject("order %s has no line items", order.ID)
	}
	if order.ShippingAddress.Country == "" {
		return Result{}, reject("order %s has no shipping country", order.ID)
	}

	warehouses, err := h.orders.ListWarehouses(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list warehouses: %w", err)
	}

	units := 0
	for _, li := range order.LineItems {
		if li.SKU == "" || li.Quantity <= 0 {
			return Result{}, reject("invalid line item %q x%d", li.SKU, li.Quantity)
		}
		available := 0
		for _, w := range warehouses {
			n, err := h.orders.GetStock(ctx, w.ID, li.SKU)
			if err != nil {
				return Result{}, fmt.Errorf("failed to read stock of %s in %s: %w", li.SKU, w.ID, err)
			}
			available += n
		}
		if available < li.Quantity {
			return Result{}, fmt.Errorf("insufficient inventory for %s: have %d, need %d", li.SKU, available, li.Quantity)
		}
		units += li.Quantity
	}

	return Result{Outputs: map[string]interface{}{
		"validated":  true,
		"line_count": len(order.LineItems),
		"units":      units,
	}}, nil
}

type allocationHandler struct {
	orders     ports.OrderStore
	warehouses ports.WarehouseService
}

// Execute reserves every line, preferring the order's warehouse and then
// other accessible warehouses in id order. Reservation keys are stable per
// execution, step, SKU and warehouse. Holds left by an earlier attempt are
// reused before any new stock is read, so a retried attempt reports the
// split it actually holds.
func (h *allocationHandler) Execute(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error) {
	in, err := decodeInputs(step)
	if err != nil {
		return Result{}, err
	}

	all, err := h.orders.ListWarehouses(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list warehouses: %w", err)
	}
	candidates := []string{in.WarehouseID}
	for _, w := range all {
		if w.ID == in.WarehouseID {
			continue
		}
		if err := h.warehouses.ValidateAccess(ctx, w.ID, fulfillCapability); err != nil {
			continue
		}
		candidates = append(candidates, w.ID)
	}

	existing, err := h.orders.ListReservations(ctx, reservationPrefix(ec.ExecutionID, step.ID))
	if err != nil {
		return Result{}, fmt.Errorf("failed to list reservations: %w", err)
	}
	held := make(map[string]ports.Reservation, len(existing))
	for _, r := range existing {
		held[r.Key] = r
	}

	allocation := make(map[string]map[string]int, len(in.LineItems))
	assign := func(sku, wh string, n int) {
		if allocation[sku] == nil {
			allocation[sku] = make(map[string]int)
		}
		allocation[sku][wh] += n
	}

	for _, li := range in.LineItems {
		remaining := li.Quantity
		for _, wh := range candidates {
			r, ok := held[reservationKey(ec.ExecutionID, step.ID, li.SKU, wh)]
			if !ok || remaining == 0 {
				continue
			}
			take := min(r.Quantity, remaining)
			assign(li.SKU, wh, take)
			remaining -= take
		}

		for _, wh := range candidates {
			if remaining == 0 {
				break
			}
			key := reservationKey(ec.ExecutionID, step.ID, li.SKU, wh)
			if _, ok := held[key]; ok {
				continue
			}
			available, err := h.orders.GetStock(ctx, wh, li.SKU)
			if err != nil {
				return Result{}, fmt.Errorf("failed to read stock of %s in %s: %w", li.SKU, wh, err)
			}
			take := min(available, remaining)
			if take <= 0 {
				continue
			}
			r := ports.Reservation{Key: key, WarehouseID: wh, SKU: li.SKU, Quantity: take}
			if err := h.orders.ReserveStock(ctx, r); err != nil {
				return Result{}, fmt.Errorf("failed to reserve %s in %s: %w", li.SKU, wh, err)
			}
			held[key] = r
			assign(li.SKU, wh, take)
			remaining -= take
		}
		if remaining > 0 {
			return Result{}, fmt.Errorf("could not allocate %d of %s", remaining, li.SKU)
		}
	}

	warehousesUsed := make(map[string]bool)
	for _, byWarehouse := range allocation {
		for wh := range byWarehouse {
			warehousesUsed[wh] = true
		}
	}
	used := make([]string, 0, len(warehousesUsed))
	for wh := range warehousesUsed {
		used = append(used, wh)
	}
	sort.Strings(used)

	return Result{Outputs: map[string]interface{}{
		"allocation": allocation,
		"warehouses": used,
	}}, nil
}

func reservationPrefix(executionID, stepID string) string {
	return executionID + "/" + stepID + "/"
}

func reservationKey(executionID, stepID, sku, warehouseID string) string {
	return reservationPrefix(executionID, stepID) + sku + "/" + warehouseID
}
