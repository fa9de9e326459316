package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"go.uber.org/zap"
)

const (
	// FulfillCapability is the warehouse capability checked before planning
	FulfillCapability = "fulfill"

	// AutoApprover is recorded on compliance approvals granted by constraints
	AutoApprover = "system:auto-approve"
)

// Request carries the order and policy to plan for
type Request struct {
	OrderID         string
	AutomationLevel domain.AutomationLevel
	Constraints     domain.Constraints
}

// Plan is the concrete step graph for one order. Nothing in it is persisted.
type Plan struct {
	Order    *domain.Order
	Steps    []*domain.StepInstance
	Metadata domain.PlanMetadata
}

// Planner instantiates templates against orders
type Planner struct {
	orders     ports.OrderStore
	warehouses ports.WarehouseService
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a new planner
func New(orders ports.OrderStore, warehouses ports.WarehouseService, logger *zap.Logger) *Planner {
	return &Planner{
		orders:     orders,
		warehouses: warehouses,
		logger:     logger,
		now:        time.Now,
	}
}

// Plan resolves automation level, approval requirement and inputs of every
// template step for the requested order. Any error wraps
// domain.ErrNotFulfillable and no state is created.
func (p *Planner) Plan(ctx context.Context, tmpl domain.WorkflowTemplate, req Request) (*Plan, error) {
	policy := req.AutomationLevel
	if policy == "" {
		policy = domain.AutomationSemiAutomated
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: unknown automation level %q", domain.ErrNotFulfillable, policy)
	}

	order, err := p.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNotFulfillable, err)
	}
	if !order.Status.Fulfillable() {
		return nil, fmt.Errorf("%w: order %s has status %s", domain.ErrNotFulfillable, order.ID, order.Status)
	}
	if order.WarehouseID == "" {
		return nil, fmt.Errorf("%w: order %s has no warehouse", domain.ErrNotFulfillable, order.ID)
	}
	if err := p.warehouses.ValidateAccess(ctx, order.WarehouseID, FulfillCapability); err != nil {
		if !errors.Is(err, domain.ErrAccessDenied) {
			err = fmt.Errorf("%w: %w", domain.ErrAccessDenied, err)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrNotFulfillable, err)
	}

	inputs := buildInputs(order, req.Constraints)
	now := p.now().UTC()

	steps := make([]*domain.StepInstance, 0, len(tmpl.Steps))
	for _, def := range tmpl.Steps {
		step := &domain.StepInstance{
			ID:                def.ID,
			Name:              def.Name,
			Description:       def.Description,
			Type:              def.Type,
			DependsOn:         append([]string(nil), def.DependsOn...),
			EstimatedDuration: def.EstimatedDuration,
			Status:            domain.StepStatusPending,
			AutomationLevel:   resolveAutomation(def, policy),
			ApprovalRequired:  def.ApprovalRequired || req.Constraints.RequireApproval,
			Inputs:            domain.CloneMap(inputs),
		}
		if step.ApprovalRequired && def.Type == domain.StepTypeCompliance && req.Constraints.AutoApproveCompliance {
			step.Approval = &domain.Approval{ApproverID: AutoApprover, ApprovedAt: now}
			step.History = append(step.History, domain.StepEvent{
				Type:    domain.StepEventApproved,
				Actor:   AutoApprover,
				Message: "compliance auto-approved by constraints",
				At:      now,
			})
		}
		steps = append(steps, step)
	}

	p.logger.Debug("execution planned",
		zap.String("template_id", tmpl.ID),
		zap.String("order_id", order.ID),
		zap.String("automation_level", string(policy)),
		zap.Int("steps", len(steps)))

	return &Plan{
		Order:    order,
		Steps:    steps,
		Metadata: Analyze(tmpl),
	}, nil
}

func resolveAutomation(def domain.StepDefinition, policy domain.AutomationLevel) domain.AutomationLevel {
	switch policy {
	case domain.AutomationManual:
		return domain.AutomationManual
	case domain.AutomationFullyAutomated:
		// compliance always keeps at least a human in the loop
		if def.Type == domain.StepTypeCompliance {
			return def.AutomationLevel
		}
		return domain.AutomationFullyAutomated
	default:
		return def.AutomationLevel
	}
}

// buildInputs binds the order to a JSON-shaped map so it survives a store
// round trip unchanged
func buildInputs(order *domain.Order, c domain.Constraints) map[string]interface{} {
	items := append([]domain.LineItem(nil), order.LineItems...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })

	lines := make([]interface{}, 0, len(items))
	for _, li := range items {
		lines = append(lines, map[string]interface{}{
			"sku":      li.SKU,
			"quantity": li.Quantity,
		})
	}

	costWeight, timeWeight := c.Weights()
	addr := order.ShippingAddress

	return map[string]interface{}{
		"order_id":       order.ID,
		"customer_id":    order.CustomerID,
		"customer_email": order.CustomerEmail,
		"supplier_id":    order.SupplierID,
		"warehouse_id":   order.WarehouseID,
		"priority":       order.Priority,
		"line_items":     lines,
		"shipping_address": map[string]interface{}{
			"name":        addr.Name,
			"line1":       addr.Line1,
			"city":        addr.City,
			"region":      addr.Region,
			"postal_code": addr.PostalCode,
			"country":     addr.Country,
		},
		"cost_weight": costWeight,
		"time_weight": timeWeight,
	}
}
