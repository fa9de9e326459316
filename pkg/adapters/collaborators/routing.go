package collaborators

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
)

// Carrier is a carrier service offering known to the router
type Carrier struct {
	Name         string  `json:"name" yaml:"name"`
	ServiceLevel string  `json:"service_level" yaml:"service_level"`
	BaseCost     float64 `json:"base_cost" yaml:"base_cost"`
	PerItemCost  float64 `json:"per_item_cost" yaml:"per_item_cost"`
	TransitDays  int     `json:"transit_days" yaml:"transit_days"`
}

// DefaultCarriers returns a small carrier table usable for development
func DefaultCarriers() []Carrier {
	return []Carrier{
		{Name: "ground-co", ServiceLevel: "GROUND", BaseCost: 5, PerItemCost: 0.5, TransitDays: 5},
		{Name: "parcel-express", ServiceLevel: "TWO_DAY", BaseCost: 9, PerItemCost: 0.75, TransitDays: 2},
		{Name: "air-now", ServiceLevel: "OVERNIGHT", BaseCost: 24, PerItemCost: 1.5, TransitDays: 1},
	}
}

// Router implements RoutingService with weighted cost/time scoring
type Router struct {
	orders   ports.OrderStore
	carriers []Carrier
}

// NewRouter creates a router over the warehouses of orders and a carrier table
func NewRouter(orders ports.OrderStore, carriers []Carrier) *Router {
	return &Router{
		orders:   orders,
		carriers: append([]Carrier(nil), carriers...),
	}
}

// RouteWarehouses groups allocated stock into one shipment per warehouse and
// orders the shipments by weighted cost/time score
func (r *Router) RouteWarehouses(ctx context.Context, req ports.WarehouseRoutingRequest) (*ports.WarehouseRoute, error) {
	if len(req.Allocation) == 0 {
		return nil, fmt.Errorf("no allocation to route for order %s", req.OrderID)
	}

	warehouses, err := r.orders.ListWarehouses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list warehouses: %w", err)
	}
	byID := make(map[string]domain.Warehouse, len(warehouses))
	for _, w := range warehouses {
		byID[w.ID] = w
	}

	items := make(map[string][]domain.LineItem)
	for sku, split := range req.Allocation {
		for warehouseID, qty := range split {
			if qty <= 0 {
				continue
			}
			items[warehouseID] = append(items[warehouseID], domain.LineItem{SKU: sku, Quantity: qty})
		}
	}

	route := &ports.WarehouseRoute{}
	for warehouseID, lines := range items {
		w, ok := byID[warehouseID]
		if !ok {
			return nil, fmt.Errorf("allocation references unknown warehouse %s", warehouseID)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].SKU < lines[j].SKU })
		units := 0
		for _, l := range lines {
			units += l.Quantity
		}
		days := w.TransitDays
		if w.Country != "" && req.Destination.Country != "" && !strings.EqualFold(w.Country, req.Destination.Country) {
			days += 3
		}
		s := ports.Shipment{
			WarehouseID:   warehouseID,
			Items:         lines,
			EstimatedCost: float64(units) * w.CostPerUnit,
			EstimatedDays: days,
		}
		route.Shipments = append(route.Shipments, s)
		route.TotalCost += s.EstimatedCost
	}

	maxCost, maxDays := 0.0, 0
	for _, s := range route.Shipments {
		if s.EstimatedCost > maxCost {
			maxCost = s.EstimatedCost
		}
		if s.EstimatedDays > maxDays {
			maxDays = s.EstimatedDays
		}
	}
	score := func(s ports.Shipment) float64 {
		return req.CostWeight*normalize(s.EstimatedCost, maxCost) +
			req.TimeWeight*normalize(float64(s.EstimatedDays), float64(maxDays))
	}
	sort.SliceStable(route.Shipments, func(i, j int) bool {
		si, sj := score(route.Shipments[i]), score(route.Shipments[j])
		if si != sj {
			return si < sj
		}
		return route.Shipments[i].WarehouseID < route.Shipments[j].WarehouseID
	})

	return route, nil
}

// SelectCarrier picks the carrier with the lowest weighted cost/time score
func (r *Router) SelectCarrier(ctx context.Context, req ports.CarrierRequest) (*ports.CarrierSelection, error) {
	candidates := r.candidates(req)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no carrier available for order %s", req.OrderID)
	}

	units, originDays := 0, 0
	for _, s := range req.Shipments {
		for _, l := range s.Items {
			units += l.Quantity
		}
		if s.EstimatedDays > originDays {
			originDays = s.EstimatedDays
		}
	}
	parcels := len(req.Shipments)
	if parcels == 0 {
		parcels = 1
	}

	type quote struct {
		carrier Carrier
		cost    float64
		days    int
	}
	quotes := make([]quote, 0, len(candidates))
	maxCost, maxDays := 0.0, 0
	for _, c := range candidates {
		q := quote{
			carrier: c,
			cost:    c.BaseCost*float64(parcels) + c.PerItemCost*float64(units),
			days:    c.TransitDays + originDays,
		}
		if q.cost > maxCost {
			maxCost = q.cost
		}
		if q.days > maxDays {
			maxDays = q.days
		}
		quotes = append(quotes, q)
	}

	best := quotes[0]
	bestScore := -1.0
	for _, q := range quotes {
		s := req.CostWeight*normalize(q.cost, maxCost) + req.TimeWeight*normalize(float64(q.days), float64(maxDays))
		if bestScore < 0 || s < bestScore {
			best, bestScore = q, s
		}
	}

	return &ports.CarrierSelection{
		Carrier:      best.carrier.Name,
		ServiceLevel: best.carrier.ServiceLevel,
		Cost:         best.cost,
		TransitDays:  best.days,
	}, nil
}

// candidates applies preferred carriers and priority filters
func (r *Router) candidates(req ports.CarrierRequest) []Carrier {
	out := r.carriers
	if len(req.PreferredCarriers) > 0 {
		var preferred []Carrier
		for _, c := range out {
			for _, name := range req.PreferredCarriers {
				if strings.EqualFold(c.Name, name) {
					preferred = append(preferred, c)
				}
			}
		}
		if len(preferred) > 0 {
			out = preferred
		}
	}
	if p := strings.ToLower(req.Priority); p == "express" || p == "high" {
		var fast []Carrier
		for _, c := range out {
			if c.TransitDays <= 2 {
				fast = append(fast, c)
			}
		}
		if len(fast) > 0 {
			out = fast
		}
	}
	return out
}

func normalize(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max
}
