package ports

import (
	"context"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
)

// Reservation is an idempotent stock hold keyed by Key
type Reservation struct {
	Key         string `json:"key"`
	WarehouseID string `json:"warehouse_id"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
}

// OrderStore reads orders and checks/reserves stock
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetStock(ctx context.Context, warehouseID, sku string) (int, error)
	// ReserveStock is a no-op when a reservation with the same key exists.
	ReserveStock(ctx context.Context, r Reservation) error
	// ListReservations returns the reservations whose key starts with keyPrefix.
	ListReservations(ctx context.Context, keyPrefix string) ([]Reservation, error)
	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)
}

// WarehouseService validates access to a warehouse for a capability.
// Denials return an error wrapping domain.ErrAccessDenied.
type WarehouseService interface {
	ValidateAccess(ctx context.Context, warehouseID, capability string) error
}

// Shipment is the part of an order leaving one warehouse
type Shipment struct {
	WarehouseID   string            `json:"warehouse_id"`
	Items         []domain.LineItem `json:"items"`
	EstimatedCost float64           `json:"estimated_cost"`
	EstimatedDays int               `json:"estimated_days"`
}

// WarehouseRoutingRequest asks for a cost/time optimized warehouse split
type WarehouseRoutingRequest struct {
	OrderID     string                    `json:"order_id"`
	Allocation  map[string]map[string]int `json:"allocation"` // sku -> warehouse -> quantity
	Destination domain.Address            `json:"destination"`
	CostWeight  float64                   `json:"cost_weight"`
	TimeWeight  float64                   `json:"time_weight"`
}

// WarehouseRoute is the chosen warehouse split
type WarehouseRoute struct {
	Shipments []Shipment `json:"shipments"`
	TotalCost float64    `json:"total_cost"`
}

// CarrierRequest asks for a cost/time optimized carrier and service level
type CarrierRequest struct {
	OrderID           string         `json:"order_id"`
	Shipments         []Shipment     `json:"shipments"`
	Destination       domain.Address `json:"destination"`
	Priority          string         `json:"priority"`
	CostWeight        float64        `json:"cost_weight"`
	TimeWeight        float64        `json:"time_weight"`
	PreferredCarriers []string       `json:"preferred_carriers,omitempty"`
}

// CarrierSelection is the chosen carrier and service level
type CarrierSelection struct {
	Carrier      string  `json:"carrier"`
	ServiceLevel string  `json:"service_level"`
	Cost         float64 `json:"cost"`
	TransitDays  int     `json:"transit_days"`
}

// RoutingService performs warehouse routing and carrier selection
type RoutingService interface {
	RouteWarehouses(ctx context.Context, req WarehouseRoutingRequest) (*WarehouseRoute, error)
	SelectCarrier(ctx context.Context, req CarrierRequest) (*CarrierSelection, error)
}

// LabelRequest asks for a shipping label; IdempotencyKey deduplicates
type LabelRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	OrderID        string         `json:"order_id"`
	Carrier        string         `json:"carrier"`
	ServiceLevel   string         `json:"service_level"`
	ShipFrom       []string       `json:"ship_from"`
	ShipTo         domain.Address `json:"ship_to"`
}

// Label is a generated shipping label
type Label struct {
	ID        string    `json:"id"`
	Carrier   string    `json:"carrier"`
	Format    string    `json:"format"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// TrackingRequest asks for a tracking identifier; IdempotencyKey deduplicates
type TrackingRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	OrderID        string `json:"order_id"`
	Carrier        string `json:"carrier"`
	LabelID        string `json:"label_id"`
}

// Tracking is a carrier tracking identifier
type Tracking struct {
	Number  string `json:"number"`
	Carrier string `json:"carrier"`
	URL     string `json:"url"`
}

// DocumentGenerator produces labels and tracking identifiers
type DocumentGenerator interface {
	GenerateLabel(ctx context.Context, req LabelRequest) (*Label, error)
	GenerateTracking(ctx context.Context, req TrackingRequest) (*Tracking, error)
}

// Notification is one outbound message
type Notification struct {
	Channel   string                 `json:"channel"`
	Recipient string                 `json:"recipient"`
	Template  string                 `json:"template"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NotificationDispatcher hands messages to a delivery system without waiting
// for delivery confirmation
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// ComplianceVerdict is the outcome of a compliance check
type ComplianceVerdict string

const (
	CompliancePass        ComplianceVerdict = "PASS"
	ComplianceNeedsReview ComplianceVerdict = "NEEDS_REVIEW"
	ComplianceFail        ComplianceVerdict = "FAIL"
)

// ComplianceRequest describes a shipment to check
type ComplianceRequest struct {
	OrderID     string            `json:"order_id"`
	Destination domain.Address    `json:"destination"`
	LineItems   []domain.LineItem `json:"line_items"`
	Carrier     string            `json:"carrier,omitempty"`
}

// ComplianceResult is the checker's verdict with reasons
type ComplianceResult struct {
	Verdict ComplianceVerdict `json:"verdict"`
	Reasons []string          `json:"reasons,omitempty"`
}

// ComplianceChecker checks export/shipping compliance
type ComplianceChecker interface {
	Check(ctx context.Context, req ComplianceRequest) (*ComplianceResult, error)
}

// Collaborators bundles every external system a step may call
type Collaborators struct {
	Orders        OrderStore
	Warehouses    WarehouseService
	Routing       RoutingService
	Documents     DocumentGenerator
	Notifications NotificationDispatcher
	Compliance    ComplianceChecker
}
