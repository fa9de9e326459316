package domain

// OrderStatus is the commercial status of an order
type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "PENDING"
	OrderStatusConfirmed           OrderStatus = "CONFIRMED"
	OrderStatusPaid                OrderStatus = "PAID"
	OrderStatusReadyForFulfillment OrderStatus = "READY_FOR_FULFILLMENT"
	OrderStatusShipped             OrderStatus = "SHIPPED"
	OrderStatusCancelled           OrderStatus = "CANCELLED"
)

// Fulfillable reports whether an order in this status may start fulfillment
func (s OrderStatus) Fulfillable() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusPaid, OrderStatusReadyForFulfillment:
		return true
	}
	return false
}

// LineItem is one SKU and quantity of an order
type LineItem struct {
	SKU      string `json:"sku" yaml:"sku"`
	Quantity int    `json:"quantity" yaml:"quantity"`
}

// Address is a shipping destination
type Address struct {
	Name       string `json:"name" yaml:"name"`
	Line1      string `json:"line1" yaml:"line1"`
	City       string `json:"city" yaml:"city"`
	Region     string `json:"region,omitempty" yaml:"region,omitempty"`
	PostalCode string `json:"postal_code" yaml:"postal_code"`
	Country    string `json:"country" yaml:"country"`
}

// Order is the fulfillment view of a confirmed order
type Order struct {
	ID              string      `json:"id" yaml:"id"`
	CustomerID      string      `json:"customer_id" yaml:"customer_id"`
	CustomerEmail   string      `json:"customer_email,omitempty" yaml:"customer_email,omitempty"`
	SupplierID      string      `json:"supplier_id,omitempty" yaml:"supplier_id,omitempty"`
	WarehouseID     string      `json:"warehouse_id" yaml:"warehouse_id"`
	Status          OrderStatus `json:"status" yaml:"status"`
	Priority        string      `json:"priority,omitempty" yaml:"priority,omitempty"`
	LineItems       []LineItem  `json:"line_items" yaml:"line_items"`
	ShippingAddress Address     `json:"shipping_address" yaml:"shipping_address"`
}

// Warehouse is a stocking location that can ship orders
type Warehouse struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Country      string   `json:"country" yaml:"country"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// CostPerUnit and TransitDays feed warehouse routing.
	CostPerUnit float64 `json:"cost_per_unit" yaml:"cost_per_unit"`
	TransitDays int     `json:"transit_days" yaml:"transit_days"`
}

// HasCapability reports whether the warehouse advertises capability
func (w Warehouse) HasCapability(capability string) bool {
	for _, c := range w.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
