package collaborators

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
)

// Catalog implements OrderStore and WarehouseService over in-memory maps
type Catalog struct {
	mu           sync.RWMutex
	orders       map[string]domain.Order
	warehouses   map[string]domain.Warehouse
	stock        map[string]map[string]int // warehouse -> sku -> available
	reservations map[string]ports.Reservation
	denied       map[string]bool
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		orders:       make(map[string]domain.Order),
		warehouses:   make(map[string]domain.Warehouse),
		stock:        make(map[string]map[string]int),
		reservations: make(map[string]ports.Reservation),
		denied:       make(map[string]bool),
	}
}

// AddOrder stores or replaces an order
func (c *Catalog) AddOrder(o domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o.LineItems = append([]domain.LineItem(nil), o.LineItems...)
	c.orders[o.ID] = o
}

// AddWarehouse stores or replaces a warehouse
func (c *Catalog) AddWarehouse(w domain.Warehouse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.Capabilities = append([]string(nil), w.Capabilities...)
	c.warehouses[w.ID] = w
}

// SetStock sets the available quantity of sku in a warehouse
func (c *Catalog) SetStock(warehouseID, sku string, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stock[warehouseID] == nil {
		c.stock[warehouseID] = make(map[string]int)
	}
	c.stock[warehouseID][sku] = quantity
}

// DenyAccess makes ValidateAccess reject the warehouse
func (c *Catalog) DenyAccess(warehouseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied[warehouseID] = true
}

// GetOrder returns a copy of the order
func (c *Catalog) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	o, ok := c.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	o.LineItems = append([]domain.LineItem(nil), o.LineItems...)
	return &o, nil
}

// GetStock returns the available quantity of sku in a warehouse
func (c *Catalog) GetStock(ctx context.Context, warehouseID, sku string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.warehouses[warehouseID]; !ok {
		return 0, fmt.Errorf("warehouse %s: %w", warehouseID, domain.ErrNotFound)
	}
	return c.stock[warehouseID][sku], nil
}

// ReserveStock decrements available stock once per reservation key
func (c *Catalog) ReserveStock(ctx context.Context, r ports.Reservation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.reservations[r.Key]; ok {
		return nil
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("invalid reservation quantity %d for %s", r.Quantity, r.SKU)
	}
	available := c.stock[r.WarehouseID][r.SKU]
	if available < r.Quantity {
		return fmt.Errorf("insufficient stock for %s in %s: have %d, need %d",
			r.SKU, r.WarehouseID, available, r.Quantity)
	}
	c.stock[r.WarehouseID][r.SKU] = available - r.Quantity
	c.reservations[r.Key] = r
	return nil
}

// ListWarehouses returns all warehouses sorted by id
func (c *Catalog) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Warehouse, 0, len(c.warehouses))
	for _, w := range c.warehouses {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ValidateAccess checks the warehouse exists, is not denied and has the capability
func (c *Catalog) ValidateAccess(ctx context.Context, warehouseID, capability string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w, ok := c.warehouses[warehouseID]
	if !ok {
		return fmt.Errorf("unknown warehouse %s: %w", warehouseID, domain.ErrAccessDenied)
	}
	if c.denied[warehouseID] {
		return fmt.Errorf("warehouse %s: %w", warehouseID, domain.ErrAccessDenied)
	}
	if len(w.Capabilities) > 0 && !w.HasCapability(capability) {
		return fmt.Errorf("warehouse %s lacks capability %q: %w", warehouseID, capability, domain.ErrAccessDenied)
	}
	return nil
}

// ListReservations returns the reservations under keyPrefix sorted by key
func (c *Catalog) ListReservations(ctx context.Context, keyPrefix string) ([]ports.Reservation, error) {
	return c.reservationsWithPrefix(keyPrefix), nil
}

// Reservations returns a copy of every recorded reservation
func (c *Catalog) Reservations() []ports.Reservation {
	return c.reservationsWithPrefix("")
}

func (c *Catalog) reservationsWithPrefix(prefix string) []ports.Reservation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ports.Reservation, 0, len(c.reservations))
	for key, r := range c.reservations {
		if strings.HasPrefix(key, prefix) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
