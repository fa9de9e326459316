package collaborators

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCatalog() *Catalog {
	c := NewCatalog()
	c.AddWarehouse(domain.Warehouse{ID: "wh-east", Country: "US", Capabilities: []string{"fulfill"}, CostPerUnit: 1, TransitDays: 2})
	c.AddWarehouse(domain.Warehouse{ID: "wh-west", Country: "US", Capabilities: []string{"fulfill"}, CostPerUnit: 3, TransitDays: 1})
	c.SetStock("wh-east", "sku-1", 5)
	c.SetStock("wh-west", "sku-1", 5)
	return c
}

func TestCatalogReserveStockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog()

	r := ports.Reservation{Key: "exec/alloc/sku-1/wh-east", WarehouseID: "wh-east", SKU: "sku-1", Quantity: 3}
	require.NoError(t, c.ReserveStock(ctx, r))
	require.NoError(t, c.ReserveStock(ctx, r))

	stock, err := c.GetStock(ctx, "wh-east", "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stock)
	assert.Len(t, c.Reservations(), 1)

	err = c.ReserveStock(ctx, ports.Reservation{Key: "other", WarehouseID: "wh-east", SKU: "sku-1", Quantity: 10})
	assert.Error(t, err)
}

func TestCatalogListReservationsByPrefix(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog()

	require.NoError(t, c.ReserveStock(ctx, ports.Reservation{Key: "exec-1/alloc/sku-1/wh-west", WarehouseID: "wh-west", SKU: "sku-1", Quantity: 1}))
	require.NoError(t, c.ReserveStock(ctx, ports.Reservation{Key: "exec-1/alloc/sku-1/wh-east", WarehouseID: "wh-east", SKU: "sku-1", Quantity: 2}))
	require.NoError(t, c.ReserveStock(ctx, ports.Reservation{Key: "exec-2/alloc/sku-1/wh-east", WarehouseID: "wh-east", SKU: "sku-1", Quantity: 1}))

	got, err := c.ListReservations(ctx, "exec-1/alloc/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "wh-east", got[0].WarehouseID)
	assert.Equal(t, 2, got[0].Quantity)
	assert.Equal(t, "wh-west", got[1].WarehouseID)

	got, err = c.ListReservations(ctx, "exec-3/")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCatalogValidateAccess(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog()

	assert.NoError(t, c.ValidateAccess(ctx, "wh-east", "fulfill"))
	assert.True(t, errors.Is(c.ValidateAccess(ctx, "wh-east", "hazmat"), domain.ErrAccessDenied))
	assert.True(t, errors.Is(c.ValidateAccess(ctx, "wh-missing", "fulfill"), domain.ErrAccessDenied))

	c.DenyAccess("wh-west")
	assert.True(t, errors.Is(c.ValidateAccess(ctx, "wh-west", "fulfill"), domain.ErrAccessDenied))

	_, err := c.GetOrder(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRouterSelectCarrierHonoursWeights(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(newTestCatalog(), DefaultCarriers())
	shipments := []ports.Shipment{{WarehouseID: "wh-east", Items: []domain.LineItem{{SKU: "sku-1", Quantity: 2}}, EstimatedDays: 2}}

	cheapest, err := r.SelectCarrier(ctx, ports.CarrierRequest{OrderID: "o-1", Shipments: shipments, CostWeight: 1})
	require.NoError(t, err)
	assert.Equal(t, "ground-co", cheapest.Carrier)

	fastest, err := r.SelectCarrier(ctx, ports.CarrierRequest{OrderID: "o-1", Shipments: shipments, TimeWeight: 1})
	require.NoError(t, err)
	assert.Equal(t, "air-now", fastest.Carrier)

	preferred, err := r.SelectCarrier(ctx, ports.CarrierRequest{OrderID: "o-1", Shipments: shipments, TimeWeight: 1, PreferredCarriers: []string{"parcel-express"}})
	require.NoError(t, err)
	assert.Equal(t, "parcel-express", preferred.Carrier)
}

func TestRouterRouteWarehouses(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(newTestCatalog(), DefaultCarriers())

	route, err := r.RouteWarehouses(ctx, ports.WarehouseRoutingRequest{
		OrderID:     "o-1",
		Allocation:  map[string]map[string]int{"sku-1": {"wh-east": 2, "wh-west": 1}},
		Destination: domain.Address{Country: "US"},
		CostWeight:  1,
	})
	require.NoError(t, err)
	require.Len(t, route.Shipments, 2)
	assert.Equal(t, "wh-east", route.Shipments[0].WarehouseID)
	assert.InDelta(t, 5.0, route.TotalCost, 0.0001)

	_, err = r.RouteWarehouses(ctx, ports.WarehouseRoutingRequest{OrderID: "o-1"})
	assert.Error(t, err)
}

func TestLabelPrinterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := NewLabelPrinter("")

	req := ports.LabelRequest{IdempotencyKey: "k1", OrderID: "o-1", Carrier: "ground-co"}
	first, err := p.GenerateLabel(ctx, req)
	require.NoError(t, err)
	second, err := p.GenerateLabel(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, p.LabelCount())
	assert.True(t, strings.HasPrefix(first.URL, "https://labels.local/labels/"))

	t1, err := p.GenerateTracking(ctx, ports.TrackingRequest{IdempotencyKey: "k2", Carrier: "ground-co"})
	require.NoError(t, err)
	t2, err := p.GenerateTracking(ctx, ports.TrackingRequest{IdempotencyKey: "k2", Carrier: "ground-co"})
	require.NoError(t, err)
	assert.Equal(t, t1.Number, t2.Number)
}

func TestRuleCheckerVerdicts(t *testing.T) {
	ctx := context.Background()
	checker := NewRuleChecker(ComplianceRules{
		Embargoed:       []string{"KP"},
		ReviewCountries: []string{"RU"},
		ReviewSKUs:      []string{"drone-x"},
	})

	cases := []struct {
		name    string
		country string
		sku     string
		want    ports.ComplianceVerdict
	}{
		{name: "pass", country: "US", sku: "sku-1", want: ports.CompliancePass},
		{name: "embargoed", country: "KP", sku: "sku-1", want: ports.ComplianceFail},
		{name: "review country", country: "RU", sku: "sku-1", want: ports.ComplianceNeedsReview},
		{name: "controlled sku", country: "US", sku: "drone-x", want: ports.ComplianceNeedsReview},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := checker.Check(ctx, ports.ComplianceRequest{
				OrderID:     "o-1",
				Destination: domain.Address{Country: tc.country},
				LineItems:   []domain.LineItem{{SKU: tc.sku, Quantity: 1}},
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Verdict)
		})
	}
}

func TestOutboxDispatch(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox(zap.NewNop())
	o.FailRecipient("bounce@example.com")

	assert.NoError(t, o.Dispatch(ctx, ports.Notification{Channel: "email", Recipient: "a@example.com"}))
	assert.Error(t, o.Dispatch(ctx, ports.Notification{Channel: "email", Recipient: "bounce@example.com"}))
	assert.Error(t, o.Dispatch(ctx, ports.Notification{Channel: "email"}))
	assert.Len(t, o.Sent(), 1)
}

func TestLoadSeedAndFactory(t *testing.T) {
	doc := `
warehouses:
  - id: wh-1
    name: Main
    country: US
    capabilities: [fulfill]
    cost_per_unit: 1.5
    transit_days: 2
stock:
  wh-1:
    sku-1: 10
orders:
  - id: o-1
    customer_id: c-1
    warehouse_id: wh-1
    status: CONFIRMED
    line_items:
      - sku: sku-1
        quantity: 2
    shipping_address:
      country: US
compliance:
  embargoed: [KP]
`
	seed, err := LoadSeed(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, seed.Warehouses, 1)

	catalog := NewCatalog()
	checker := NewRuleChecker(ComplianceRules{})
	seed.Apply(catalog, checker)

	order, err := catalog.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)

	_, err = LoadSeed(strings.NewReader("bogus: true\n"))
	assert.Error(t, err)

	_, err = New(&Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)

	b, err := New(&Config{Provider: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, b.Orders)
	assert.NotNil(t, b.Compliance)
}
