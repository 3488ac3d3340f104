package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SadaleNet/esun-sate/internal/core/challenge"
	"github.com/SadaleNet/esun-sate/internal/core/domain"
)

// memLedger is an in-memory LedgerRepository. A single mutex makes the
// key check and insert one atomic step, like the unique constraint does.
type memLedger struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]*domain.Order
	byKey     map[string]int64
	baselines domain.Baselines
	failWith  error
}

func newMemLedger() *memLedger {
	return &memLedger{
		orders:    make(map[int64]*domain.Order),
		byKey:     make(map[string]int64),
		baselines: make(domain.Baselines),
	}
}

func (m *memLedger) CreateOrderAtomic(ctx context.Context, order domain.Order, items []domain.LineItem, initial domain.OrderStatus) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, false, m.failWith
	}
	if id, ok := m.byKey[order.IdempotencyKey]; ok {
		return id, false, nil
	}
	m.nextID++
	order.ID = m.nextID
	order.Status = initial
	order.Items = append([]domain.LineItem(nil), items...)
	order.History = []domain.StatusChange{{OrderID: order.ID, At: order.CreatedAt, Status: initial}}
	m.orders[order.ID] = &order
	m.byKey[order.IdempotencyKey] = order.ID
	return order.ID, true, nil
}

func (m *memLedger) RecordStatusChange(ctx context.Context, orderID int64, status domain.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	o.History = append(o.History, domain.StatusChange{OrderID: orderID, At: at, Status: status})
	return nil
}

func (m *memLedger) ReadBaselines(ctx context.Context) (domain.Baselines, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make(domain.Baselines, len(m.baselines))
	for k, v := range m.baselines {
		out[k] = v
	}
	return out, nil
}

func (m *memLedger) UpsertBaseline(ctx context.Context, item string, w domain.Warehouse, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.baselines[item]
	switch w {
	case domain.WarehouseAnte:
		b.Ante = qty
	case domain.WarehouseUS:
		b.US = qty
	}
	m.baselines[item] = b
	return nil
}

func (m *memLedger) UpsertBaselines(ctx context.Context, baselines domain.Baselines) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range baselines {
		m.baselines[k] = v
	}
	return nil
}

func (m *memLedger) SumConsumed(ctx context.Context, filter domain.StatusFilter) (domain.Consumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(domain.Consumption)
	for _, o := range m.orders {
		if !filter(o.Status) {
			continue
		}
		for _, li := range o.Items {
			out[domain.StockKey{Warehouse: o.Warehouse, Item: li.Item}] += li.Quantity
		}
	}
	return out, nil
}

func (m *memLedger) GetOrderByKey(ctx context.Context, key string) (*domain.Order, error) {
	m.mu.Lock()
	id, ok := m.byKey[key]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.GetOrderByID(ctx, id)
}

func (m *memLedger) GetOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	cp.Items = append([]domain.LineItem(nil), o.Items...)
	cp.History = append([]domain.StatusChange(nil), o.History...)
	return &cp, nil
}

func (m *memLedger) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type memCache struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	gets        int
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{orders: make(map[string]domain.Order)}
}

func (c *memCache) GetOrder(ctx context.Context, key string) (*domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	o, ok := c.orders[key]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (c *memCache) SetOrder(ctx context.Context, order domain.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[order.IdempotencyKey] = order
	return nil
}

func (c *memCache) InvalidateOrder(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, key)
	c.invalidated = append(c.invalidated, key)
	return nil
}

const (
	testSalt   = "salt"
	testAnswer = "Sonja"
	testImage  = "soweli"
)

func testCatalog() domain.Catalog {
	return domain.Catalog{
		"A": {
			Price: decimal.RequireFromString("10.00"),
			Shipping: map[domain.Warehouse]decimal.Decimal{
				domain.WarehouseAnte: decimal.RequireFromString("1.5"),
				domain.WarehouseUS:   decimal.RequireFromString("3"),
			},
		},
		"B": {
			Price: decimal.RequireFromString("4.25"),
			Shipping: map[domain.Warehouse]decimal.Decimal{
				domain.WarehouseAnte: decimal.RequireFromString("2.0"),
				domain.WarehouseUS:   decimal.RequireFromString("2.5"),
			},
		},
	}
}

type testEnv struct {
	ledger    *memLedger
	cache     *memCache
	catalog   domain.Catalog
	inventory *InventoryService
	orders    *OrderService
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	ledger := newMemLedger()
	ledger.baselines["A"] = domain.Baseline{Ante: 5, US: 1}
	ledger.baselines["B"] = domain.Baseline{Ante: 3, US: 0}

	catalog := testCatalog()
	inv, err := NewInventoryService(ledger, catalog, nil)
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	issuer, err := challenge.NewIssuer(testSalt, testAnswer)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	cache := newMemCache()
	orders, err := NewOrderService(OrderServiceDeps{
		Ledger:    ledger,
		Cache:     cache,
		Inventory: inv,
		Catalog:   catalog,
		Challenge: issuer,
		Clock:     func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	return &testEnv{ledger: ledger, cache: cache, catalog: catalog, inventory: inv, orders: orders}
}

// validRequest builds a request that passes every check.
func validRequest(token string, quantities map[string]string) domain.OrderRequest {
	return domain.OrderRequest{
		IdempotencyKey: token,
		Warehouse:      "ANTE",
		Address: domain.Address{
			Recipient: "jan Sonja",
			Line1:     "1 Main St",
			City:      "Toronto",
			Country:   "CA",
		},
		Contact:      "sonja@example.com",
		Quantities:   quantities,
		SharedAnswer: testAnswer,
		Challenge:    challenge.Hash(token, testImage, testSalt),
		ImageAnswer:  testImage,
		IP:           "192.0.2.1",
	}
}
