package domain

// Warehouse identifies one of the two stock locations.
type Warehouse string

const (
	WarehouseAnte Warehouse = "ANTE"
	WarehouseUS   Warehouse = "US"
)

// Warehouses lists every valid warehouse in display order.
var Warehouses = []Warehouse{WarehouseAnte, WarehouseUS}

func ParseWarehouse(s string) (Warehouse, bool) {
	switch Warehouse(s) {
	case WarehouseAnte, WarehouseUS:
		return Warehouse(s), true
	}
	return "", false
}

// Baseline is the administrator-set physical stock of one item.
type Baseline struct {
	Ante int `json:"ante"`
	US   int `json:"us"`
}

func (b Baseline) Quantity(w Warehouse) int {
	switch w {
	case WarehouseAnte:
		return b.Ante
	case WarehouseUS:
		return b.US
	}
	return 0
}

// Baselines maps item identifier to its baseline.
type Baselines map[string]Baseline

// StockKey addresses one item at one warehouse.
type StockKey struct {
	Warehouse Warehouse
	Item      string
}

// Consumption is the summed ordered quantity per warehouse and item.
type Consumption map[StockKey]int

// Availability maps warehouse to item to sellable quantity. Values may be negative.
type Availability map[Warehouse]map[string]int

func (a Availability) Quantity(w Warehouse, item string) int {
	return a[w][item]
}

// InventoryReport is the admin view of stock.
type InventoryReport struct {
	Baselines Baselines    `json:"baselines"`
	Consumed  Availability `json:"consumed"`
	Available Availability `json:"available"`
}
