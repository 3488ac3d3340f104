package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ShippingItemID keys the synthetic line item that carries an order's
// aggregated shipping cost. It never has a baseline.
const ShippingItemID = "shipping"

type CatalogItem struct {
	Price    decimal.Decimal               `yaml:"price" json:"price"`
	Shipping map[Warehouse]decimal.Decimal `yaml:"shipping" json:"shipping"`
}

// Catalog is read-only after startup.
type Catalog map[string]CatalogItem

// IDs returns the stockable item identifiers in a stable order.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		if id == ShippingItemID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
