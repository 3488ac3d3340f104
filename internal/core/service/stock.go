package service

import "github.com/SadaleNet/esun-sate/internal/core/domain"

// CalculateAvailability derives baseline minus consumed for every catalog
// item at every warehouse. The shipping line item is never part of the
// iteration. Results can be negative when a baseline was lowered below what
// open orders already hold.
func CalculateAvailability(catalog domain.Catalog, baselines domain.Baselines, consumed domain.Consumption) domain.Availability {
	available := make(domain.Availability, len(domain.Warehouses))
	for _, w := range domain.Warehouses {
		perItem := make(map[string]int, len(catalog))
		for _, item := range catalog.IDs() {
			perItem[item] = baselines[item].Quantity(w) - consumed[domain.StockKey{Warehouse: w, Item: item}]
		}
		available[w] = perItem
	}
	return available
}

func consumedView(catalog domain.Catalog, consumed domain.Consumption) domain.Availability {
	view := make(domain.Availability, len(domain.Warehouses))
	for _, w := range domain.Warehouses {
		perItem := make(map[string]int, len(catalog))
		for _, item := range catalog.IDs() {
			perItem[item] = consumed[domain.StockKey{Warehouse: w, Item: item}]
		}
		view[w] = perItem
	}
	return view
}
