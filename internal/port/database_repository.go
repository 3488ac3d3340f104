package port

import (
	"context"
	"time"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
)

type LedgerRepository interface {
	// CreateOrderAtomic persists the order, its line items and the initial
	// status event in one transaction. When the idempotency key is already
	// taken it returns the existing order's ID with created == false.
	CreateOrderAtomic(ctx context.Context, order domain.Order, items []domain.LineItem, initial domain.OrderStatus) (id int64, created bool, err error)

	// RecordStatusChange appends a status event and updates the cached status.
	// Returns domain.ErrNotFound if the order does not exist.
	RecordStatusChange(ctx context.Context, orderID int64, status domain.OrderStatus, at time.Time) error

	ReadBaselines(ctx context.Context) (domain.Baselines, error)

	UpsertBaseline(ctx context.Context, item string, warehouse domain.Warehouse, quantity int) error

	// UpsertBaselines applies every update or none of them.
	UpsertBaselines(ctx context.Context, baselines domain.Baselines) error

	// SumConsumed sums line item quantities of orders whose current status
	// passes filter, grouped by warehouse and item.
	SumConsumed(ctx context.Context, filter domain.StatusFilter) (domain.Consumption, error)

	// GetOrderByKey and GetOrderByID return the order with its line items and
	// status history, or domain.ErrNotFound.
	GetOrderByKey(ctx context.Context, key string) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*domain.Order, error)
}
