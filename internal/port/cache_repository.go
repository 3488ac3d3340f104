package port

import (
	"context"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
)

// OrderCache holds read-only order views keyed by idempotency key. It is
// never authoritative; the ledger is.
type OrderCache interface {
	// GetOrder returns nil, nil on a miss.
	GetOrder(ctx context.Context, key string) (*domain.Order, error)

	SetOrder(ctx context.Context, order domain.Order) error

	// InvalidateOrder drops the cached view after a status change.
	InvalidateOrder(ctx context.Context, key string) error
}
