package handler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/SadaleNet/esun-sate/internal/adapter/storage"
	"github.com/SadaleNet/esun-sate/internal/core/challenge"
	"github.com/SadaleNet/esun-sate/internal/core/domain"
	"github.com/SadaleNet/esun-sate/internal/core/service"
)

const (
	testSalt       = "salt"
	testAnswer     = "Sonja"
	testImage      = "soweli"
	testAdminToken = "admin-secret"
)

type testEnv struct {
	ledger    *storage.SQLAdapter
	orders    *service.OrderService
	inventory *service.InventoryService
	catalog   domain.Catalog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ledger, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	require.NoError(t, ledger.UpsertBaselines(context.Background(), domain.Baselines{
		"A": {Ante: 5, US: 1},
		"B": {Ante: 3, US: 0},
	}))

	catalog := domain.Catalog{
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
				domain.WarehouseAnte: decimal.RequireFromString("2"),
				domain.WarehouseUS:   decimal.RequireFromString("2.5"),
			},
		},
	}

	inventory, err := service.NewInventoryService(ledger, catalog, nil)
	require.NoError(t, err)

	soweli := 13
	require.Equal(t, testImage, challenge.Images[soweli])
	issuer, err := challenge.NewIssuer(testSalt, testAnswer, challenge.WithPicker(func(int) int { return soweli }))
	require.NoError(t, err)

	orders, err := service.NewOrderService(service.OrderServiceDeps{
		Ledger:    ledger,
		Inventory: inventory,
		Catalog:   catalog,
		Challenge: issuer,
	})
	require.NoError(t, err)

	return &testEnv{ledger: ledger, orders: orders, inventory: inventory, catalog: catalog}
}

func orderRequest(token string, quantities map[string]string) domain.OrderRequest {
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
	}
}
