package service_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SadaleNet/esun-sate/internal/adapter/storage"
	"github.com/SadaleNet/esun-sate/internal/core/challenge"
	"github.com/SadaleNet/esun-sate/internal/core/domain"
	"github.com/SadaleNet/esun-sate/internal/core/service"
)

const (
	integrationSalt   = "integration-salt"
	integrationAnswer = "Sonja"
)

type integrationEnv struct {
	redis     *redis.Client
	ledger    *storage.SQLAdapter
	orders    *service.OrderService
	inventory *service.InventoryService
	item      string
}

// setupIntegrationEnv wires the services to real MySQL and Redis and skips
// when either is unreachable.
func setupIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/esunsate"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ledger := storage.NewMySQLAdapter(db)
	require.NoError(t, ledger.Migrate(context.Background()))

	item := "it-" + challenge.NewToken()[:12]
	catalog := domain.Catalog{
		item: {
			Price: decimal.RequireFromString("3.50"),
			Shipping: map[domain.Warehouse]decimal.Decimal{
				domain.WarehouseAnte: decimal.RequireFromString("1"),
				domain.WarehouseUS:   decimal.RequireFromString("2"),
			},
		},
	}
	require.NoError(t, ledger.UpsertBaselines(context.Background(), domain.Baselines{item: {Ante: 10, US: 10}}))
	t.Cleanup(func() {
		db.Exec(`DELETE FROM inventory_list WHERE item = ?`, item)
	})

	inventory, err := service.NewInventoryService(ledger, catalog, nil)
	require.NoError(t, err)
	issuer, err := challenge.NewIssuer(integrationSalt, integrationAnswer)
	require.NoError(t, err)
	orders, err := service.NewOrderService(service.OrderServiceDeps{
		Ledger:    ledger,
		Cache:     storage.NewRedisAdapter(rdb, 0),
		Inventory: inventory,
		Catalog:   catalog,
		Challenge: issuer,
	})
	require.NoError(t, err)

	return &integrationEnv{redis: rdb, ledger: ledger, orders: orders, inventory: inventory, item: item}
}

func (e *integrationEnv) request(token string, qty string) domain.OrderRequest {
	image := challenge.Images[3]
	return domain.OrderRequest{
		IdempotencyKey: token,
		Warehouse:      "US",
		Address:        domain.Address{Recipient: "r", Line1: "l", City: "c", Country: "US"},
		Contact:        "c@example.com",
		Quantities:     map[string]string{e.item: qty},
		SharedAnswer:   integrationAnswer,
		Challenge:      challenge.Hash(token, image, integrationSalt),
		ImageAnswer:    image,
	}
}

func TestIntegration_OrderLifecycleWithCache(t *testing.T) {
	env := setupIntegrationEnv(t)
	ctx := context.Background()
	token := challenge.NewToken()

	res, err := env.orders.Submit(ctx, env.request(token, "3"))
	require.NoError(t, err)
	require.True(t, res.Accepted(), "errors: %v", res.Errors)

	available, err := env.inventory.Availability(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, available.Quantity(domain.WarehouseUS, env.item))

	order, err := env.orders.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.EqualValues(t, 1, env.redis.Exists(ctx, "order:"+token).Val())

	require.NoError(t, env.orders.ChangeStatus(ctx, res.OrderID, domain.OrderStatusCancelled))
	assert.EqualValues(t, 0, env.redis.Exists(ctx, "order:"+token).Val())

	order, err = env.orders.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Len(t, order.History, 2)

	available, err = env.inventory.Availability(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, available.Quantity(domain.WarehouseUS, env.item))
}

func TestIntegration_IdempotencyPreventsDoubleOrder(t *testing.T) {
	env := setupIntegrationEnv(t)
	ctx := context.Background()
	token := challenge.NewToken()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.orders.Submit(ctx, env.request(token, "1"))
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			if res.Created {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, created.Load())

	var count int
	require.NoError(t, env.ledger.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE idempotency_key = ?`, token).Scan(&count))
	assert.Equal(t, 1, count)

	available, err := env.inventory.Availability(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, available.Quantity(domain.WarehouseUS, env.item))
}
