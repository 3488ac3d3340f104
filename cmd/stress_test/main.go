package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SadaleNet/esun-sate/internal/adapter/storage"
	"github.com/SadaleNet/esun-sate/internal/core/challenge"
	"github.com/SadaleNet/esun-sate/internal/core/domain"
	"github.com/SadaleNet/esun-sate/internal/core/service"
	"github.com/SadaleNet/esun-sate/internal/platform/logging"
)

const (
	itemID          = "stress-item"
	initialStock    = 20
	sameKeyRequests = 50
	distinctOrders  = 50
	salt            = "stress-salt"
	sharedAnswer    = "Sonja"
)

func main() {
	ctx := context.Background()

	logger, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ledger, cleanup, err := openLedger(ctx)
	if err != nil {
		logger.Fatal("failed to open ledger", zap.Error(err))
	}
	defer cleanup()
	logger.Info("ledger ready", zap.String("driver", ledger.Dialect()))

	catalog := domain.Catalog{
		itemID: {
			Price: decimal.NewFromInt(5),
			Shipping: map[domain.Warehouse]decimal.Decimal{
				domain.WarehouseAnte: decimal.NewFromInt(1),
				domain.WarehouseUS:   decimal.NewFromInt(1),
			},
		},
	}
	if err := ledger.UpsertBaselines(ctx, domain.Baselines{itemID: {Ante: initialStock}}); err != nil {
		logger.Fatal("failed to set baseline", zap.Error(err))
	}

	inventory, err := service.NewInventoryService(ledger, catalog, logger)
	if err != nil {
		logger.Fatal("failed to build inventory service", zap.Error(err))
	}
	issuer, err := challenge.NewIssuer(salt, sharedAnswer)
	if err != nil {
		logger.Fatal("failed to build challenge issuer", zap.Error(err))
	}
	orders, err := service.NewOrderService(service.OrderServiceDeps{
		Ledger:    ledger,
		Inventory: inventory,
		Catalog:   catalog,
		Challenge: issuer,
		Logger:    logger.Named("orders"),
	})
	if err != nil {
		logger.Fatal("failed to build order service", zap.Error(err))
	}

	before, err := inventory.Availability(ctx)
	if err != nil {
		logger.Fatal("failed to read availability", zap.Error(err))
	}
	startStock := before.Quantity(domain.WarehouseAnte, itemID)
	runID := challenge.NewToken()[:8]

	// Phase 1: one idempotency key, many concurrent submissions.
	sameKey := "same-" + runID
	var created, replayed, failed atomic.Int32
	ids := sync.Map{}
	start := time.Now()
	fire(sameKeyRequests, func(i int) {
		res, err := orders.Submit(ctx, request(sameKey, fmt.Sprintf("caller-%d", i)))
		switch {
		case err != nil:
			failed.Add(1)
			logger.Warn("submit failed", zap.Error(err))
		case !res.Accepted():
			failed.Add(1)
		case res.Created:
			created.Add(1)
			ids.Store(res.OrderID, true)
		default:
			replayed.Add(1)
			ids.Store(res.OrderID, true)
		}
	})
	sameKeyElapsed := time.Since(start)

	distinctIDs := 0
	ids.Range(func(any, any) bool { distinctIDs++; return true })
	persisted, err := countOrders(ctx, ledger, sameKey)
	if err != nil {
		logger.Fatal("failed to count orders", zap.Error(err))
	}

	// Phase 2: distinct keys racing for a small baseline.
	var accepted, rejected, errored atomic.Int32
	start = time.Now()
	fire(distinctOrders, func(i int) {
		res, err := orders.Submit(ctx, request(fmt.Sprintf("distinct-%s-%d", runID, i), "buyer"))
		switch {
		case err != nil:
			errored.Add(1)
			logger.Warn("submit failed", zap.Error(err))
		case res.Accepted():
			accepted.Add(1)
		default:
			rejected.Add(1)
		}
	})
	distinctElapsed := time.Since(start)

	available, err := inventory.Availability(ctx)
	if err != nil {
		logger.Fatal("failed to read availability", zap.Error(err))
	}
	remaining := available.Quantity(domain.WarehouseAnte, itemID)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Println("-- same idempotency key --")
	fmt.Printf("Requests:         %d\n", sameKeyRequests)
	fmt.Printf("Created:          %d\n", created.Load())
	fmt.Printf("Replayed:         %d\n", replayed.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Persisted orders: %d\n", persisted)
	fmt.Printf("Duration:         %v\n", sameKeyElapsed)
	fmt.Println("-- distinct keys --")
	fmt.Printf("Available before: %d\n", startStock)
	fmt.Printf("Requests:         %d\n", distinctOrders)
	fmt.Printf("Accepted:         %d\n", accepted.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Errors:           %d\n", errored.Load())
	fmt.Printf("Available now:    %d\n", remaining)
	fmt.Printf("Duration:         %v\n", distinctElapsed)
	fmt.Println("==========================================")

	if created.Load() == 1 && persisted == 1 && distinctIDs == 1 && failed.Load() == 0 {
		fmt.Println("PASS: exactly one order persisted for the shared key")
	} else {
		fmt.Printf("FAIL: expected 1 created/1 persisted/1 id, got %d/%d/%d\n", created.Load(), persisted, distinctIDs)
	}

	want := startStock - int(created.Load()) - int(accepted.Load())
	if remaining != want {
		fmt.Printf("FAIL: availability %d does not match accepted orders (want %d)\n", remaining, want)
	} else if remaining < 0 {
		fmt.Printf("OVERSOLD: %d units beyond the baseline\n", -remaining)
	} else {
		fmt.Println("PASS: availability matches accepted orders")
	}
}

func fire(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func request(token, contact string) domain.OrderRequest {
	return domain.OrderRequest{
		IdempotencyKey: token,
		Warehouse:      string(domain.WarehouseAnte),
		Address: domain.Address{
			Recipient: "stress",
			Line1:     "1 Load St",
			City:      "Bench",
			Country:   "XX",
		},
		Contact:      contact,
		Quantities:   map[string]string{itemID: "1"},
		SharedAnswer: sharedAnswer,
		Challenge:    challenge.Hash(token, challenge.Images[0], salt),
		ImageAnswer:  challenge.Images[0],
	}
}

func openLedger(ctx context.Context) (*storage.SQLAdapter, func(), error) {
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		ledger, err := storage.OpenMySQL(ctx, dsn, storage.PoolConfig{MaxOpenConns: 50, MaxIdleConns: 25})
		if err != nil {
			return nil, nil, err
		}
		if err := ledger.Migrate(ctx); err != nil {
			ledger.Close()
			return nil, nil, err
		}
		return ledger, func() { ledger.Close() }, nil
	}

	dir, err := os.MkdirTemp("", "esun-sate-stress-")
	if err != nil {
		return nil, nil, err
	}
	ledger, err := storage.OpenSQLite(filepath.Join(dir, "ledger.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}
	return ledger, func() {
		ledger.Close()
		os.RemoveAll(dir)
	}, nil
}

func countOrders(ctx context.Context, ledger *storage.SQLAdapter, key string) (int, error) {
	var n int
	err := ledger.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE idempotency_key = ?`, key).Scan(&n)
	return n, err
}
