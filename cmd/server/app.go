package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SadaleNet/esun-sate/internal/adapter/storage"
	"github.com/SadaleNet/esun-sate/internal/core/challenge"
	"github.com/SadaleNet/esun-sate/internal/core/service"
	"github.com/SadaleNet/esun-sate/internal/platform/config"
	"github.com/SadaleNet/esun-sate/internal/port"
)

// app owns the long-lived connections and the services built on them.
type app struct {
	ledger    *storage.SQLAdapter
	rdb       *redis.Client
	orders    *service.OrderService
	inventory *service.InventoryService
	logger    *zap.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	ledger, err := openLedger(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := ledger.Migrate(ctx); err != nil {
		ledger.Close()
		return nil, err
	}
	logger.Info("ledger ready", zap.String("driver", ledger.Dialect()))

	a := &app{ledger: ledger, logger: logger}

	var cache port.OrderCache
	if cfg.Redis.Enabled() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		cache = storage.NewRedisAdapter(a.rdb, cfg.Redis.CacheTTL)
		logger.Info("order cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.CacheTTL))
	}

	a.inventory, err = service.NewInventoryService(ledger, cfg.Catalog, logger.Named("inventory"))
	if err != nil {
		a.Close()
		return nil, err
	}

	issuer, err := challenge.NewIssuer(cfg.Security.ChallengeSalt, cfg.Security.SharedAnswer)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orders, err = service.NewOrderService(service.OrderServiceDeps{
		Ledger:    ledger,
		Cache:     cache,
		Inventory: a.inventory,
		Catalog:   cfg.Catalog,
		Challenge: issuer,
		Logger:    logger.Named("orders"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if err := a.ledger.Close(); err != nil {
		a.logger.Warn("close ledger", zap.Error(err))
	}
	a.logger.Info("connections closed")
}

func openLedger(ctx context.Context, db config.DatabaseConfig) (*storage.SQLAdapter, error) {
	opts := []storage.Option{storage.WithRetries(db.RetryAttempts)}
	switch db.Driver {
	case config.DriverMySQL:
		return storage.OpenMySQL(ctx, db.DSN, storage.PoolConfig{
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
		}, opts...)
	case config.DriverSQLite:
		return storage.OpenSQLite(db.DSN, opts...)
	}
	return nil, fmt.Errorf("unknown database driver %q", db.Driver)
}
