package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
)

const (
	orderKeyPrefix  = "order:"
	defaultOrderTTL = 30 * time.Second
)

// RedisAdapter caches order views for the status page. Entries expire on
// their own and are dropped on every status change.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = defaultOrderTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) GetOrder(ctx context.Context, key string) (*domain.Order, error) {
	raw, err := r.client.Get(ctx, orderKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var order domain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode cached order: %w", err)
	}
	return &order, nil
}

func (r *RedisAdapter) SetOrder(ctx context.Context, order domain.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	return r.client.Set(ctx, orderKeyPrefix+order.IdempotencyKey, raw, r.ttl).Err()
}

func (r *RedisAdapter) InvalidateOrder(ctx context.Context, key string) error {
	return r.client.Del(ctx, orderKeyPrefix+key).Err()
}
