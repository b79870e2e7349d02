// Package cache issues explicit invalidation calls to the external response
// cache after committed mutations, replacing implicit save-hook
// invalidation with a named collaborator and a defined key scheme.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oakmall/storefront/internal/domain/order"
)

// Cache key scheme shared with the external caching layer.
const (
	// KeyProductList caches the rendered product listing.
	KeyProductList = "product_list"
	// KeyOrderStatus caches per-order status lookups.
	KeyOrderStatus = "order_status:%s"
)

// Invalidator drops cache entries over Redis. Invalidation is best-effort:
// a failure is logged, never propagated, since the mutation that triggered
// it has already committed.
type Invalidator struct {
	rdb *redis.Client
	lg  *zap.Logger
}

var _ order.CacheInvalidator = (*Invalidator)(nil)

// NewInvalidator creates an Invalidator for the given Redis address.
func NewInvalidator(addr string, lg *zap.Logger) *Invalidator {
	return &Invalidator{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		lg:  lg,
	}
}

// InvalidateProductList drops the cached product listing.
func (i *Invalidator) InvalidateProductList(ctx context.Context) {
	if err := i.rdb.Del(ctx, KeyProductList).Err(); err != nil {
		i.lg.Warn("invalidate product list cache", zap.Error(err))
	}
}

// InvalidateOrderStatus drops the cached status of one order.
func (i *Invalidator) InvalidateOrderStatus(ctx context.Context, orderID string) {
	key := fmt.Sprintf(KeyOrderStatus, orderID)
	if err := i.rdb.Del(ctx, key).Err(); err != nil {
		i.lg.Warn("invalidate order status cache", zap.Error(err), zap.String("order_id", orderID))
	}
}

// Close releases the Redis connection.
func (i *Invalidator) Close() error {
	return i.rdb.Close()
}

// Noop discards all invalidation calls. Used when Redis is not configured
// and in tests.
type Noop struct{}

var _ order.CacheInvalidator = Noop{}

// InvalidateProductList implements order.CacheInvalidator.
func (Noop) InvalidateProductList(context.Context) {}

// InvalidateOrderStatus implements order.CacheInvalidator.
func (Noop) InvalidateOrderStatus(context.Context, string) {}
