package database

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/swapflow/internal/cache"
	"github.com/jerry-enebeli/swapflow/model"
)

const (
	orderCacheKeyPrefix = "orders:"
	defaultOrderTTL     = 5 * time.Minute
)

// CachedStore reads single orders through a cache and refreshes the cached
// copy after every write. A fill on a miss never replaces an entry that is
// already there. Lists and stale scans always hit the backing store.
type CachedStore struct {
	OrderStore
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedStore(store OrderStore, c cache.Cache, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = defaultOrderTTL
	}
	return &CachedStore{OrderStore: store, cache: c, ttl: ttl}
}

func orderCacheKey(id string) string {
	return orderCacheKeyPrefix + id
}

func (c *CachedStore) remember(ctx context.Context, order *model.Order) {
	if err := c.cache.Set(ctx, orderCacheKey(order.OrderID), order, c.ttl); err != nil {
		logrus.WithError(err).WithField("order_id", order.OrderID).Warn("failed to cache order")
	}
}

func (c *CachedStore) CreateOrder(ctx context.Context, pair model.TokenPair, amount decimal.Decimal) (*model.Order, error) {
	order, err := c.OrderStore.CreateOrder(ctx, pair, amount)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, order)
	return order, nil
}

func (c *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var cached model.Order
	err := c.cache.Get(ctx, orderCacheKey(id), &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logrus.WithError(err).WithField("order_id", id).Warn("order cache read failed")
	}

	order, err := c.OrderStore.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	// a write that landed after the read above must win over this fill
	if err := c.cache.SetNX(ctx, orderCacheKey(id), order, c.ttl); err != nil {
		logrus.WithError(err).WithField("order_id", id).Warn("failed to cache order")
	}
	return order, nil
}

func (c *CachedStore) UpdateOrder(ctx context.Context, id string, status model.OrderStatus, fields model.OrderFields) (*model.Order, error) {
	order, err := c.OrderStore.UpdateOrder(ctx, id, status, fields)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, order)
	return order, nil
}
