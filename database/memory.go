package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jerry-enebeli/swapflow/internal/apierror"
	"github.com/jerry-enebeli/swapflow/model"
)

type memoryEntry struct {
	mu    sync.Mutex
	order *model.Order
}

// MemoryStore is an in-process OrderStore. Each order has its own lock, so
// writers touching different orders never wait on each other.
type MemoryStore struct {
	orders sync.Map // order id -> *memoryEntry
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) CreateOrder(_ context.Context, pair model.TokenPair, amount decimal.Decimal) (*model.Order, error) {
	order := model.NewOrder(pair, amount, m.now().UTC())
	if _, loaded := m.orders.LoadOrStore(order.OrderID, &memoryEntry{order: order.Clone()}); loaded {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Order with this ID already exists", nil)
	}
	return order, nil
}

func (m *MemoryStore) entry(id string) (*memoryEntry, error) {
	v, ok := m.orders.Load(id)
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Order not found", nil)
	}
	return v.(*memoryEntry), nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, id string, status model.OrderStatus, fields model.OrderFields) (*model.Order, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated, err := model.ApplyUpdate(e.order, status, fields, m.now().UTC())
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, err.Error(), err)
	}
	e.order = updated
	return updated.Clone(), nil
}

func (m *MemoryStore) snapshot(keep func(*model.Order) bool) []*model.Order {
	orders := []*model.Order{}
	m.orders.Range(func(_, v interface{}) bool {
		e := v.(*memoryEntry)
		e.mu.Lock()
		o := e.order.Clone()
		e.mu.Unlock()
		if keep(o) {
			orders = append(orders, o)
		}
		return true
	})
	return orders
}

func (m *MemoryStore) ListOrders(_ context.Context) ([]*model.Order, error) {
	orders := m.snapshot(func(*model.Order) bool { return true })
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].OrderID > orders[j].OrderID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (m *MemoryStore) GetStaleOrders(_ context.Context, status model.OrderStatus, olderThan time.Duration, limit int) ([]*model.Order, error) {
	cutoff := m.now().UTC().Add(-olderThan)
	orders := m.snapshot(func(o *model.Order) bool {
		return o.Status == status && o.UpdatedAt.Before(cutoff)
	})
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}
