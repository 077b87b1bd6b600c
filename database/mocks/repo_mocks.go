/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/jerry-enebeli/swapflow/model"
)

// MockOrderStore is a mock implementation of the database.OrderStore interface
type MockOrderStore struct {
	mock.Mock
}

func orderOrNil(v interface{}) *model.Order {
	if v == nil {
		return nil
	}
	return v.(*model.Order)
}

func (m *MockOrderStore) CreateOrder(ctx context.Context, pair model.TokenPair, amount decimal.Decimal) (*model.Order, error) {
	args := m.Called(ctx, pair, amount)
	return orderOrNil(args.Get(0)), args.Error(1)
}

func (m *MockOrderStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	args := m.Called(ctx, id)
	return orderOrNil(args.Get(0)), args.Error(1)
}

func (m *MockOrderStore) UpdateOrder(ctx context.Context, id string, status model.OrderStatus, fields model.OrderFields) (*model.Order, error) {
	args := m.Called(ctx, id, status, fields)
	return orderOrNil(args.Get(0)), args.Error(1)
}

func (m *MockOrderStore) ListOrders(ctx context.Context) ([]*model.Order, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockOrderStore) GetStaleOrders(ctx context.Context, status model.OrderStatus, olderThan time.Duration, limit int) ([]*model.Order, error) {
	args := m.Called(ctx, status, olderThan, limit)
	return args.Get(0).([]*model.Order), args.Error(1)
}
