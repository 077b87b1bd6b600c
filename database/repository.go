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

package database

import (
	"context"
	"time"

	"github.com/jerry-enebeli/swapflow/model"
	"github.com/shopspring/decimal"
)

// OrderStore is the durable record of orders. Implementations must serialize
// writes per order id without locking unrelated orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, pair model.TokenPair, amount decimal.Decimal) (*model.Order, error)                         // Creates a pending order
	GetOrder(ctx context.Context, id string) (*model.Order, error)                                                               // Retrieves an order by ID
	UpdateOrder(ctx context.Context, id string, status model.OrderStatus, fields model.OrderFields) (*model.Order, error)        // Merges a stage transition into an order
	ListOrders(ctx context.Context) ([]*model.Order, error)                                                                      // Retrieves all orders, newest first
	GetStaleOrders(ctx context.Context, status model.OrderStatus, olderThan time.Duration, limit int) ([]*model.Order, error) // Retrieves orders idle in a status
}
