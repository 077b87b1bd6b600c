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

package model

import (
	"github.com/shopspring/decimal"

	"github.com/jerry-enebeli/swapflow/model"
)

type CreateOrder struct {
	FromToken string          `json:"fromToken"`
	ToToken   string          `json:"toToken"`
	Amount    decimal.Decimal `json:"amount"`
}

type OrderCreated struct {
	OrderID string            `json:"orderId"`
	Status  model.OrderStatus `json:"status"`
}

// ValidateCreateOrder applies the same rules the service enforces on
// submission.
func (o *CreateOrder) ValidateCreateOrder() error {
	req := o.ToCreateOrderRequest()
	return req.Validate()
}

func (o *CreateOrder) ToCreateOrderRequest() model.CreateOrderRequest {
	return model.CreateOrderRequest{FromToken: o.FromToken, ToToken: o.ToToken, Amount: o.Amount}
}

func ToOrderCreated(order *model.Order) OrderCreated {
	return OrderCreated{OrderID: order.OrderID, Status: order.Status}
}
