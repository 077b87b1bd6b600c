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
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle stage of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusRouting   OrderStatus = "routing"
	StatusBuilding  OrderStatus = "building"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"
)

// ErrInvalidTransition is returned when an update would skip a stage.
var ErrInvalidTransition = errors.New("invalid order status transition")

// stageRank orders the forward stages. Failed is out of band.
var stageRank = map[OrderStatus]int{
	StatusPending:   0,
	StatusRouting:   1,
	StatusBuilding:  2,
	StatusSubmitted: 3,
	StatusConfirmed: 4,
}

// IsValid reports whether s is a known status.
func (s OrderStatus) IsValid() bool {
	_, ok := stageRank[s]
	return ok || s == StatusFailed
}

// IsTerminal reports whether no further stage can follow s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// TokenPair is the from/to symbol pair of a swap.
type TokenPair struct {
	From string `json:"fromToken"`
	To   string `json:"toToken"`
}

func (p TokenPair) String() string {
	return p.From + "/" + p.To
}

// Order is the persisted state of a submitted swap.
type Order struct {
	OrderID             string           `json:"orderId"`
	FromToken           string           `json:"fromToken"`
	ToToken             string           `json:"toToken"`
	Amount              decimal.Decimal  `json:"amount"`
	Status              OrderStatus      `json:"status"`
	SelectedVenue       *string          `json:"selectedVenue,omitempty"`
	OutputAmount        *decimal.Decimal `json:"outputAmount,omitempty"`
	SettlementReference *string          `json:"settlementReference,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	if o.SelectedVenue != nil {
		v := *o.SelectedVenue
		c.SelectedVenue = &v
	}
	if o.OutputAmount != nil {
		v := *o.OutputAmount
		c.OutputAmount = &v
	}
	if o.SettlementReference != nil {
		v := *o.SettlementReference
		c.SettlementReference = &v
	}
	return &c
}

// Pair returns the token pair of the order.
func (o *Order) Pair() TokenPair {
	return TokenPair{From: o.FromToken, To: o.ToToken}
}

// OrderFields carries the optional fields set by a pipeline stage. Nil
// fields are left untouched.
type OrderFields struct {
	SelectedVenue       *string          `json:"selectedVenue,omitempty"`
	OutputAmount        *decimal.Decimal `json:"outputAmount,omitempty"`
	SettlementReference *string          `json:"settlementReference,omitempty"`
}

// IsEmpty reports whether no field is set.
func (f OrderFields) IsEmpty() bool {
	return f.SelectedVenue == nil && f.OutputAmount == nil && f.SettlementReference == nil
}

// NewOrder builds a pending order with a fresh id.
func NewOrder(pair TokenPair, amount decimal.Decimal, now time.Time) *Order {
	return &Order{
		OrderID:   GenerateUUIDWithSuffix("ord"),
		FromToken: pair.From,
		ToToken:   pair.To,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyUpdate merges a status change and stage fields into a copy of order.
//
// Status never moves backwards: an update naming an earlier or equal stage
// keeps the persisted one, which is what a retried job replaying its first
// stages produces. Skipping a stage is an error. Failed may be entered from
// any non-terminal stage. Optional fields are write-once. UpdatedAt is always
// refreshed.
func ApplyUpdate(order *Order, status OrderStatus, fields OrderFields, now time.Time) (*Order, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	updated := *order
	updated.UpdatedAt = now
	if order.Status.IsTerminal() {
		return &updated, nil
	}

	if status == StatusFailed {
		updated.Status = StatusFailed
	} else {
		current, next := stageRank[order.Status], stageRank[status]
		if next > current+1 {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
		}
		if next == current+1 {
			updated.Status = status
		}
	}

	if updated.SelectedVenue == nil && fields.SelectedVenue != nil {
		venue := *fields.SelectedVenue
		updated.SelectedVenue = &venue
	}
	if updated.OutputAmount == nil && fields.OutputAmount != nil {
		out := *fields.OutputAmount
		updated.OutputAmount = &out
	}
	if updated.SettlementReference == nil && fields.SettlementReference != nil {
		ref := *fields.SettlementReference
		updated.SettlementReference = &ref
	}
	return &updated, nil
}

// CreateOrderRequest is the submission input accepted by the service.
type CreateOrderRequest struct {
	FromToken string          `json:"fromToken"`
	ToToken   string          `json:"toToken"`
	Amount    decimal.Decimal `json:"amount"`
}

func positiveAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid type for amount")
	}
	if !amount.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

// Validate rejects an empty token on either side and a non-positive amount.
func (r *CreateOrderRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.FromToken, validation.Required),
		validation.Field(&r.ToToken, validation.Required),
		validation.Field(&r.Amount, validation.By(positiveAmount)),
	)
}

// OrderJob is the queue payload for one order. It carries everything needed
// to execute without re-reading the store.
type OrderJob struct {
	OrderID   string          `json:"orderId"`
	FromToken string          `json:"fromToken"`
	ToToken   string          `json:"toToken"`
	Amount    decimal.Decimal `json:"amount"`
}

func (j OrderJob) Pair() TokenPair {
	return TokenPair{From: j.FromToken, To: j.ToToken}
}
