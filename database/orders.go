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
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jerry-enebeli/swapflow/internal/apierror"
	"github.com/jerry-enebeli/swapflow/model"
)

const orderColumns = `order_id, from_token, to_token, amount, status, selected_venue, output_amount, settlement_reference, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	order := model.Order{}
	var venue, reference sql.NullString
	var output decimal.NullDecimal

	err := row.Scan(
		&order.OrderID,
		&order.FromToken,
		&order.ToToken,
		&order.Amount,
		&order.Status,
		&venue,
		&output,
		&reference,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if venue.Valid {
		order.SelectedVenue = &venue.String
	}
	if output.Valid {
		order.OutputAmount = &output.Decimal
	}
	if reference.Valid {
		order.SettlementReference = &reference.String
	}
	return &order, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (d Datasource) clock() time.Time {
	if d.now == nil {
		return time.Now()
	}
	return d.now()
}

func (d Datasource) CreateOrder(ctx context.Context, pair model.TokenPair, amount decimal.Decimal) (*model.Order, error) {
	order := model.NewOrder(pair, amount, d.clock().UTC())

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO swapflow.orders (order_id, from_token, to_token, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.OrderID, order.FromToken, order.ToToken, order.Amount, order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Order with this ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create order", err)
	}

	return order, nil
}

func (d Datasource) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM swapflow.orders
		WHERE order_id = $1
	`, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Order not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}
	return order, nil
}

// UpdateOrder locks the order row for the duration of the merge, so
// concurrent updates of the same order serialize while other orders proceed.
func (d Datasource) UpdateOrder(ctx context.Context, id string, status model.OrderStatus, fields model.OrderFields) (*model.Order, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM swapflow.orders
		WHERE order_id = $1
		FOR UPDATE
	`, id)
	current, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Order not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}

	updated, err := model.ApplyUpdate(current, status, fields, d.clock().UTC())
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, err.Error(), err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE swapflow.orders
		SET status = $2, selected_venue = $3, output_amount = $4, settlement_reference = $5, updated_at = $6
		WHERE order_id = $1
	`, id, updated.Status, nullString(updated.SelectedVenue), nullDecimal(updated.OutputAmount), nullString(updated.SettlementReference), updated.UpdatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit order update", err)
	}
	return updated, nil
}

func (d Datasource) ListOrders(ctx context.Context) ([]*model.Order, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM swapflow.orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve orders", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (d Datasource) GetStaleOrders(ctx context.Context, status model.OrderStatus, olderThan time.Duration, limit int) ([]*model.Order, error) {
	cutoff := d.clock().UTC().Add(-olderThan)
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM swapflow.orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, status, cutoff, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale orders", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]*model.Order, error) {
	orders := []*model.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order data", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over orders", err)
	}
	return orders, nil
}
