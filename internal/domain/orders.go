// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package domain

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/writeflow-io/writeflow/internal/models"
)

// insertOrder writes one orders row. A dangling user_id surfaces as a
// foreign-key violation, which the protocol records as a terminal failure.
func insertOrder(ctx context.Context, tx *sqlx.Tx, entityID string, data json.RawMessage) error {
	var in models.OrderInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("orders: decode payload: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, user_id, item, amount)
		VALUES ($1, $2, $3, $4)`,
		entityID, in.UserID, in.Item, in.Amount,
	)
	if err != nil {
		return fmt.Errorf("orders: insert %s: %w", entityID, err)
	}
	return nil
}
