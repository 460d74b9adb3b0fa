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

// insertUser writes one users row. The payload was schema-validated at the
// ingress; decoding here guards against malformed messages published
// outside the gateway.
func insertUser(ctx context.Context, tx *sqlx.Tx, entityID string, data json.RawMessage) error {
	var in models.UserInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("users: decode payload: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (user_id, name, email)
		VALUES ($1, $2, $3)`,
		entityID, in.Name, in.Email,
	)
	if err != nil {
		return fmt.Errorf("users: insert %s: %w", entityID, err)
	}
	return nil
}
