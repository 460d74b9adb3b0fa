// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package ledger

import (
	"context"
	"fmt"
)

// schema is the full DDL for the ledger and the domain tables.
// Applied idempotently at boot; dedicated migration tooling is out of
// scope for this service.
const schema = `
CREATE TABLE IF NOT EXISTS write_operations (
    operation_id UUID PRIMARY KEY,
    entity_table TEXT        NOT NULL,
    entity_id    UUID        NOT NULL,
    op_type      TEXT        NOT NULL,
    status       TEXT        NOT NULL DEFAULT 'pending',
    error        TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_write_operations_status_created
    ON write_operations (status, created_at);

CREATE TABLE IF NOT EXISTS users (
    user_id    UUID PRIMARY KEY,
    name       TEXT        NOT NULL,
    email      TEXT        NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
    order_id   UUID PRIMARY KEY,
    user_id    UUID           NOT NULL REFERENCES users (user_id) ON DELETE CASCADE,
    item       TEXT           NOT NULL,
    amount     NUMERIC(12, 2) NOT NULL CHECK (amount > 0),
    created_at TIMESTAMPTZ    NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders (user_id);
`

// EnsureSchema applies the DDL. Safe to run on every boot.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: apply schema: %w", err)
	}
	return nil
}
