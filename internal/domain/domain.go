// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package domain defines the per-table write capabilities consumed by the
// write processors. Each table is a plain TableHandler value bundling its
// identity, queue wiring, and domain insert; the write protocol itself
// lives in the processor and is parameterized by a handler.
package domain

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/writeflow-io/writeflow/internal/models"
)

// InsertFunc applies one validated domain insert inside tx. entityID is
// the processor-allocated primary key for the new row.
type InsertFunc func(ctx context.Context, tx *sqlx.Tx, entityID string, data json.RawMessage) error

// TableHandler is the capability set for one supported table.
type TableHandler struct {
	// Table identifies the domain table.
	Table models.Table

	// Durable is the queue consumer's durable name.
	Durable string

	// Namespace is the cache namespace invalidated after a committed write.
	Namespace string

	// Insert performs the table's domain insert.
	Insert InsertFunc
}

// Handlers returns one handler per supported table, in routing order.
func Handlers() []TableHandler {
	return []TableHandler{
		{
			Table:     models.TableUsers,
			Durable:   "wp-users",
			Namespace: models.TableUsers.Namespace(),
			Insert:    insertUser,
		},
		{
			Table:     models.TableOrders,
			Durable:   "wp-orders",
			Namespace: models.TableOrders.Namespace(),
			Insert:    insertOrder,
		},
	}
}

// HandlerFor returns the handler for table.
func HandlerFor(table models.Table) (TableHandler, error) {
	for _, h := range Handlers() {
		if h.Table == table {
			return h, nil
		}
	}
	return TableHandler{}, fmt.Errorf("domain: no handler for table %q", table)
}
