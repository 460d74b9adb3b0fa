// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package models defines the wire and ledger types shared by the gateway,
// the write processors, and the status reader.
package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Table identifies a supported domain table.
type Table string

const (
	// TableUsers is the users domain table.
	TableUsers Table = "users"

	// TableOrders is the orders domain table.
	TableOrders Table = "orders"
)

// SupportedTables lists every table the pipeline accepts, in routing order.
var SupportedTables = []Table{TableUsers, TableOrders}

// Valid reports whether t names a supported table.
func (t Table) Valid() bool {
	switch t {
	case TableUsers, TableOrders:
		return true
	default:
		return false
	}
}

// String returns the table name.
func (t Table) String() string { return string(t) }

// Subject returns the queue subject carrying writes for this table.
func (t Table) Subject() string { return "writes." + string(t) }

// DLQSubject returns the dead-letter subject for this table.
func (t Table) DLQSubject() string { return "writes-dlq." + string(t) }

// Namespace returns the cache namespace invalidated by writes to this table.
// Namespaces currently map one-to-one onto tables.
func (t Table) Namespace() string { return string(t) }

// ParseTable converts a string into a Table, rejecting unknown names.
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if !t.Valid() {
		return "", fmt.Errorf("unsupported table %q", s)
	}
	return t, nil
}

// OpType is the kind of mutation an operation performs.
type OpType string

const (
	// OpCreate inserts a new domain row.
	OpCreate OpType = "create"

	// OpUpdate modifies an existing domain row.
	OpUpdate OpType = "update"

	// OpDelete removes a domain row.
	OpDelete OpType = "delete"
)

// Status is the lifecycle state of an operation in the ledger.
type Status string

const (
	// StatusPending means the operation has been admitted but not finished.
	StatusPending Status = "pending"

	// StatusCompleted means the domain write committed.
	StatusCompleted Status = "completed"

	// StatusFailed means the operation hit a non-retryable error.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is a terminal status.
// Once a ledger row reaches a terminal status it never transitions again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Operation is a row in the idempotency ledger.
//
// Invariants:
//   - OperationID is unique (it is the caller's idempotency key)
//   - CompletedAt is non-nil iff Status is terminal
//   - Error is non-nil iff Status is failed
type Operation struct {
	OperationID string     `db:"operation_id" json:"operation_id"`
	EntityTable Table      `db:"entity_table" json:"table,omitempty"`
	EntityID    string     `db:"entity_id" json:"entity_id,omitempty"`
	OpType      OpType     `db:"op_type" json:"op_type,omitempty"`
	Status      Status     `db:"status" json:"status"`
	Error       *string    `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// WriteRequest is the durable message published per logical operation.
// Data stays opaque to the queue and the protocol; only the table-specific
// domain insert interprets it.
type WriteRequest struct {
	OperationID string          `json:"operation_id"`
	Table       Table           `json:"table"`
	Data        json.RawMessage `json:"data"`
}

// Validate checks the structural invariants of a decoded WriteRequest.
func (r *WriteRequest) Validate() error {
	if _, err := uuid.Parse(r.OperationID); err != nil {
		return fmt.Errorf("operation_id %q is not a valid UUID: %w", r.OperationID, err)
	}
	if !r.Table.Valid() {
		return fmt.Errorf("unsupported table %q", r.Table)
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("data is required")
	}
	return nil
}

// EncodeWriteRequest serializes a WriteRequest for publication.
func EncodeWriteRequest(r *WriteRequest) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeWriteRequest deserializes and validates a WriteRequest payload.
func DecodeWriteRequest(payload []byte) (*WriteRequest, error) {
	var r WriteRequest
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode write request: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid write request: %w", err)
	}
	return &r, nil
}
