// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/writeflow-io/writeflow/internal/models"
)

// ErrInvalidOperationID is returned by the reader for malformed IDs.
var ErrInvalidOperationID = errors.New("ledger: operation id is not a valid UUID")

// StatusReader answers status queries against the ledger.
//
// An operation that was accepted by the gateway but whose pending row has
// not landed yet is indistinguishable from one still queued, so a missing
// row reads as pending rather than not-found. Callers holding an ID the
// gateway never issued get a pending answer too; that is the accepted cost
// of not making the read path depend on the queue.
type StatusReader struct {
	store *Store
}

// NewStatusReader builds a reader over store.
func NewStatusReader(store *Store) *StatusReader {
	return &StatusReader{store: store}
}

// Status returns the current view of one operation.
func (r *StatusReader) Status(ctx context.Context, operationID string) (*models.Operation, error) {
	if _, err := uuid.Parse(operationID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperationID, operationID)
	}

	op, err := r.store.GetOperation(ctx, operationID)
	if errors.Is(err, ErrNotFound) {
		return &models.Operation{
			OperationID: operationID,
			Status:      models.StatusPending,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}
