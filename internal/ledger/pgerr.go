// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the processor may retry. The set is a closed safelist:
// an unclassified error is non-retryable and fails fast rather than
// looping on a write that will never succeed.
var retryableSQLStates = map[string]struct{}{
	// Class 08 - connection exceptions
	"08000": {}, // connection_exception
	"08001": {}, // sqlclient_unable_to_establish_sqlconnection
	"08003": {}, // connection_does_not_exist
	"08004": {}, // sqlserver_rejected_establishment_of_sqlconnection
	"08006": {}, // connection_failure
	"08007": {}, // transaction_resolution_unknown
	"08P01": {}, // protocol_violation
	// Class 40 - transaction rollback
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	// Class 53 - insufficient resources
	"53300": {}, // too_many_connections
	// Class 57 - operator intervention
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
}

// uniqueViolation is SQLSTATE 23505.
const uniqueViolation = "23505"

// IsRetryable classifies a store error. Retryable errors are transient
// infrastructure conditions; naking the message and letting the queue
// redeliver is the correct response. Everything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryableSQLStates[pgErr.Code]
		return ok
	}

	// Transport failures never reach the server, so there is no SQLSTATE.
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	return false
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. On the ledger's pending insert this is the idempotency pivot;
// on domain columns it is an ordinary non-retryable failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
