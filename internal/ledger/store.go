// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	"github.com/jmoiron/sqlx"

	"github.com/writeflow-io/writeflow/internal/models"
)

// Sentinel errors.
var (
	// ErrDuplicateOperation is returned when the pending insert hits the
	// operation_id unique constraint, i.e. the operation was already claimed.
	ErrDuplicateOperation = errors.New("ledger: duplicate operation")

	// ErrNotFound is returned when the ledger has no row for an operation.
	ErrNotFound = errors.New("ledger: operation not found")
)

// Config holds relational store configuration.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int

	// MaxIdleConns bounds idle pooled connections.
	MaxIdleConns int

	// ConnMaxLifetime recycles connections after this duration.
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns pool defaults sized for one processor replica.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    16,
		MaxIdleConns:    8,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store wraps the Postgres connection pool for ledger and domain writes.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres via the pgx stdlib driver and verifies
// connectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger: DSN is required")
	}

	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "pgx")}
}

// BeginTx opens a transaction for the write protocol.
func (s *Store) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	return tx, nil
}

// InsertPending inserts the pending ledger row inside tx. This is the
// idempotency pivot: a unique violation means another delivery already
// claimed the operation, reported as ErrDuplicateOperation.
func (s *Store) InsertPending(ctx context.Context, tx *sqlx.Tx, op *models.Operation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO write_operations (operation_id, entity_table, entity_id, op_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		op.OperationID, op.EntityTable, op.EntityID, op.OpType, models.StatusPending, op.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicateOperation
		}
		return fmt.Errorf("ledger: insert pending %s: %w", op.OperationID, err)
	}
	return nil
}

// MarkCompleted transitions the operation to completed inside tx. It runs
// in the same transaction as the domain insert, so no observer ever sees a
// completed status without the domain row.
func (s *Store) MarkCompleted(ctx context.Context, tx *sqlx.Tx, operationID string, completedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE write_operations
		   SET status = $1, completed_at = $2
		 WHERE operation_id = $3 AND status = $4`,
		models.StatusCompleted, completedAt, operationID, models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("ledger: mark completed %s: %w", operationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: mark completed %s: rows affected: %w", operationID, err)
	}
	if n != 1 {
		return fmt.Errorf("ledger: mark completed %s: expected 1 row, got %d", operationID, n)
	}
	return nil
}

// RecordFailure upserts a terminal failed row for the operation. It runs
// outside any transaction, after the protocol's rollback, so the failure
// stays observable even though the domain row does not exist.
//
// The status guard keeps terminal rows monotonic: an existing completed or
// failed row is never overwritten.
func (s *Store) RecordFailure(ctx context.Context, op *models.Operation, errMsg string, failedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO write_operations (operation_id, entity_table, entity_id, op_type, status, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (operation_id) DO UPDATE
		   SET status = EXCLUDED.status,
		       error = EXCLUDED.error,
		       completed_at = EXCLUDED.completed_at
		 WHERE write_operations.status = $9`,
		op.OperationID, op.EntityTable, op.EntityID, op.OpType,
		models.StatusFailed, errMsg, op.CreatedAt, failedAt,
		models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("ledger: record failure %s: %w", op.OperationID, err)
	}
	return nil
}

// GetOperation fetches one ledger row. Returns ErrNotFound when absent.
func (s *Store) GetOperation(ctx context.Context, operationID string) (*models.Operation, error) {
	var op models.Operation
	err := s.db.GetContext(ctx, &op, `
		SELECT operation_id, entity_table, entity_id, op_type, status, error, created_at, completed_at
		  FROM write_operations
		 WHERE operation_id = $1`,
		operationID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get operation %s: %w", operationID, err)
	}
	return &op, nil
}

// SweepStalePending promotes pending rows older than cutoff to failed.
// Used by the background sweeper for operations whose final delivery was
// dead-lettered before reaching a terminal state.
func (s *Store) SweepStalePending(ctx context.Context, cutoff, failedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE write_operations
		   SET status = $1, error = $2, completed_at = $3
		 WHERE status = $4 AND created_at < $5`,
		models.StatusFailed, "stale pending operation exceeded grace period", failedAt,
		models.StatusPending, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: sweep stale pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: sweep stale pending: rows affected: %w", err)
	}
	return n, nil
}

// Ping verifies store connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
