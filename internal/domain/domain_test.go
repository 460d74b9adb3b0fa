// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package domain

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/writeflow-io/writeflow/internal/models"
)

func newMockTx(t *testing.T) (*sqlx.Tx, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	tx, err := sqlx.NewDb(db, "pgx").BeginTxx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx, mock
}

func TestHandlersCoverSupportedTables(t *testing.T) {
	handlers := Handlers()
	if len(handlers) != len(models.SupportedTables) {
		t.Fatalf("handlers = %d, want %d", len(handlers), len(models.SupportedTables))
	}
	for i, table := range models.SupportedTables {
		h := handlers[i]
		if h.Table != table {
			t.Errorf("handler %d table = %s, want %s", i, h.Table, table)
		}
		if h.Insert == nil {
			t.Errorf("handler %s has nil insert", h.Table)
		}
		if h.Durable == "" || h.Namespace == "" {
			t.Errorf("handler %s missing durable or namespace", h.Table)
		}
	}
}

func TestHandlerForUnknownTable(t *testing.T) {
	if _, err := HandlerFor(models.Table("payments")); err == nil {
		t.Error("expected error for unsupported table")
	}
}

func TestInsertUser(t *testing.T) {
	tx, mock := newMockTx(t)

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("0d9e8f7a-6b5c-4d3e-2f1a-0b9c8d7e6f5a", "Alice", "alice@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := insertUser(context.Background(), tx, "0d9e8f7a-6b5c-4d3e-2f1a-0b9c8d7e6f5a",
		[]byte(`{"name":"Alice","email":"alice@example.com"}`))
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertUserMalformedPayload(t *testing.T) {
	tx, _ := newMockTx(t)

	err := insertUser(context.Background(), tx, "0d9e8f7a-6b5c-4d3e-2f1a-0b9c8d7e6f5a", []byte(`{`))
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestInsertOrder(t *testing.T) {
	tx, mock := newMockTx(t)

	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("11111111-2222-4333-8444-555555555555", "0d9e8f7a-6b5c-4d3e-2f1a-0b9c8d7e6f5a", "widget", 9.99).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := insertOrder(context.Background(), tx, "11111111-2222-4333-8444-555555555555",
		[]byte(`{"userId":"0d9e8f7a-6b5c-4d3e-2f1a-0b9c8d7e6f5a","item":"widget","amount":9.99}`))
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
