// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package models

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func TestParseTable(t *testing.T) {
	tests := []struct {
		input   string
		want    Table
		wantErr bool
	}{
		{"users", TableUsers, false},
		{"orders", TableOrders, false},
		{"payments", "", true},
		{"", "", true},
		{"Users", "", true},
	}

	for _, tt := range tests {
		got, err := ParseTable(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTable(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTable(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTableSubjects(t *testing.T) {
	if got := TableUsers.Subject(); got != "writes.users" {
		t.Errorf("Subject() = %q, want writes.users", got)
	}
	if got := TableOrders.DLQSubject(); got != "writes-dlq.orders" {
		t.Errorf("DLQSubject() = %q, want writes-dlq.orders", got)
	}
	if got := TableUsers.Namespace(); got != "users" {
		t.Errorf("Namespace() = %q, want users", got)
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Error("pending must not be terminal")
	}
	if !StatusCompleted.Terminal() {
		t.Error("completed must be terminal")
	}
	if !StatusFailed.Terminal() {
		t.Error("failed must be terminal")
	}
}

func TestWriteRequestRoundTrip(t *testing.T) {
	req := &WriteRequest{
		OperationID: uuid.New().String(),
		Table:       TableUsers,
		Data:        json.RawMessage(`{"name":"Alice","email":"a@x.dev"}`),
	}

	payload, err := EncodeWriteRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeWriteRequest(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	reencoded, err := EncodeWriteRequest(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(payload, reencoded) {
		t.Errorf("round-trip mismatch:\n first = %s\nsecond = %s", payload, reencoded)
	}
	if decoded.OperationID != req.OperationID {
		t.Errorf("operation_id = %q, want %q", decoded.OperationID, req.OperationID)
	}
}

func TestDecodeWriteRequestRejections(t *testing.T) {
	valid := uuid.New().String()

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"operation_id":`},
		{"bad operation id", `{"operation_id":"not-a-uuid","table":"users","data":{"a":1}}`},
		{"unknown table", `{"operation_id":"` + valid + `","table":"widgets","data":{"a":1}}`},
		{"missing data", `{"operation_id":"` + valid + `","table":"users"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeWriteRequest([]byte(tt.payload)); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestValidatePayload(t *testing.T) {
	userID := uuid.New().String()

	tests := []struct {
		name    string
		table   Table
		raw     string
		wantErr bool
	}{
		{"valid user", TableUsers, `{"name":"Alice","email":"a@x.dev"}`, false},
		{"user missing email", TableUsers, `{"name":"Alice"}`, true},
		{"user bad email", TableUsers, `{"name":"Alice","email":"nope"}`, true},
		{"user unknown field", TableUsers, `{"name":"Alice","email":"a@x.dev","role":"admin"}`, true},
		{"valid order", TableOrders, `{"userId":"` + userID + `","item":"book","amount":9.5}`, false},
		{"order bad user id", TableOrders, `{"userId":"123","item":"book","amount":9.5}`, true},
		{"order zero amount", TableOrders, `{"userId":"` + userID + `","item":"book","amount":0}`, true},
		{"unsupported table", Table("widgets"), `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.table, json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePayload(%s) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}
