// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DeadLetter is the record published to the dead-letter stream when a
// message exhausts its delivery budget. It carries everything an operator
// needs to diagnose and replay: the original subject and payload, the last
// error, and the delivery count at routing time.
type DeadLetter struct {
	OperationID string          `json:"operation_id"`
	Table       Table           `json:"table"`
	Subject     string          `json:"subject"`
	Payload     json.RawMessage `json:"payload"`
	Error       string          `json:"error"`
	Deliveries  int             `json:"deliveries"`
	RoutedAt    time.Time       `json:"routed_at"`
}

// EncodeDeadLetter serializes a DeadLetter for publication and archival.
func EncodeDeadLetter(dl *DeadLetter) ([]byte, error) {
	return json.Marshal(dl)
}

// DecodeDeadLetter deserializes a DeadLetter record.
func DecodeDeadLetter(payload []byte) (*DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(payload, &dl); err != nil {
		return nil, fmt.Errorf("decode dead letter: %w", err)
	}
	if dl.OperationID == "" {
		return nil, fmt.Errorf("dead letter missing operation_id")
	}
	return &dl, nil
}
