// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package models

import (
	"bytes"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// validate is the shared validator instance. validator.Validate is
// goroutine-safe and caches struct metadata, so one instance serves
// the whole process.
var validate = validator.New(validator.WithRequiredStructEnabled())

// UserInput is the ingress schema for the users table.
type UserInput struct {
	Name  string `json:"name" validate:"required,min=1,max=255"`
	Email string `json:"email" validate:"required,email,max=320"`
}

// OrderInput is the ingress schema for the orders table.
// UserID references users.user_id; a dangling reference surfaces later as a
// foreign-key violation inside the processor's transaction.
type OrderInput struct {
	UserID string  `json:"userId" validate:"required,uuid4"`
	Item   string  `json:"item" validate:"required,min=1,max=512"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// ValidatePayload decodes raw into the input schema for table and runs
// field validation. The gateway calls this before admitting a request; the
// processor trusts the payload after this point and treats it as opaque.
func ValidatePayload(table Table, raw json.RawMessage) error {
	switch table {
	case TableUsers:
		var in UserInput
		return decodeAndValidate(raw, &in)
	case TableOrders:
		var in OrderInput
		return decodeAndValidate(raw, &in)
	default:
		return fmt.Errorf("unsupported table %q", table)
	}
}

func decodeAndValidate(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	return nil
}
