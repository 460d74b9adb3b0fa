// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package queue

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed publisher or consumer.
var ErrClosed = errors.New("queue: closed")

func errEmpty(field string) error {
	return fmt.Errorf("queue: %s is required", field)
}

func errValue(msg string) error {
	return fmt.Errorf("queue: %s", msg)
}
