// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package processor runs the per-table write consumers.
//
// Each processor is a durable pull consumer on the WRITES stream, filtered
// to its table's subject. Every delivered message runs the write protocol
// and produces exactly one terminal outcome: ack (completed, duplicate,
// terminal failure, or decode error), nak-with-delay (retryable error with
// delivery budget remaining), or DLQ-route-then-ack (retryable error on the
// final delivery).
//
// The protocol's single transaction holds the idempotency pivot: the
// pending ledger insert either claims the operation or short-circuits on
// the unique violation left by an earlier delivery.
package processor
