// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package ledger persists the idempotency ledger in Postgres.
//
// The ledger's unique constraint on operation_id is the pipeline's only
// coordination primitive: the first processor to insert the pending row
// for an operation owns it, and every later delivery of the same
// operation short-circuits on the unique violation.
//
// Error classification is a safelist over Postgres SQLSTATE codes plus
// transport-level failures. Anything outside the safelist is treated as
// non-retryable and recorded as a terminal failure; matching on error
// message text is deliberately not done.
package ledger
