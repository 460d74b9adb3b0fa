// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package gateway implements ingress admission control and durable
// publication.
//
// A request is admitted when the in-flight publish count is under the cap
// and the circuit breaker allows it; it is then published to the write
// stream with the idempotency key as the dedup message ID. The gateway
// owns no persistent state — its counters and breaker are the only
// process-wide mutables, and both are updated without holding across I/O.
package gateway
