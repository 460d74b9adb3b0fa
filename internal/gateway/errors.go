// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package gateway

import "errors"

// Admission error taxonomy. The HTTP layer maps these onto status codes:
// InvalidRequest 400, Backpressure and CircuitOpen 503 with Retry-After,
// Upstream 502.
var (
	// ErrInvalidRequest means the request failed schema or idempotency-key
	// validation. Never reaches the queue.
	ErrInvalidRequest = errors.New("gateway: invalid request")

	// ErrBackpressure means the in-flight cap is reached.
	ErrBackpressure = errors.New("gateway: too many in-flight publishes")

	// ErrCircuitOpen means the breaker is rejecting requests.
	ErrCircuitOpen = errors.New("gateway: circuit open")

	// ErrUpstream means the queue rejected the publish for a reason other
	// than deduplication.
	ErrUpstream = errors.New("gateway: upstream publish failed")
)
