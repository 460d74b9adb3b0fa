// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package queue integrates Writeflow with NATS JetStream.
//
// It owns stream provisioning (WRITES and WRITES_DLQ), the resilient
// publisher used by the gateway and the dead-letter path, the durable
// consumer factory used by the write processors and the CDC consumer,
// and the optional embedded NATS server for single-binary deployments.
//
// The package exposes messages through the Msg interface rather than
// jetstream.Msg directly so that the write protocol and the CDC fan-in
// can be tested without a running server.
package queue
