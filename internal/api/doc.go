// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package api provides the HTTP ingress surface: write submission, status
// polling, health and metrics, and the operator endpoints for the
// dead-letter archive.
package api
