// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys for logging.
type contextKey string

const (
	// requestIDKey is the context key for HTTP request IDs.
	requestIDKey contextKey = "request_id"

	// operationIDKey is the context key for write-operation IDs.
	// The operation ID doubles as the idempotency key, so having it on every
	// log line lets an operator follow one logical write through the gateway,
	// the queue, and the processor.
	operationIDKey contextKey = "operation_id"
)

// GenerateRequestID creates a new unique request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithOperationID returns a new context carrying the operation ID.
func ContextWithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// OperationIDFromContext retrieves the operation ID from context.
// Returns empty string if not present.
func OperationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(operationIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with context values (request_id, operation_id)
// automatically added. This is the recommended way to log in handlers
// and consumer loops.
//
//	logging.Ctx(ctx).Info().Msg("operation accepted")
func Ctx(ctx context.Context) *zerolog.Logger {
	logger := Logger()

	logCtx := logger.With()
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logCtx = logCtx.Str("request_id", requestID)
	}
	if operationID := OperationIDFromContext(ctx); operationID != "" {
		logCtx = logCtx.Str("operation_id", operationID)
	}

	contextLogger := logCtx.Logger()
	return &contextLogger
}
