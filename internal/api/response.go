// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/writeflow-io/writeflow/internal/logging"
)

// APIError is the wire shape of an error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorEnvelope wraps an APIError for the response body.
type errorEnvelope struct {
	Error APIError `json:"error"`
}

// writeJSON encodes data as JSON with the given status. Encoding failures
// are logged only; headers are already sent.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// respondError sends an error envelope.
func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: APIError{Code: code, Message: message}})
}

// respondRetryable sends a 503 with Retry-After advice.
func respondRetryable(w http.ResponseWriter, retryAfter time.Duration, code, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	respondError(w, http.StatusServiceUnavailable, code, message)
}
