// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/writeflow-io/writeflow/internal/gateway"
	"github.com/writeflow-io/writeflow/internal/ledger"
	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/models"
)

// IdempotencyKeyHeader carries the caller-supplied idempotency key, which
// doubles as the operation ID and publish dedup ID.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodyBytes bounds write request bodies.
const maxBodyBytes = 1 << 20 // 1MB

// HealthChecker reports one dependency's liveness.
type HealthChecker func(ctx context.Context) error

// Handler carries the dependencies for the ingress endpoints.
type Handler struct {
	gw     *gateway.Gateway
	reader *ledger.StatusReader

	// checks run on /health, keyed by dependency name.
	checks map[string]HealthChecker
}

// NewHandler builds the ingress handler set. checks may be nil.
func NewHandler(gw *gateway.Gateway, reader *ledger.StatusReader, checks map[string]HealthChecker) (*Handler, error) {
	if gw == nil || reader == nil {
		return nil, errors.New("api: gateway and status reader required")
	}
	return &Handler{gw: gw, reader: reader, checks: checks}, nil
}

// SubmitWrite returns the POST handler for one table.
func (h *Handler) SubmitWrite(table models.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			respondError(w, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY",
				"Idempotency-Key header is required")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body unreadable or too large")
			return
		}

		ctx := logging.ContextWithOperationID(r.Context(), key)
		acc, err := h.gw.Submit(ctx, table, key, body)
		if err != nil {
			h.writeSubmitError(w, err)
			return
		}

		logging.Ctx(ctx).Info().Str("table", table.String()).Msg("Write accepted")
		writeJSON(w, http.StatusAccepted, acc)
	}
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, gateway.ErrBackpressure):
		respondRetryable(w, h.gw.RetryAfter(), "BACKPRESSURE", "too many in-flight writes, retry later")
	case errors.Is(err, gateway.ErrCircuitOpen):
		respondRetryable(w, h.gw.RetryAfter(), "CIRCUIT_OPEN", "ingress circuit open, retry later")
	default:
		respondError(w, http.StatusBadGateway, "UPSTREAM", "durable queue rejected the write")
	}
}

// Status handles GET /status/{operation_id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operation_id")

	op, err := h.reader.Status(r.Context(), operationID)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidOperationID) {
			respondError(w, http.StatusBadRequest, "INVALID_OPERATION_ID", "operation id must be a UUID")
			return
		}
		logging.Err(err).Str("operation_id", operationID).Msg("Status read failed")
		respondError(w, http.StatusInternalServerError, "STATUS_READ", "status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// healthResponse is the /health body: liveness plus admission metrics.
type healthResponse struct {
	Status              string            `json:"status"`
	InFlight            int64             `json:"in_flight"`
	CircuitState        string            `json:"circuit_state"`
	ConsecutiveFailures uint32            `json:"consecutive_failures"`
	Dependencies        map[string]string `json:"dependencies,omitempty"`
	CheckedAt           time.Time         `json:"checked_at"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:              "ok",
		InFlight:            h.gw.InFlight(),
		CircuitState:        h.gw.CircuitState(),
		ConsecutiveFailures: h.gw.ConsecutiveFailures(),
		CheckedAt:           time.Now().UTC(),
	}

	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Dependencies = make(map[string]string, len(h.checks))
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				resp.Dependencies[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			} else {
				resp.Dependencies[name] = "ok"
			}
		}
	}

	writeJSON(w, status, resp)
}
