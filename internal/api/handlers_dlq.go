// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/writeflow-io/writeflow/internal/dlqstore"
	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/models"
)

// DLQHandlers exposes the dead-letter archive to operators.
type DLQHandlers struct {
	store    *dlqstore.Store
	replayer *dlqstore.Replayer
}

// NewDLQHandlers builds the operator handler set.
func NewDLQHandlers(store *dlqstore.Store, replayer *dlqstore.Replayer) (*DLQHandlers, error) {
	if store == nil || replayer == nil {
		return nil, errors.New("api: dlq store and replayer required")
	}
	return &DLQHandlers{store: store, replayer: replayer}, nil
}

// dlqListResponse is the archive listing body.
type dlqListResponse struct {
	Entries []*models.DeadLetter `json:"entries"`
	Total   int                  `json:"total"`
}

// replayResponse reports a replay action.
type replayResponse struct {
	Replayed int `json:"replayed"`
}

// List handles GET /admin/dlq.
func (h *DLQHandlers) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		logging.Err(err).Msg("DLQ archive list failed")
		respondError(w, http.StatusInternalServerError, "DLQ_LIST", "archive listing failed")
		return
	}
	if entries == nil {
		entries = []*models.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, dlqListResponse{Entries: entries, Total: len(entries)})
}

// Get handles GET /admin/dlq/{operation_id}.
func (h *DLQHandlers) Get(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operation_id")

	dl, err := h.store.Get(r.Context(), operationID)
	if errors.Is(err, dlqstore.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no archived dead letter for that operation")
		return
	}
	if err != nil {
		logging.Err(err).Str("operation_id", operationID).Msg("DLQ archive read failed")
		respondError(w, http.StatusInternalServerError, "DLQ_GET", "archive read failed")
		return
	}
	writeJSON(w, http.StatusOK, dl)
}

// Delete handles DELETE /admin/dlq/{operation_id}.
func (h *DLQHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operation_id")

	err := h.store.Delete(r.Context(), operationID)
	if errors.Is(err, dlqstore.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no archived dead letter for that operation")
		return
	}
	if err != nil {
		logging.Err(err).Str("operation_id", operationID).Msg("DLQ archive delete failed")
		respondError(w, http.StatusInternalServerError, "DLQ_DELETE", "archive delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Replay handles POST /admin/dlq/{operation_id}/replay. The replayed
// message goes back to its original write subject; the ledger pivot keeps
// already-completed operations idempotent.
func (h *DLQHandlers) Replay(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operation_id")

	dl, err := h.replayer.ReplayOne(r.Context(), operationID)
	if errors.Is(err, dlqstore.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no archived dead letter for that operation")
		return
	}
	if err != nil {
		logging.Err(err).Str("operation_id", operationID).Msg("DLQ replay failed")
		respondError(w, http.StatusBadGateway, "DLQ_REPLAY", "replay publish failed")
		return
	}

	logging.Info().
		Str("operation_id", dl.OperationID).
		Str("table", dl.Table.String()).
		Msg("Dead letter replayed by operator")
	writeJSON(w, http.StatusOK, replayResponse{Replayed: 1})
}

// ReplayAll handles POST /admin/dlq/replay. Bulk replay is throttled by
// the replayer's rate limiter.
func (h *DLQHandlers) ReplayAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.replayer.ReplayAll(r.Context())
	if err != nil {
		logging.Err(err).Int("replayed", n).Msg("Bulk DLQ replay stopped early")
		respondError(w, http.StatusBadGateway, "DLQ_REPLAY", "bulk replay stopped early")
		return
	}
	writeJSON(w, http.StatusOK, replayResponse{Replayed: n})
}
