// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/writeflow-io/writeflow/internal/domain"
	"github.com/writeflow-io/writeflow/internal/ledger"
	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/metrics"
	"github.com/writeflow-io/writeflow/internal/models"
	"github.com/writeflow-io/writeflow/internal/queue"
)

// outcome is the terminal result of processing one delivered message.
type outcome string

const (
	outcomeCompleted    outcome = "completed"
	outcomeDuplicate    outcome = "duplicate"
	outcomeFailed       outcome = "failed"
	outcomeRetried      outcome = "retried"
	outcomeDeadLettered outcome = "dead_lettered"
	outcomeDecodeError  outcome = "decode_error"
)

// Invalidator is the cache capability the protocol needs: namespace-scoped
// invalidation after a committed write.
type Invalidator interface {
	InvalidateNamespace(ctx context.Context, namespace string) (int, error)
}

// Archiver stores routed dead letters locally for operator inspection and
// replay. Archival is best-effort; the DLQ stream is the durable copy.
type Archiver interface {
	Archive(ctx context.Context, dl *models.DeadLetter) error
}

// protocolDeps bundles everything the write protocol touches. All
// dependencies are explicit; the processor owns no ambient state.
type protocolDeps struct {
	handler  domain.TableHandler
	store    *ledger.Store
	keys     Invalidator
	dlq      queue.Publisher
	archive  Archiver
	nakDelay time.Duration
	maxDel   int
}

// process applies the write protocol to one delivered message and returns
// the terminal outcome taken. The message is always terminally disposed
// (acked or naked) before return.
func process(ctx context.Context, d protocolDeps, msg queue.Msg) outcome {
	start := time.Now()
	table := d.handler.Table.String()
	defer func() {
		metrics.ProcessorProtocolDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	}()

	req, err := models.DecodeWriteRequest(msg.Data())
	if err != nil {
		// Malformed payloads can only come from publishers outside the
		// gateway. There is no operation identity to record against.
		logging.Err(err).
			Str("subject", msg.Subject()).
			Msg("Undecodable write message, dropping")
		ackOrLog(msg, "decode error")
		metrics.ProcessorOutcomes.WithLabelValues(table, string(outcomeDecodeError)).Inc()
		return outcomeDecodeError
	}

	log := logging.Ctx(logging.ContextWithOperationID(ctx, req.OperationID))

	op := &models.Operation{
		OperationID: req.OperationID,
		EntityTable: req.Table,
		EntityID:    uuid.NewString(),
		OpType:      models.OpCreate,
		CreatedAt:   time.Now().UTC(),
	}

	err = applyTx(ctx, d, op, req)
	switch {
	case err == nil:
		invalidate(ctx, d, log)
		ackOrLog(msg, "completed")
		metrics.ProcessorOutcomes.WithLabelValues(table, string(outcomeCompleted)).Inc()
		log.Debug().Str("entity_id", op.EntityID).Msg("Write committed")
		return outcomeCompleted

	case errors.Is(err, ledger.ErrDuplicateOperation):
		log.Info().Msg("Duplicate operation, skip")
		ackOrLog(msg, "duplicate")
		metrics.ProcessorOutcomes.WithLabelValues(table, string(outcomeDuplicate)).Inc()
		return outcomeDuplicate

	case ledger.IsRetryable(err):
		metrics.ProcessorTxErrors.WithLabelValues(table, "retryable").Inc()
		if msg.NumDelivered() >= d.maxDel {
			return deadLetter(ctx, d, msg, req, err, log)
		}
		log.Warn().Err(err).
			Int("delivery", msg.NumDelivered()).
			Msg("Retryable write failure, requesting redelivery")
		if nakErr := msg.NakWithDelay(d.nakDelay); nakErr != nil {
			logging.Err(nakErr).Msg("Nak failed; ack deadline will trigger redelivery")
		}
		metrics.ProcessorOutcomes.WithLabelValues(table, string(outcomeRetried)).Inc()
		return outcomeRetried

	default:
		metrics.ProcessorTxErrors.WithLabelValues(table, "non_retryable").Inc()
		// The transaction is already rolled back; record the terminal
		// failure in a separate best-effort statement so the status reader
		// can observe it.
		if recErr := d.store.RecordFailure(ctx, op, err.Error(), time.Now().UTC()); recErr != nil {
			logging.Err(recErr).Str("operation_id", op.OperationID).Msg("Failed to record terminal failure")
		}
		log.Warn().Err(err).Msg("Non-retryable write failure recorded")
		ackOrLog(msg, "failed")
		metrics.ProcessorOutcomes.WithLabelValues(table, string(outcomeFailed)).Inc()
		return outcomeFailed
	}
}

// applyTx runs the transactional core of the protocol: pending insert,
// domain insert, completion, commit. Any error leaves the ledger untouched.
func applyTx(ctx context.Context, d protocolDeps, op *models.Operation, req *models.WriteRequest) error {
	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := d.store.InsertPending(ctx, tx, op); err != nil {
		return err
	}
	if err := d.handler.Insert(ctx, tx, op.EntityID, req.Data); err != nil {
		return err
	}
	if err := d.store.MarkCompleted(ctx, tx, op.OperationID, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op.OperationID, err)
	}
	return nil
}

// invalidate clears the table's cache namespace after a commit. Failures
// are logged only; the CDC consumer and entry TTLs reconverge the cache.
func invalidate(ctx context.Context, d protocolDeps, log *zerolog.Logger) {
	deleted, err := d.keys.InvalidateNamespace(ctx, d.handler.Namespace)
	if err != nil {
		metrics.KeystoreOpErrors.WithLabelValues("invalidate").Inc()
		log.Warn().Err(err).Str("namespace", d.handler.Namespace).Msg("Sync cache invalidation failed")
		return
	}
	if deleted > 0 {
		log.Debug().Int("deleted", deleted).Str("namespace", d.handler.Namespace).Msg("Cache namespace invalidated")
	}
}

// deadLetter routes a poison message to the DLQ stream, awaits the publish
// acknowledgement, archives a local copy, and only then acks the original.
// The ledger row is deliberately not touched: the likely cause is store
// unavailability, which would fail the recording too.
func deadLetter(ctx context.Context, d protocolDeps, msg queue.Msg, req *models.WriteRequest, cause error, log *zerolog.Logger) outcome {
	dl := &models.DeadLetter{
		OperationID: req.OperationID,
		Table:       req.Table,
		Subject:     msg.Subject(),
		Payload:     msg.Data(),
		Error:       cause.Error(),
		Deliveries:  msg.NumDelivered(),
		RoutedAt:    time.Now().UTC(),
	}
	payload, err := models.EncodeDeadLetter(dl)
	if err != nil {
		logging.Err(err).Msg("Encode dead letter failed; naking for another attempt")
		_ = msg.NakWithDelay(d.nakDelay)
		return outcomeRetried
	}

	if err := d.dlq.Publish(ctx, req.Table.DLQSubject(), req.OperationID, payload); err != nil {
		// Without a confirmed DLQ copy the original must stay on the
		// stream, even past the delivery budget.
		log.Error().Err(err).Msg("DLQ publish failed; leaving message for redelivery")
		_ = msg.NakWithDelay(d.nakDelay)
		return outcomeRetried
	}

	if d.archive != nil {
		if err := d.archive.Archive(ctx, dl); err != nil {
			log.Warn().Err(err).Msg("Dead letter archive write failed")
		}
	}

	ackOrLog(msg, "dead-lettered")
	table := d.handler.Table.String()
	metrics.DLQRouted.WithLabelValues(table).Inc()
	metrics.ProcessorOutcomes.WithLabelValues(table, string(outcomeDeadLettered)).Inc()
	log.Error().Err(cause).
		Int("deliveries", msg.NumDelivered()).
		Msg("Message dead-lettered after exhausting delivery budget")
	return outcomeDeadLettered
}

func ackOrLog(msg queue.Msg, what string) {
	if err := msg.Ack(); err != nil {
		logging.Err(err).Str("disposition", what).Msg("Ack failed; redelivery will hit the ledger pivot")
	}
}
