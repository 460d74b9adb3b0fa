// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package dlqstore

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/metrics"
	"github.com/writeflow-io/writeflow/internal/models"
	"github.com/writeflow-io/writeflow/internal/queue"
)

// Replayer re-publishes archived dead letters onto their original write
// subjects. Replay is idempotent end to end: the ledger pivot absorbs
// operations that already reached a terminal state, and the publish dedup
// ID absorbs double replays inside the window.
type Replayer struct {
	store   *Store
	pub     queue.Publisher
	limiter *rate.Limiter
}

// NewReplayer builds a replayer. ratePerSec throttles bulk replay so an
// operator draining a large archive cannot flood the write stream.
func NewReplayer(store *Store, pub queue.Publisher, ratePerSec float64, burst int) (*Replayer, error) {
	if store == nil || pub == nil {
		return nil, fmt.Errorf("dlqstore: store and publisher required")
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &Replayer{
		store:   store,
		pub:     pub,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}, nil
}

// ReplayOne re-publishes a single archived entry and removes it from the
// archive on success.
func (r *Replayer) ReplayOne(ctx context.Context, operationID string) (*models.DeadLetter, error) {
	dl, err := r.store.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := r.publish(ctx, dl); err != nil {
		return nil, err
	}

	if err := r.store.Delete(ctx, operationID); err != nil {
		logging.Err(err).Str("operation_id", operationID).Msg("Replayed entry could not be removed from archive")
	}
	return dl, nil
}

// ReplayAll drains the archive, throttled by the limiter. Returns the
// number of entries replayed; stops at the first publish error so the
// remaining archive stays intact.
func (r *Replayer) ReplayAll(ctx context.Context) (int, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, dl := range entries {
		if err := r.limiter.Wait(ctx); err != nil {
			return replayed, err
		}
		if err := r.publish(ctx, dl); err != nil {
			return replayed, fmt.Errorf("dlqstore: replay %s: %w", dl.OperationID, err)
		}
		if err := r.store.Delete(ctx, dl.OperationID); err != nil {
			logging.Err(err).Str("operation_id", dl.OperationID).Msg("Replayed entry could not be removed from archive")
		}
		replayed++
	}
	return replayed, nil
}

func (r *Replayer) publish(ctx context.Context, dl *models.DeadLetter) error {
	if err := r.pub.Publish(ctx, dl.Table.Subject(), dl.OperationID, dl.Payload); err != nil {
		return err
	}
	metrics.DLQReplayed.WithLabelValues(dl.Table.String()).Inc()
	logging.Info().
		Str("operation_id", dl.OperationID).
		Str("table", dl.Table.String()).
		Time("routed_at", dl.RoutedAt).
		Msg("Dead letter replayed")
	return nil
}
