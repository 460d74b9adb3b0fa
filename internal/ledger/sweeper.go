// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/metrics"
)

// SweeperConfig controls the stale-pending sweeper.
type SweeperConfig struct {
	// Enabled turns the sweeper on. Off by default: pending rows without a
	// terminal outcome normally mean the operation is still in flight.
	Enabled bool

	// Interval is how often the sweep runs.
	Interval time.Duration

	// GracePeriod is how old a pending row must be before it is promoted
	// to failed. Must comfortably exceed the queue's maximum redelivery
	// horizon or the sweeper races live deliveries.
	GracePeriod time.Duration
}

// DefaultSweeperConfig returns the sweeper defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:     false,
		Interval:    5 * time.Minute,
		GracePeriod: time.Hour,
	}
}

// Validate checks sweeper configuration bounds.
func (c SweeperConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return fmt.Errorf("sweeper: interval must be positive, got %v", c.Interval)
	}
	if c.GracePeriod < 10*time.Minute {
		return fmt.Errorf("sweeper: grace period %v is below the 10m redelivery horizon", c.GracePeriod)
	}
	return nil
}

// Sweeper periodically promotes stale pending ledger rows to failed.
// It runs as a supervised service.
type Sweeper struct {
	store *Store
	cfg   SweeperConfig
}

// NewSweeper builds a sweeper over store.
func NewSweeper(store *Store, cfg SweeperConfig) (*Sweeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sweeper{store: store, cfg: cfg}, nil
}

// Serve runs the sweep loop until ctx is cancelled. Implements
// suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	logging.Info().
		Dur("interval", s.cfg.Interval).
		Dur("grace_period", s.cfg.GracePeriod).
		Msg("Ledger sweeper started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-s.cfg.GracePeriod)

	swept, err := s.store.SweepStalePending(ctx, cutoff, now)
	if err != nil {
		logging.Err(err).Msg("Ledger sweep failed")
		return
	}
	if swept > 0 {
		metrics.LedgerSweptPending.Add(float64(swept))
		logging.Warn().
			Int64("swept", swept).
			Time("cutoff", cutoff).
			Msg("Promoted stale pending operations to failed")
	}
}

// String names the service in supervisor logs.
func (s *Sweeper) String() string { return "ledger-sweeper" }
