// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package cdc consumes change-data-capture events from the database's
// logical replication feed and turns them into cache namespace
// invalidations.
//
// The consumer is the reconciliation path for the processor's best-effort
// sync invalidation: any write that reaches the database eventually
// produces a CDC event, and invalidations are idempotent, so delivering
// from the stream start on first creation is safe.
package cdc

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/metrics"
	"github.com/writeflow-io/writeflow/internal/models"
	"github.com/writeflow-io/writeflow/internal/queue"
)

// Debezium-style op codes.
const (
	opCreate   = "c"
	opUpdate   = "u"
	opDelete   = "d"
	opSnapshot = "r"
)

// Event is one row-change event from the replication feed.
type Event struct {
	// Op is the change kind: c, u, d, or r (initial snapshot).
	Op string `json:"op"`

	// Table is the source table name.
	Table string `json:"table"`

	// Keys carries the primary-key column values of the changed row.
	Keys map[string]json.RawMessage `json:"keys"`

	// SourceTSMillis is the source commit timestamp in Unix milliseconds.
	SourceTSMillis int64 `json:"ts_ms"`
}

// Invalidator is the cache capability the consumer needs.
type Invalidator interface {
	InvalidateNamespace(ctx context.Context, namespace string) (int, error)
}

// Config controls the CDC consumer.
type Config struct {
	// Durable is the durable consumer name.
	Durable string

	// AckWait is the ack deadline.
	AckWait time.Duration

	// MaxDeliver bounds redelivery of events whose invalidation keeps
	// failing. Exhaustion is tolerable: entry TTLs bound the staleness.
	MaxDeliver int

	// NakDelay is the redelivery backoff on transient failure.
	NakDelay time.Duration

	// FetchBatch is how many events one pull requests.
	FetchBatch int

	// FetchMaxWait bounds how long an unfilled pull blocks.
	FetchMaxWait time.Duration
}

// DefaultConfig returns CDC consumer defaults.
func DefaultConfig() Config {
	return Config{
		Durable:      "cdcc",
		AckWait:      30 * time.Second,
		MaxDeliver:   10,
		NakDelay:     time.Second,
		FetchBatch:   64,
		FetchMaxWait: 5 * time.Second,
	}
}

// Validate checks consumer configuration bounds.
func (c Config) Validate() error {
	if c.Durable == "" {
		return fmt.Errorf("cdc: durable name required")
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("cdc: ack wait must be positive")
	}
	if c.MaxDeliver < 2 {
		return fmt.Errorf("cdc: max deliver must be at least 2")
	}
	if c.FetchBatch <= 0 {
		return fmt.Errorf("cdc: fetch batch must be positive")
	}
	return nil
}

// Consumer is the CDC consume loop, run as a supervised service.
type Consumer struct {
	source queue.Source
	keys   Invalidator
	cfg    Config
}

// New builds a CDC consumer over the given source and cache.
func New(source queue.Source, keys Invalidator, cfg Config) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || keys == nil {
		return nil, fmt.Errorf("cdc: source and invalidator are required")
	}
	return &Consumer{source: source, keys: keys, cfg: cfg}, nil
}

// ConsumerConfigFor returns the durable consumer configuration expected on
// the CDC stream. DeliverAll starts from the stream's first event on first
// creation; replayed invalidations are no-ops.
func ConsumerConfigFor(cfg Config) queue.ConsumerConfig {
	return queue.ConsumerConfig{
		Stream:        queue.CDCStream,
		Durable:       cfg.Durable,
		FilterSubject: queue.CDCSubjects,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		DeliverAll:    true,
	}
}

// ConsumerConfig returns the durable consumer configuration for this
// consumer's settings.
func (c *Consumer) ConsumerConfig() queue.ConsumerConfig {
	return ConsumerConfigFor(c.cfg)
}

// Serve runs the consume loop until ctx is cancelled. Implements
// suture.Service.
func (c *Consumer) Serve(ctx context.Context) error {
	logging.Info().Str("durable", c.cfg.Durable).Msg("CDC consumer started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := c.source.Fetch(ctx, c.cfg.FetchBatch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Err(err).Msg("CDC fetch failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

// handle disposes of one CDC event: ack on success or no-op, nak with
// delay on transient invalidation failure.
func (c *Consumer) handle(ctx context.Context, msg queue.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		logging.Err(err).Str("subject", msg.Subject()).Msg("Undecodable CDC event, dropping")
		c.ack(msg)
		return
	}

	metrics.CDCEvents.WithLabelValues(ev.Table, ev.Op).Inc()

	if ev.Op == opSnapshot {
		c.ack(msg)
		return
	}

	namespaces := namespacesFor(ev)
	if len(namespaces) == 0 {
		logging.Debug().Str("table", ev.Table).Msg("CDC event for untracked table, ignoring")
		c.ack(msg)
		return
	}

	for _, ns := range namespaces {
		deleted, err := c.keys.InvalidateNamespace(ctx, ns)
		if err != nil {
			// Transient cache failure; redeliver. Staleness is bounded by
			// the entry TTL even if the budget runs out.
			metrics.KeystoreOpErrors.WithLabelValues("invalidate").Inc()
			logging.Warn().Err(err).
				Str("namespace", ns).
				Int("delivery", msg.NumDelivered()).
				Msg("CDC invalidation failed, requesting redelivery")
			if nakErr := msg.NakWithDelay(c.cfg.NakDelay); nakErr != nil {
				logging.Err(nakErr).Msg("CDC nak failed")
			}
			return
		}
		metrics.CDCInvalidations.WithLabelValues(ns).Inc()
		metrics.KeystoreInvalidatedKeys.WithLabelValues(ns).Add(float64(deleted))
	}

	if ev.SourceTSMillis > 0 {
		lag := time.Since(time.UnixMilli(ev.SourceTSMillis))
		metrics.CDCLagSeconds.Set(lag.Seconds())
	}
	c.ack(msg)
}

func (c *Consumer) ack(msg queue.Msg) {
	if err := msg.Ack(); err != nil {
		logging.Err(err).Msg("CDC ack failed; event will be redelivered")
	}
}

// namespacesFor maps one event onto the cache namespaces it dirties.
// A user delete cascades to orders, so dependent order views are
// invalidated too.
func namespacesFor(ev Event) []string {
	switch ev.Table {
	case models.TableUsers.String():
		if ev.Op == opDelete {
			return []string{models.TableUsers.Namespace(), models.TableOrders.Namespace()}
		}
		return []string{models.TableUsers.Namespace()}
	case models.TableOrders.String():
		return []string{models.TableOrders.Namespace()}
	default:
		return nil
	}
}

// String names the service in supervisor logs.
func (c *Consumer) String() string { return "cdc-consumer" }
