// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/writeflow-io/writeflow/internal/domain"
	"github.com/writeflow-io/writeflow/internal/ledger"
	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/queue"
)

// Config controls one per-table processor.
type Config struct {
	// AckWait is the consumer's ack deadline.
	AckWait time.Duration

	// MaxDeliver bounds delivery attempts; the attempt where NumDelivered
	// reaches this value routes to the DLQ instead of naking.
	MaxDeliver int

	// NakDelay is the redelivery backoff requested on retryable failures.
	NakDelay time.Duration

	// FetchBatch is how many messages one pull requests.
	FetchBatch int

	// FetchMaxWait bounds how long an unfilled pull blocks.
	FetchMaxWait time.Duration
}

// DefaultConfig returns processor defaults.
func DefaultConfig() Config {
	return Config{
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
		NakDelay:     time.Second,
		FetchBatch:   16,
		FetchMaxWait: 5 * time.Second,
	}
}

// Validate checks processor configuration bounds.
func (c Config) Validate() error {
	if c.AckWait <= 0 {
		return fmt.Errorf("processor: ack wait must be positive")
	}
	if c.MaxDeliver < 2 {
		return fmt.Errorf("processor: max deliver must be at least 2, got %d", c.MaxDeliver)
	}
	if c.NakDelay <= 0 {
		return fmt.Errorf("processor: nak delay must be positive")
	}
	if c.FetchBatch <= 0 {
		return fmt.Errorf("processor: fetch batch must be positive")
	}
	return nil
}

// Processor is one table's write consumer. It runs as a supervised service
// and carries all of its dependencies explicitly.
type Processor struct {
	handler domain.TableHandler
	source  queue.Source
	deps    protocolDeps
	cfg     Config
}

// New builds a processor for handler over the given source and stores.
// archive may be nil to disable local dead-letter archival.
func New(handler domain.TableHandler, source queue.Source, store *ledger.Store, keys Invalidator, dlq queue.Publisher, archive Archiver, cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || store == nil || keys == nil || dlq == nil {
		return nil, fmt.Errorf("processor: source, store, keys, and dlq publisher are required")
	}

	return &Processor{
		handler: handler,
		source:  source,
		cfg:     cfg,
		deps: protocolDeps{
			handler:  handler,
			store:    store,
			keys:     keys,
			dlq:      dlq,
			archive:  archive,
			nakDelay: cfg.NakDelay,
			maxDel:   cfg.MaxDeliver,
		},
	}, nil
}

// ConsumerConfigFor returns the durable consumer configuration a table's
// processor expects on the WRITES stream. Exposed as a function so boot code
// can provision the consumer before the pull source exists.
func ConsumerConfigFor(handler domain.TableHandler, cfg Config) queue.ConsumerConfig {
	return queue.ConsumerConfig{
		Stream:        queue.WritesStream,
		Durable:       handler.Durable,
		FilterSubject: handler.Table.Subject(),
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
	}
}

// ConsumerConfig returns the durable consumer configuration this processor
// expects on the WRITES stream.
func (p *Processor) ConsumerConfig() queue.ConsumerConfig {
	return ConsumerConfigFor(p.handler, p.cfg)
}

// Serve runs the consume loop until ctx is cancelled. Implements
// suture.Service. Each fetched message is processed to a terminal
// disposition before the next fetch; per-table ordering pressure is handled
// by running one processor per table rather than concurrency within one.
func (p *Processor) Serve(ctx context.Context) error {
	logging.Info().
		Str("table", p.handler.Table.String()).
		Str("durable", p.handler.Durable).
		Msg("Write processor started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := p.source.Fetch(ctx, p.cfg.FetchBatch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Err(err).Str("table", p.handler.Table.String()).Msg("Fetch failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			process(ctx, p.deps, msg)
		}
	}
}

// String names the service in supervisor logs.
func (p *Processor) String() string {
	return "processor-" + p.handler.Table.String()
}
