// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/metrics"
	"github.com/writeflow-io/writeflow/internal/models"
	"github.com/writeflow-io/writeflow/internal/queue"
)

// Config controls gateway admission.
type Config struct {
	// MaxInFlight caps concurrent publish calls; requests beyond it are
	// rejected with Backpressure.
	MaxInFlight int64

	// FailureThreshold is the consecutive publish failures that open the
	// breaker.
	FailureThreshold uint32

	// ResetTimeout is how long the breaker stays open before admitting a
	// half-open probe.
	ResetTimeout time.Duration

	// PublishTimeout bounds one publish call end to end.
	PublishTimeout time.Duration

	// RetryAfter is the advice returned with 503 rejections.
	RetryAfter time.Duration
}

// DefaultConfig returns admission defaults.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:      256,
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		PublishTimeout:   5 * time.Second,
		RetryAfter:       2 * time.Second,
	}
}

// Validate checks admission configuration bounds.
func (c Config) Validate() error {
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("gateway: max in-flight must be positive")
	}
	if c.FailureThreshold == 0 {
		return fmt.Errorf("gateway: failure threshold must be positive")
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("gateway: reset timeout must be positive")
	}
	return nil
}

// Accepted is the admission result returned for a published operation.
type Accepted struct {
	Status      string    `json:"status"`
	OperationID string    `json:"operation_id"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// Gateway admits write requests and publishes them durably.
type Gateway struct {
	pub queue.Publisher
	cfg Config

	inFlight atomic.Int64
	breaker  *gobreaker.CircuitBreaker[any]
}

// New builds a gateway over the given publisher.
func New(pub queue.Publisher, cfg Config) (*Gateway, error) {
	if pub == nil {
		return nil, fmt.Errorf("gateway: publisher required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{pub: pub, cfg: cfg}
	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name: "gateway-publish",
		// One probe at a time in half-open; concurrent requests during the
		// probe are rejected.
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitState(to.String())
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})
	return g, nil
}

// Submit validates, admits, and durably publishes one write request.
// idempotencyKey doubles as the operation ID and the publish dedup ID.
func (g *Gateway) Submit(ctx context.Context, table models.Table, idempotencyKey string, payload json.RawMessage) (*Accepted, error) {
	if _, err := uuid.Parse(idempotencyKey); err != nil {
		metrics.GatewayRejections.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: idempotency key must be a UUID", ErrInvalidRequest)
	}
	if !table.Valid() {
		metrics.GatewayRejections.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: unsupported table %q", ErrInvalidRequest, table)
	}
	if err := models.ValidatePayload(table, payload); err != nil {
		metrics.GatewayRejections.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// In-flight cap. Incremented before the publish, decremented on every
	// exit path.
	if n := g.inFlight.Add(1); n > g.cfg.MaxInFlight {
		g.inFlight.Add(-1)
		metrics.GatewayRejections.WithLabelValues("backpressure").Inc()
		return nil, ErrBackpressure
	}
	defer func() {
		metrics.GatewayInFlight.Set(float64(g.inFlight.Add(-1)))
	}()
	metrics.GatewayInFlight.Set(float64(g.inFlight.Load()))

	body, err := models.EncodeWriteRequest(&models.WriteRequest{
		OperationID: idempotencyKey,
		Table:       table,
		Data:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrInvalidRequest, err)
	}

	start := time.Now()
	_, err = g.breaker.Execute(func() (any, error) {
		pubCtx, cancel := context.WithTimeout(ctx, g.cfg.PublishTimeout)
		defer cancel()
		return nil, g.pub.Publish(pubCtx, table.Subject(), idempotencyKey, body)
	})
	metrics.RecordPublish(table.String(), err, time.Since(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.GatewayRejections.WithLabelValues("circuit_open").Inc()
			return nil, ErrCircuitOpen
		}
		logging.Ctx(logging.ContextWithOperationID(ctx, idempotencyKey)).
			Error().Err(err).Str("table", table.String()).Msg("Queue publish failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return &Accepted{
		Status:      "accepted",
		OperationID: idempotencyKey,
		AcceptedAt:  time.Now().UTC(),
	}, nil
}

// InFlight returns the current outstanding publish count.
func (g *Gateway) InFlight() int64 { return g.inFlight.Load() }

// CircuitState returns the breaker state name for health reporting.
func (g *Gateway) CircuitState() string { return g.breaker.State().String() }

// ConsecutiveFailures returns the breaker's current consecutive publish
// failure count for health reporting.
func (g *Gateway) ConsecutiveFailures() uint32 { return g.breaker.Counts().ConsecutiveFailures }

// RetryAfter returns the retry advice for 503 rejections.
func (g *Gateway) RetryAfter() time.Duration { return g.cfg.RetryAfter }
