// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/writeflow-io/writeflow/internal/logging"
)

// Publisher is the interface both the gateway and the dead-letter path
// publish through.
type Publisher interface {
	// Publish sends payload to subject with the given message ID and waits
	// for the server's PubAck. Publishing the same msgID twice inside the
	// stream's duplicate window is a server-side no-op.
	Publish(ctx context.Context, subject, msgID string, payload []byte) error
}

// JetStreamPublisher publishes to JetStream with synchronous PubAck and
// publisher-side deduplication by message ID.
type JetStreamPublisher struct {
	js      jetstream.JetStream
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewJetStreamPublisher creates a publisher over the given JetStream
// context. timeout bounds each publish call end to end.
func NewJetStreamPublisher(js jetstream.JetStream, timeout time.Duration) (*JetStreamPublisher, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &JetStreamPublisher{js: js, timeout: timeout}, nil
}

// Publish sends the payload and awaits the PubAck. The ack is what makes
// the admission response truthful: a 202 is only returned once the message
// is durably owned by the stream.
func (p *JetStreamPublisher) Publish(ctx context.Context, subject, msgID string, payload []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.mu.RUnlock()

	if msgID == "" {
		return fmt.Errorf("message ID required for dedup")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ack, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	if ack.Duplicate {
		logging.Debug().
			Str("subject", subject).
			Str("msg_id", msgID).
			Msg("duplicate publish absorbed by stream dedup window")
	}
	return nil
}

// Close marks the publisher closed. Subsequent publishes fail fast.
func (p *JetStreamPublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Connect establishes a NATS connection with reconnection handling.
func Connect(cfg ConnectConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logging.Error().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			evt := logging.Error().Err(err)
			if sub != nil {
				evt = evt.Str("subject", sub.Subject)
			}
			evt.Msg("NATS async error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}
