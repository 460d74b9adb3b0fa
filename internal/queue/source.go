// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Source abstracts the pull side of a durable consumer so consume loops
// can be tested without a server.
type Source interface {
	// Fetch returns up to batch delivered messages, blocking up to the
	// source's max-wait when none are available. An empty slice with a nil
	// error is a normal idle poll.
	Fetch(ctx context.Context, batch int) ([]Msg, error)
}

// jsSource pulls from a JetStream consumer.
type jsSource struct {
	cons    jetstream.Consumer
	maxWait time.Duration
}

// NewSource wraps a JetStream consumer as a Source.
func NewSource(cons jetstream.Consumer, maxWait time.Duration) Source {
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &jsSource{cons: cons, maxWait: maxWait}
}

func (s *jsSource) Fetch(_ context.Context, batch int) ([]Msg, error) {
	res, err := s.cons.Fetch(batch, jetstream.FetchMaxWait(s.maxWait))
	if err != nil {
		return nil, err
	}

	var msgs []Msg
	for m := range res.Messages() {
		msgs = append(msgs, WrapMsg(m))
	}
	if err := res.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
		return msgs, err
	}
	return msgs, nil
}
