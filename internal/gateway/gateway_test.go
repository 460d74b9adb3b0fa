// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/writeflow-io/writeflow/internal/models"
)

const (
	testKey  = "7f6c2a9e-1b34-4f6c-9d2e-8a1b3c4d5e6f"
	userBody = `{"name":"Alice","email":"alice@example.com"}`
)

type stubPublisher struct {
	mu       sync.Mutex
	err      error
	calls    int
	subjects []string
	msgIDs   []string

	// block, when non-nil, is closed by the test to release in-flight
	// publishes.
	block chan struct{}
	// entered signals each publish call entering.
	entered chan struct{}
}

func (s *stubPublisher) Publish(ctx context.Context, subject, msgID string, _ []byte) error {
	s.mu.Lock()
	s.calls++
	s.subjects = append(s.subjects, subject)
	s.msgIDs = append(s.msgIDs, msgID)
	block := s.block
	entered := s.entered
	err := s.err
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func newTestGateway(t *testing.T, pub *stubPublisher, mutate func(*Config)) *Gateway {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := New(pub, cfg)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g
}

func TestSubmitAccepted(t *testing.T) {
	pub := &stubPublisher{}
	g := newTestGateway(t, pub, nil)

	acc, err := g.Submit(context.Background(), models.TableUsers, testKey, []byte(userBody))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if acc.Status != "accepted" || acc.OperationID != testKey {
		t.Errorf("accepted = %+v", acc)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "writes.users" {
		t.Errorf("subjects = %v, want [writes.users]", pub.subjects)
	}
	// The idempotency key is the dedup id.
	if pub.msgIDs[0] != testKey {
		t.Errorf("msg id = %s, want idempotency key", pub.msgIDs[0])
	}
	if g.InFlight() != 0 {
		t.Errorf("in-flight after submit = %d, want 0", g.InFlight())
	}
}

func TestSubmitInvalidRequest(t *testing.T) {
	pub := &stubPublisher{}
	g := newTestGateway(t, pub, nil)

	tests := []struct {
		name    string
		table   models.Table
		key     string
		payload string
	}{
		{"bad key", models.TableUsers, "not-a-uuid", userBody},
		{"unknown table", models.Table("payments"), testKey, userBody},
		{"schema violation", models.TableUsers, testKey, `{"name":"Alice"}`},
		{"unknown field", models.TableUsers, testKey, `{"name":"A","email":"a@x.io","admin":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Submit(context.Background(), tt.table, tt.key, []byte(tt.payload))
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if pub.calls != 0 {
		t.Errorf("invalid requests reached the queue: %d calls", pub.calls)
	}
}

func TestSubmitBackpressureAtCap(t *testing.T) {
	pub := &stubPublisher{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	g := newTestGateway(t, pub, func(c *Config) { c.MaxInFlight = 1 })

	done := make(chan error, 1)
	go func() {
		_, err := g.Submit(context.Background(), models.TableUsers, testKey, []byte(userBody))
		done <- err
	}()

	// Wait until the first request holds the in-flight slot.
	<-pub.entered

	_, err := g.Submit(context.Background(), models.TableUsers,
		"11111111-2222-4333-8444-555555555555", []byte(userBody))
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("err = %v, want ErrBackpressure", err)
	}

	close(pub.block)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// Slot released; the next request is admitted again.
	if _, err := g.Submit(context.Background(), models.TableUsers,
		"22222222-3333-4444-8555-666666666666", []byte(userBody)); err != nil {
		t.Fatalf("submit after release: %v", err)
	}
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	pub := &stubPublisher{err: errors.New("stream down")}
	g := newTestGateway(t, pub, func(c *Config) {
		c.FailureThreshold = 3
		c.ResetTimeout = time.Hour
	})

	// Failures strictly below the threshold keep the circuit closed.
	for i := 0; i < 2; i++ {
		if _, err := g.Submit(context.Background(), models.TableUsers, testKey, []byte(userBody)); !errors.Is(err, ErrUpstream) {
			t.Fatalf("failure %d: err = %v, want ErrUpstream", i, err)
		}
	}
	if g.CircuitState() != "closed" {
		t.Fatalf("state after 2 failures = %s, want closed", g.CircuitState())
	}

	// The failure exactly at the threshold opens the circuit.
	if _, err := g.Submit(context.Background(), models.TableUsers, testKey, []byte(userBody)); !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if g.CircuitState() != "open" {
		t.Fatalf("state after threshold = %s, want open", g.CircuitState())
	}

	// While open, requests are rejected without touching the queue.
	calls := pub.calls
	if _, err := g.Submit(context.Background(), models.TableUsers, testKey, []byte(userBody)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if pub.calls != calls {
		t.Error("open circuit still published")
	}
}

func TestCircuitHalfOpenProbeCloses(t *testing.T) {
	pub := &stubPublisher{err: errors.New("stream down")}
	g := newTestGateway(t, pub, func(c *Config) {
		c.FailureThreshold = 1
		c.ResetTimeout = 30 * time.Millisecond
	})

	if _, err := g.Submit(context.Background(), models.TableUsers, testKey, []byte(userBody)); !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if g.CircuitState() != "open" {
		t.Fatalf("state = %s, want open", g.CircuitState())
	}

	// After the reset timeout the breaker admits one probe; a successful
	// probe closes the circuit.
	time.Sleep(50 * time.Millisecond)
	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	if _, err := g.Submit(context.Background(), models.TableUsers, testKey, []byte(userBody)); err != nil {
		t.Fatalf("probe submit: %v", err)
	}
	if g.CircuitState() != "closed" {
		t.Errorf("state after probe = %s, want closed", g.CircuitState())
	}
}

func TestCircuitHalfOpenProbeFailureReopens(t *testing.T) {
	pub := &stubPublisher{err: errors.New("stream down")}
	g := newTestGateway(t, pub, func(c *Config) {
		c.FailureThreshold = 1
		c.ResetTimeout = 30 * time.Millisecond
	})

	_, _ = g.Submit(context.Background(), models.TableUsers, testKey, []byte(userBody))
	time.Sleep(50 * time.Millisecond)

	// Probe fails; the breaker reopens immediately.
	if _, err := g.Submit(context.Background(), models.TableUsers, testKey, []byte(userBody)); !errors.Is(err, ErrUpstream) {
		t.Fatalf("probe err = %v, want ErrUpstream", err)
	}
	if g.CircuitState() != "open" {
		t.Errorf("state after failed probe = %s, want open", g.CircuitState())
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cap", func(c *Config) { c.MaxInFlight = 0 }},
		{"zero threshold", func(c *Config) { c.FailureThreshold = 0 }},
		{"zero reset", func(c *Config) { c.ResetTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
