// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// startJetStream boots an embedded server on a random port with storage in
// the test's temp dir, returning a connected JetStream context.
func startJetStream(t *testing.T) (jetstream.JetStream, func()) {
	t.Helper()

	srv, err := NewEmbeddedServer(&ServerConfig{
		Host:     "127.0.0.1",
		Port:     -1,
		StoreDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}

	nc, err := Connect(DefaultConnectConfig(srv.ClientURL()))
	if err != nil {
		srv.Shutdown(context.Background())
		t.Fatalf("connect: %v", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		srv.Shutdown(context.Background())
		t.Fatalf("jetstream context: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return js, cleanup
}

func TestEnsureWriteStreamsIdempotent(t *testing.T) {
	js, cleanup := startJetStream(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	writes := WritesStreamConfig(2*time.Minute, 0)
	dlq := DLQStreamConfig(0)

	if err := EnsureWriteStreams(ctx, js, writes, dlq); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	// Second call must update, not fail.
	if err := EnsureWriteStreams(ctx, js, writes, dlq); err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	for _, name := range []string{WritesStream, DLQStream} {
		if _, err := js.Stream(ctx, name); err != nil {
			t.Errorf("stream %s missing after ensure: %v", name, err)
		}
	}
}

func TestPublishDeduplicatesByMsgID(t *testing.T) {
	js, cleanup := startJetStream(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	writes := WritesStreamConfig(2*time.Minute, 0)
	if err := EnsureWriteStreams(ctx, js, writes, DLQStreamConfig(0)); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}

	pub, err := NewJetStreamPublisher(js, 5*time.Second)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	payload := []byte(`{"operation_id":"k1"}`)
	if err := pub.Publish(ctx, "writes.users", "k1", payload); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := pub.Publish(ctx, "writes.users", "k1", payload); err != nil {
		t.Fatalf("duplicate publish should succeed silently: %v", err)
	}

	stream, err := js.Stream(ctx, WritesStream)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 1 {
		t.Errorf("expected 1 message after duplicate publish, got %d", info.State.Msgs)
	}
}

func TestPublishRequiresMsgID(t *testing.T) {
	js, cleanup := startJetStream(t)
	defer cleanup()

	pub, err := NewJetStreamPublisher(js, time.Second)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "writes.users", "", []byte("x")); err == nil {
		t.Error("expected error for empty message ID")
	}
}

func TestPublisherClosedFailsFast(t *testing.T) {
	js, cleanup := startJetStream(t)
	defer cleanup()

	pub, err := NewJetStreamPublisher(js, time.Second)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	pub.Close()
	if err := pub.Publish(context.Background(), "writes.users", "k", []byte("x")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestConsumerRedeliveryAfterNak(t *testing.T) {
	js, cleanup := startJetStream(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := EnsureWriteStreams(ctx, js, WritesStreamConfig(time.Minute, 0), DLQStreamConfig(0)); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}

	cons, err := EnsureConsumer(ctx, js, ConsumerConfig{
		Stream:        WritesStream,
		Durable:       "wp-users-test",
		FilterSubject: "writes.users",
		AckWait:       5 * time.Second,
		MaxDeliver:    3,
		DeliverAll:    true,
	})
	if err != nil {
		t.Fatalf("ensure consumer: %v", err)
	}

	pub, err := NewJetStreamPublisher(js, 5*time.Second)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(ctx, "writes.users", "op-1", []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first := fetchOne(t, cons)
	if first.NumDelivered() != 1 {
		t.Errorf("first delivery count = %d, want 1", first.NumDelivered())
	}
	if err := first.NakWithDelay(50 * time.Millisecond); err != nil {
		t.Fatalf("nak: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	second := fetchOne(t, cons)
	if second.NumDelivered() != 2 {
		t.Errorf("second delivery count = %d, want 2", second.NumDelivered())
	}
	if err := second.Ack(); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

// fetchOne pulls exactly one message from the consumer.
func fetchOne(t *testing.T, cons jetstream.Consumer) Msg {
	t.Helper()

	batch, err := cons.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for msg := range batch.Messages() {
		return WrapMsg(msg)
	}
	t.Fatal("no message delivered within fetch window")
	return nil
}

func TestConsumerConfigValidate(t *testing.T) {
	valid := ConsumerConfig{
		Stream:        WritesStream,
		Durable:       "wp-users",
		FilterSubject: "writes.users",
		AckWait:       time.Second,
		MaxDeliver:    5,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ConsumerConfig)
	}{
		{"missing stream", func(c *ConsumerConfig) { c.Stream = "" }},
		{"missing durable", func(c *ConsumerConfig) { c.Durable = "" }},
		{"missing filter", func(c *ConsumerConfig) { c.FilterSubject = "" }},
		{"zero ack wait", func(c *ConsumerConfig) { c.AckWait = 0 }},
		{"max deliver too small", func(c *ConsumerConfig) { c.MaxDeliver = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
