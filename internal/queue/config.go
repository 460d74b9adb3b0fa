// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package queue

import (
	"time"
)

// Stream and subject names. The WRITES stream carries one subject per
// supported table; WRITES_DLQ mirrors the hierarchy for poison messages.
// The CDC stream is maintained externally by the replication bridge and is
// only consumed here.
const (
	WritesStream    = "WRITES"
	WritesSubjects  = "writes.>"
	DLQStream       = "WRITES_DLQ"
	DLQSubjects     = "writes-dlq.>"
	CDCStream       = "CDC"
	CDCSubjects     = "cdc.>"
	CDCSubjectBase  = "cdc."
	defaultMaxBytes = 1 << 30 // 1GB
)

// StreamConfig holds configuration for one JetStream stream.
type StreamConfig struct {
	// Name is the stream name (e.g. "WRITES").
	Name string

	// Subjects is the subject space the stream captures.
	Subjects []string

	// MaxAge is the retention age; zero means unlimited.
	MaxAge time.Duration

	// MaxBytes caps the stream size; zero means unlimited.
	MaxBytes int64

	// MaxMsgs caps the message count; zero means unlimited.
	MaxMsgs int64

	// DuplicateWindow is the publisher-dedup tracking window.
	// Retries with the same message ID inside this window are dropped
	// by the server.
	DuplicateWindow time.Duration

	// Replicas is the JetStream replica count.
	Replicas int
}

// WritesStreamConfig returns the configuration for the primary write stream.
func WritesStreamConfig(dedupWindow, maxAge time.Duration) StreamConfig {
	if dedupWindow <= 0 {
		dedupWindow = 2 * time.Minute
	}
	return StreamConfig{
		Name:            WritesStream,
		Subjects:        []string{WritesSubjects},
		MaxAge:          maxAge,
		MaxBytes:        defaultMaxBytes,
		DuplicateWindow: dedupWindow,
		Replicas:        1,
	}
}

// DLQStreamConfig returns the configuration for the dead-letter stream.
// Dead letters are kept longer than live writes so operators have time
// to inspect and replay them.
func DLQStreamConfig(maxAge time.Duration) StreamConfig {
	if maxAge <= 0 {
		maxAge = 14 * 24 * time.Hour
	}
	return StreamConfig{
		Name:     DLQStream,
		Subjects: []string{DLQSubjects},
		MaxAge:   maxAge,
		MaxBytes: defaultMaxBytes,
		Replicas: 1,
	}
}

// ConsumerConfig holds configuration for one durable consumer.
type ConsumerConfig struct {
	// Stream is the stream the consumer binds to.
	Stream string

	// Durable is the durable consumer name; the server persists the cursor
	// under this name across restarts.
	Durable string

	// FilterSubject restricts delivery to one subject (e.g. "writes.users").
	FilterSubject string

	// AckWait is the ack deadline. A message neither acked nor naked within
	// this window is redelivered.
	AckWait time.Duration

	// MaxDeliver bounds delivery attempts; the final attempt must route to
	// the DLQ instead of naking again.
	MaxDeliver int

	// MaxAckPending bounds outstanding unacknowledged deliveries, which is
	// the consumer's flow-control window.
	MaxAckPending int

	// DeliverAll starts a newly created durable from the stream's first
	// message instead of only new ones. Safe wherever processing is
	// idempotent (ledger pivot, commutative invalidations).
	DeliverAll bool
}

// Validate checks consumer configuration invariants.
func (c *ConsumerConfig) Validate() error {
	if c.Stream == "" {
		return errEmpty("stream")
	}
	if c.Durable == "" {
		return errEmpty("durable")
	}
	if c.FilterSubject == "" {
		return errEmpty("filter subject")
	}
	if c.AckWait <= 0 {
		return errEmpty("ack wait")
	}
	if c.MaxDeliver < 2 {
		return errValue("max deliver must be at least 2 (one attempt plus DLQ routing)")
	}
	return nil
}

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	// Host is the listen address.
	Host string

	// Port is the listen port; -1 selects a random free port.
	Port int

	// StoreDir is the JetStream storage directory.
	StoreDir string

	// JetStreamMaxMem caps JetStream memory usage in bytes.
	JetStreamMaxMem int64

	// JetStreamMaxStore caps JetStream disk usage in bytes.
	JetStreamMaxStore int64
}

// ConnectConfig holds NATS client connection configuration.
type ConnectConfig struct {
	// URL is the NATS server URL.
	URL string

	// Name is the client connection name, visible in server monitoring.
	Name string

	// MaxReconnects bounds reconnection attempts; -1 retries forever.
	MaxReconnects int

	// ReconnectWait is the delay between reconnection attempts.
	ReconnectWait time.Duration
}

// DefaultConnectConfig returns client connection defaults.
func DefaultConnectConfig(url string) ConnectConfig {
	return ConnectConfig{
		URL:           url,
		Name:          "writeflow",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}
