// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package keystore implements the tracked-key cache over Redis.
//
// Every cached value written through PutTracked is registered in a
// per-namespace tracking set, so invalidation deletes exactly the live
// keys of one namespace. Pattern or SCAN based sweeps are deliberately
// not implemented: invalidation cost must stay proportional to the
// namespace's live keys, not to the whole keyspace.
package keystore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/metrics"
)

// trackedSetPrefix namespaces the tracking sets away from data keys.
const trackedSetPrefix = "tracked:"

// Config holds keystore configuration.
type Config struct {
	// Addr is the Redis host:port.
	Addr string

	// Password authenticates the connection; empty disables auth.
	Password string

	// DB selects the logical Redis database.
	DB int

	// EntryTTL is the lifetime of each cached value.
	EntryTTL time.Duration

	// SetTTLFactor multiplies EntryTTL to produce the tracking set's TTL.
	// Must be at least 2 so the set always outlives every member it tracks.
	SetTTLFactor int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:6379",
		EntryTTL:     5 * time.Minute,
		SetTTLFactor: 2,
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("keystore: addr is required")
	}
	if c.EntryTTL <= 0 {
		return fmt.Errorf("keystore: entry TTL must be positive")
	}
	if c.SetTTLFactor < 2 {
		return fmt.Errorf("keystore: set TTL factor must be at least 2")
	}
	return nil
}

// Keystore is the tracked-key cache client shared by the write processors
// (synchronous invalidation) and the CDC consumer (convergent invalidation).
// All operations are namespace-scoped and commutative, so concurrent use
// from both is safe without coordination.
type Keystore struct {
	client   *redis.Client
	entryTTL time.Duration
	setTTL   time.Duration
}

// New creates a keystore client and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Keystore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("keystore: ping %s: %w", cfg.Addr, err)
	}

	return &Keystore{
		client:   client,
		entryTTL: cfg.EntryTTL,
		setTTL:   time.Duration(cfg.SetTTLFactor) * cfg.EntryTTL,
	}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client, entryTTL time.Duration, setTTLFactor int) *Keystore {
	if setTTLFactor < 2 {
		setTTLFactor = 2
	}
	return &Keystore{
		client:   client,
		entryTTL: entryTTL,
		setTTL:   time.Duration(setTTLFactor) * entryTTL,
	}
}

// trackedSet returns the tracking-set key for a namespace.
func trackedSet(namespace string) string {
	return trackedSetPrefix + namespace
}

// PutTracked stores value under key with the entry TTL and registers key in
// the namespace's tracking set, refreshing the set's TTL.
//
// The three commands run in one pipelined transaction, so a key can never
// become live without being tracked. The set TTL refresh on every put keeps
// the set alive at least as long as its youngest member.
func (k *Keystore) PutTracked(ctx context.Context, namespace, key string, value []byte) error {
	pipe := k.client.TxPipeline()
	pipe.Set(ctx, key, value, k.entryTTL)
	pipe.SAdd(ctx, trackedSet(namespace), key)
	pipe.Expire(ctx, trackedSet(namespace), k.setTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.KeystoreOpErrors.WithLabelValues("put_tracked").Inc()
		return fmt.Errorf("keystore: put tracked %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get fetches a cached value. The second return is false on a miss.
func (k *Keystore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := k.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		metrics.KeystoreOpErrors.WithLabelValues("get").Inc()
		return nil, false, fmt.Errorf("keystore: get %s: %w", key, err)
	}
	return val, true, nil
}

// InvalidateNamespace deletes every tracked key of the namespace plus the
// tracking set itself, returning the number of data keys deleted.
//
// The set may contain keys that already expired; deleting a missing key is
// a no-op, so the count can be lower than the membership size. An empty or
// missing set returns 0 without error.
func (k *Keystore) InvalidateNamespace(ctx context.Context, namespace string) (int, error) {
	set := trackedSet(namespace)

	members, err := k.client.SMembers(ctx, set).Result()
	if err != nil {
		metrics.KeystoreOpErrors.WithLabelValues("invalidate").Inc()
		return 0, fmt.Errorf("keystore: read tracking set %s: %w", set, err)
	}
	if len(members) == 0 {
		// Still drop the (possibly empty) set so a later rebuild starts clean.
		if err := k.client.Del(ctx, set).Err(); err != nil {
			metrics.KeystoreOpErrors.WithLabelValues("invalidate").Inc()
			return 0, fmt.Errorf("keystore: delete tracking set %s: %w", set, err)
		}
		return 0, nil
	}

	pipe := k.client.TxPipeline()
	delKeys := pipe.Del(ctx, members...)
	pipe.Del(ctx, set)

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.KeystoreOpErrors.WithLabelValues("invalidate").Inc()
		return 0, fmt.Errorf("keystore: invalidate namespace %s: %w", namespace, err)
	}

	deleted := int(delKeys.Val())
	metrics.KeystoreInvalidatedKeys.WithLabelValues(namespace).Add(float64(deleted))
	logging.Debug().
		Str("namespace", namespace).
		Int("deleted", deleted).
		Int("tracked", len(members)).
		Msg("namespace invalidated")
	return deleted, nil
}

// Ping verifies connectivity. Used by the health endpoint.
func (k *Keystore) Ping(ctx context.Context) error {
	if err := k.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("keystore: ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (k *Keystore) Close() error {
	return k.client.Close()
}
