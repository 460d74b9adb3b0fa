// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package keystore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestKeystore(t *testing.T) (*Keystore, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client, time.Minute, 2), srv
}

func TestPutTrackedRegistersKey(t *testing.T) {
	ks, srv := newTestKeystore(t)
	ctx := context.Background()

	if err := ks.PutTracked(ctx, "users", "users:page:1", []byte("page-one")); err != nil {
		t.Fatalf("put tracked: %v", err)
	}

	got, ok, err := ks.Get(ctx, "users:page:1")
	if err != nil || !ok {
		t.Fatalf("get after put: ok=%v err=%v", ok, err)
	}
	if string(got) != "page-one" {
		t.Errorf("value = %q, want page-one", got)
	}

	members, err := srv.SMembers("tracked:users")
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 1 || members[0] != "users:page:1" {
		t.Errorf("tracking set = %v, want [users:page:1]", members)
	}
}

func TestPutTrackedTTLs(t *testing.T) {
	ks, srv := newTestKeystore(t)
	ctx := context.Background()

	if err := ks.PutTracked(ctx, "users", "users:page:1", []byte("v")); err != nil {
		t.Fatalf("put tracked: %v", err)
	}

	if ttl := srv.TTL("users:page:1"); ttl != time.Minute {
		t.Errorf("entry TTL = %v, want 1m", ttl)
	}
	// Set TTL is the entry TTL times the factor, so the set always outlives
	// its members.
	if ttl := srv.TTL("tracked:users"); ttl != 2*time.Minute {
		t.Errorf("set TTL = %v, want 2m", ttl)
	}
}

func TestInvalidateNamespace(t *testing.T) {
	ks, srv := newTestKeystore(t)
	ctx := context.Background()

	for _, key := range []string{"users:page:1", "users:page:2", "users:page:3"} {
		if err := ks.PutTracked(ctx, "users", key, []byte("v")); err != nil {
			t.Fatalf("put tracked %s: %v", key, err)
		}
	}
	// Unrelated namespace must survive.
	if err := ks.PutTracked(ctx, "orders", "orders:page:1", []byte("v")); err != nil {
		t.Fatalf("put tracked orders: %v", err)
	}

	deleted, err := ks.InvalidateNamespace(ctx, "users")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	if srv.Exists("users:page:1") || srv.Exists("tracked:users") {
		t.Error("users keys or tracking set survived invalidation")
	}
	if !srv.Exists("orders:page:1") {
		t.Error("orders namespace was wrongly invalidated")
	}

	if _, ok, _ := ks.Get(ctx, "users:page:1"); ok {
		t.Error("invalidated key still readable")
	}
}

func TestInvalidateEmptyNamespace(t *testing.T) {
	ks, _ := newTestKeystore(t)

	deleted, err := ks.InvalidateNamespace(context.Background(), "users")
	if err != nil {
		t.Fatalf("invalidate empty namespace: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestInvalidateToleratesExpiredMembers(t *testing.T) {
	ks, srv := newTestKeystore(t)
	ctx := context.Background()

	if err := ks.PutTracked(ctx, "users", "users:page:1", []byte("v")); err != nil {
		t.Fatalf("put tracked: %v", err)
	}
	if err := ks.PutTracked(ctx, "users", "users:page:2", []byte("v")); err != nil {
		t.Fatalf("put tracked: %v", err)
	}

	// Expire one data key; its membership goes stale but must not break
	// invalidation.
	srv.FastForward(90 * time.Second)

	deleted, err := ks.InvalidateNamespace(ctx, "users")
	if err != nil {
		t.Fatalf("invalidate with stale members: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0 (all entries expired)", deleted)
	}
	if srv.Exists("tracked:users") {
		t.Error("tracking set survived invalidation")
	}
}

func TestGetMiss(t *testing.T) {
	ks, _ := newTestKeystore(t)

	_, ok, err := ks.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get miss should not error: %v", err)
	}
	if ok {
		t.Error("miss reported as hit")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	if err := valid.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing addr", func(c *Config) { c.Addr = "" }},
		{"zero entry TTL", func(c *Config) { c.EntryTTL = 0 }},
		{"factor below 2", func(c *Config) { c.SetTTLFactor = 1 }},
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
