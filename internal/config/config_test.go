// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.NATS.DedupWindow != 2*time.Minute {
		t.Errorf("nats.dedup_window = %v, want 2m", cfg.NATS.DedupWindow)
	}
	if cfg.Processor.MaxDeliver != 5 {
		t.Errorf("processor.max_deliver = %d, want 5", cfg.Processor.MaxDeliver)
	}
	if cfg.Sweeper.Enabled {
		t.Error("sweeper must default to disabled")
	}
	if !cfg.CDC.Enabled {
		t.Error("cdc must default to enabled")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WRITEFLOW_SERVER_PORT", "9090")
	t.Setenv("WRITEFLOW_GATEWAY_MAX_IN_FLIGHT", "32")
	t.Setenv("WRITEFLOW_PROCESSOR_NAK_DELAY", "250ms")
	t.Setenv("WRITEFLOW_NATS_EMBEDDED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Gateway.MaxInFlight != 32 {
		t.Errorf("gateway.max_in_flight = %d, want 32", cfg.Gateway.MaxInFlight)
	}
	if cfg.Processor.NakDelay != 250*time.Millisecond {
		t.Errorf("processor.nak_delay = %v, want 250ms", cfg.Processor.NakDelay)
	}
	if !cfg.NATS.Embedded {
		t.Error("nats.embedded not overridden")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writeflow.yaml")
	yaml := []byte(`
server:
  port: 7070
redis:
  entry_ttl: 10m
  set_ttl_factor: 3
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Redis.EntryTTL != 10*time.Minute || cfg.Redis.SetTTLFactor != 3 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	// Untouched values keep their defaults.
	if cfg.Postgres.MaxOpenConns != 16 {
		t.Errorf("postgres.max_open_conns = %d, want default 16", cfg.Postgres.MaxOpenConns)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writeflow.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("WRITEFLOW_SERVER_PORT", "9091")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9091 {
		t.Errorf("server.port = %d, want env override 9091", cfg.Server.Port)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"WRITEFLOW_SERVER_PORT", "server.port"},
		{"WRITEFLOW_GATEWAY_MAX_IN_FLIGHT", "gateway.max_in_flight"},
		{"WRITEFLOW_NATS_URL", "nats.url"},
		{"WRITEFLOW_POSTGRES_DSN", "postgres.dsn"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"missing nats url", func(c *Config) { c.NATS.URL = ""; c.NATS.Embedded = false }},
		{"missing dsn", func(c *Config) { c.Postgres.DSN = "" }},
		{"low ttl factor", func(c *Config) { c.Redis.SetTTLFactor = 1 }},
		{"zero in-flight", func(c *Config) { c.Gateway.MaxInFlight = 0 }},
		{"max deliver 1", func(c *Config) { c.Processor.MaxDeliver = 1 }},
		{"archive without path", func(c *Config) { c.DLQ.ArchiveEnabled = true; c.DLQ.ArchivePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
