// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package main is the entry point for the Writeflow server.
//
// Writeflow is a durable asynchronous write pipeline: the HTTP gateway
// admits writes onto a JetStream work queue, per-table processors apply
// them to Postgres exactly once by effect through the idempotency ledger,
// and the CDC consumer converges the Redis cache with out-of-band changes.
//
// # Boot Order
//
// Components initialize in dependency order:
//
//  1. Configuration (koanf: defaults, YAML file, WRITEFLOW_* environment)
//  2. Logging (zerolog)
//  3. NATS: embedded server (optional), connection, JetStream streams
//  4. Postgres ledger and schema
//  5. Redis keystore
//  6. Dead-letter archive (Badger, optional)
//  7. Gateway, per-table processors, CDC consumer, sweeper
//  8. HTTP server under the supervisor tree
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, consume loops finish their current message, stores
// close, and the NATS connection closes last so every ack and DLQ publish
// still has a transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/writeflow-io/writeflow/internal/api"
	"github.com/writeflow-io/writeflow/internal/cdc"
	"github.com/writeflow-io/writeflow/internal/config"
	"github.com/writeflow-io/writeflow/internal/dlqstore"
	"github.com/writeflow-io/writeflow/internal/domain"
	"github.com/writeflow-io/writeflow/internal/gateway"
	"github.com/writeflow-io/writeflow/internal/keystore"
	"github.com/writeflow-io/writeflow/internal/ledger"
	"github.com/writeflow-io/writeflow/internal/logging"
	"github.com/writeflow-io/writeflow/internal/processor"
	"github.com/writeflow-io/writeflow/internal/queue"
	"github.com/writeflow-io/writeflow/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Bool("nats_embedded", cfg.NATS.Embedded).
		Bool("cdc_enabled", cfg.CDC.Enabled).
		Msg("Starting Writeflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("Writeflow terminated")
	}
	logging.Info().Msg("Writeflow stopped")
}

// run wires the pipeline and blocks until ctx is cancelled. Resources are
// released in reverse dependency order via defers, with the NATS connection
// last so in-flight acks keep a transport during drain.
func run(ctx context.Context, cfg *config.Config) error {
	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := queue.NewEmbeddedServer(&queue.ServerConfig{
			Host:     "127.0.0.1",
			Port:     -1,
			StoreDir: cfg.NATS.StoreDir,
		})
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Err(err).Msg("Embedded NATS shutdown failed")
			}
		}()
		natsURL = srv.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	nc, err := queue.Connect(queue.DefaultConnectConfig(natsURL))
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	if err := queue.EnsureWriteStreams(ctx, js,
		queue.WritesStreamConfig(cfg.NATS.DedupWindow, cfg.NATS.WritesMaxAge),
		queue.DLQStreamConfig(cfg.NATS.DLQMaxAge),
	); err != nil {
		return err
	}

	store, err := ledger.Open(ctx, ledger.Config{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Err(err).Msg("Ledger close failed")
		}
	}()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	logging.Info().Msg("Ledger schema ensured")

	keys, err := keystore.New(ctx, keystore.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		EntryTTL:     cfg.Redis.EntryTTL,
		SetTTLFactor: cfg.Redis.SetTTLFactor,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := keys.Close(); err != nil {
			logging.Err(err).Msg("Keystore close failed")
		}
	}()

	pub, err := queue.NewJetStreamPublisher(js, cfg.NATS.PublishTimeout)
	if err != nil {
		return err
	}
	defer pub.Close()

	var (
		archiver    processor.Archiver
		dlqHandlers *api.DLQHandlers
	)
	if cfg.DLQ.ArchiveEnabled {
		archiveCfg := dlqstore.DefaultConfig(cfg.DLQ.ArchivePath)
		archiveCfg.TTL = cfg.DLQ.ArchiveTTL
		archive, err := dlqstore.Open(archiveCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := archive.Close(); err != nil {
				logging.Err(err).Msg("Dead-letter archive close failed")
			}
		}()

		replayer, err := dlqstore.NewReplayer(archive, pub, cfg.DLQ.ReplayRate, cfg.DLQ.ReplayBurst)
		if err != nil {
			return err
		}
		dlqHandlers, err = api.NewDLQHandlers(archive, replayer)
		if err != nil {
			return err
		}
		archiver = archive
	}

	gw, err := gateway.New(pub, gateway.Config{
		MaxInFlight:      cfg.Gateway.MaxInFlight,
		FailureThreshold: cfg.Gateway.FailureThreshold,
		ResetTimeout:     cfg.Gateway.ResetTimeout,
		PublishTimeout:   cfg.NATS.PublishTimeout,
		RetryAfter:       cfg.Gateway.RetryAfter,
	})
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	procCfg := processor.Config{
		AckWait:      cfg.Processor.AckWait,
		MaxDeliver:   cfg.Processor.MaxDeliver,
		NakDelay:     cfg.Processor.NakDelay,
		FetchBatch:   cfg.Processor.FetchBatch,
		FetchMaxWait: cfg.Processor.FetchMaxWait,
	}
	for _, handler := range domain.Handlers() {
		cons, err := queue.EnsureConsumer(ctx, js, processor.ConsumerConfigFor(handler, procCfg))
		if err != nil {
			return err
		}
		proc, err := processor.New(handler, queue.NewSource(cons, procCfg.FetchMaxWait), store, keys, pub, archiver, procCfg)
		if err != nil {
			return err
		}
		tree.AddProcessingService(proc)
	}

	sweeper, err := ledger.NewSweeper(store, ledger.SweeperConfig{
		Enabled:     cfg.Sweeper.Enabled,
		Interval:    cfg.Sweeper.Interval,
		GracePeriod: cfg.Sweeper.GracePeriod,
	})
	if err != nil {
		return err
	}
	tree.AddProcessingService(sweeper)

	if cfg.CDC.Enabled {
		cdcCfg := cdc.Config{
			Durable:      cfg.CDC.Durable,
			AckWait:      cfg.CDC.AckWait,
			MaxDeliver:   cfg.CDC.MaxDeliver,
			NakDelay:     cfg.CDC.NakDelay,
			FetchBatch:   cfg.CDC.FetchBatch,
			FetchMaxWait: cfg.CDC.FetchMaxWait,
		}
		cons, err := queue.EnsureConsumer(ctx, js, cdc.ConsumerConfigFor(cdcCfg))
		if err != nil {
			// The CDC stream is provisioned by the external replication
			// bridge; invalidation still converges via entry TTLs without it.
			logging.Warn().Err(err).Msg("CDC stream unavailable, continuing without CDC consumer")
		} else {
			consumer, err := cdc.New(queue.NewSource(cons, cdcCfg.FetchMaxWait), keys, cdcCfg)
			if err != nil {
				return err
			}
			tree.AddCDCService(consumer)
		}
	}

	handler, err := api.NewHandler(gw, ledger.NewStatusReader(store), map[string]api.HealthChecker{
		"postgres": store.Ping,
		"redis":    keys.Ping,
		"nats": func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats: not connected")
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewRouter(handler, dlqHandlers, api.RouterConfig{
			AllowedOrigins:  cfg.Server.CORSOrigins,
			RateLimit:       cfg.Server.RateLimit,
			RateLimitWindow: cfg.Server.RateLimitWindow,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddIngressService(supervisor.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", httpServer.Addr).Msg("Writeflow ready")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}
	return nil
}
