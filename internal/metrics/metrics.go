// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

// Package metrics provides Prometheus instrumentation for the write pipeline:
// gateway admission, processor outcomes, cache invalidation, CDC consumption,
// and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway admission metrics

	GatewayInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_inflight_publishes",
			Help: "Current number of outstanding queue publish calls",
		},
	)

	GatewayRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rejections_total",
			Help: "Total requests rejected at admission",
		},
		[]string{"reason"}, // "backpressure", "circuit_open", "invalid_request"
	)

	GatewayPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_publishes_total",
			Help: "Total queue publish attempts by table and result",
		},
		[]string{"table", "result"}, // result: "ok", "error"
	)

	GatewayPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_publish_duration_seconds",
			Help:    "Queue publish latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"table"},
	)

	GatewayCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Write processor metrics

	ProcessorOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processor_outcomes_total",
			Help: "Terminal message outcomes by table",
		},
		[]string{"table", "outcome"}, // outcome: "completed", "duplicate", "failed", "retried", "dead_lettered", "decode_error"
	)

	ProcessorProtocolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "processor_protocol_duration_seconds",
			Help:    "Write protocol duration per message in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	ProcessorTxErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processor_tx_errors_total",
			Help: "Transaction errors by table and classification",
		},
		[]string{"table", "class"}, // class: "retryable", "non_retryable"
	)

	// Cache keystore metrics

	KeystoreInvalidatedKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keystore_invalidated_keys_total",
			Help: "Cache keys deleted by namespace invalidation",
		},
		[]string{"namespace"},
	)

	KeystoreOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keystore_op_errors_total",
			Help: "Keystore operation errors",
		},
		[]string{"op"}, // "put_tracked", "invalidate", "get"
	)

	// CDC consumer metrics

	CDCEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_events_total",
			Help: "CDC events consumed by table and op code",
		},
		[]string{"table", "op"},
	)

	CDCInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_invalidations_total",
			Help: "Namespace invalidations triggered by CDC events",
		},
		[]string{"namespace"},
	)

	CDCLagSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdc_lag_seconds",
			Help: "Seconds between source commit and invalidation of the latest event",
		},
	)

	// DLQ metrics

	DLQRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_routed_total",
			Help: "Messages routed to the dead-letter stream",
		},
		[]string{"table"},
	)

	DLQReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_replayed_total",
			Help: "Archived dead-letter messages replayed by an operator",
		},
		[]string{"table"},
	)

	// Ledger metrics

	LedgerSweptPending = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_swept_pending_total",
			Help: "Stale pending ledger rows promoted to failed by the sweeper",
		},
	)

	// HTTP surface metrics

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPublish records one gateway publish attempt.
func RecordPublish(table string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayPublishes.WithLabelValues(table, result).Inc()
	GatewayPublishDuration.WithLabelValues(table).Observe(duration.Seconds())
}

// SetCircuitState maps a breaker state name onto the state gauge.
func SetCircuitState(state string) {
	switch state {
	case "open":
		GatewayCircuitState.Set(2)
	case "half-open":
		GatewayCircuitState.Set(1)
	default:
		GatewayCircuitState.Set(0)
	}
}
