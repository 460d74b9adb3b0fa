// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/writeflow-io/writeflow/internal/middleware"
	"github.com/writeflow-io/writeflow/internal/models"
)

// RouterConfig controls the HTTP surface.
type RouterConfig struct {
	// AllowedOrigins is the CORS origin allowlist.
	AllowedOrigins []string

	// RateLimit is requests per client IP per window on the write
	// endpoints. Zero disables rate limiting.
	RateLimit int

	// RateLimitWindow is the rate-limit window.
	RateLimitWindow time.Duration
}

// DefaultRouterConfig returns router defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins:  []string{"*"},
		RateLimit:       300,
		RateLimitWindow: time.Minute,
	}
}

// NewRouter assembles the ingress router. dlq may be nil when the archive
// is disabled; the admin routes are then not mounted.
func NewRouter(h *Handler, dlq *DLQHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", IdempotencyKeyHeader, middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Prometheus)

		// Write submission, one route per supported table.
		r.Group(func(r chi.Router) {
			if cfg.RateLimit > 0 {
				r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RateLimitWindow))
			}
			for _, table := range models.SupportedTables {
				r.Post("/"+table.String(), h.SubmitWrite(table))
			}
		})

		r.Get("/status/{operation_id}", h.Status)
		r.Get("/health", h.Health)

		if dlq != nil {
			r.Route("/admin/dlq", func(r chi.Router) {
				r.Get("/", dlq.List)
				r.Post("/replay", dlq.ReplayAll)
				r.Get("/{operation_id}", dlq.Get)
				r.Delete("/{operation_id}", dlq.Delete)
				r.Post("/{operation_id}/replay", dlq.Replay)
			})
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
