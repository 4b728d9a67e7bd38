// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package metrics provides Prometheus instrumentation for ingestion,
// classification, backfill, retention and scheduler sweeps. Metrics are
// exposed at /metrics in Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook ingestion metrics
	WebhookJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_jobs_total",
			Help: "Total webhook jobs by topic and terminal status",
		},
		[]string{"topic", "status"},
	)

	WebhookQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth",
			Help: "Current webhook queue depth including the in-flight job",
		},
	)

	WebhookJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_job_duration_seconds",
			Help:    "Duration of webhook job handlers in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// Classification metrics
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifications_total",
			Help: "Total order classifications by resulting channel ('' = unclassified)",
		},
		[]string{"channel"},
	)

	// Backfill metrics
	BackfillJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_jobs_total",
			Help: "Total backfill jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	BackfillOrdersFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backfill_orders_fetched_total",
			Help: "Total orders fetched from the upstream admin API during backfill",
		},
	)

	BackfillDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backfill_duration_seconds",
			Help:    "Duration of backfill job processing in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Retention metrics
	RetentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_deleted_total",
			Help: "Total rows deleted by retention purges, by entity",
		},
		[]string{"entity"}, // orders, customers, webhook_jobs, checkout_sessions
	)

	RetentionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retention_duration_seconds",
			Help:    "Duration of a full retention purge for one shop",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	// Scheduler sweep metrics
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Scheduler sweep attempts by sweep name and outcome",
		},
		[]string{"sweep", "outcome"}, // outcome: completed, skipped_lock, error
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of lock-guarded sweeps in seconds",
			Buckets: []float64{0.1, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"sweep"},
	)

	// Upstream client metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Requests to the commerce admin API by outcome",
		},
		[]string{"outcome"}, // ok, http_error, rate_limited, breaker_open
	)
)
