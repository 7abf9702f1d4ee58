// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package metrics is the fleet's Prometheus instrumentation, mirroring the
// teacher's metrics package shape (promauto counters/gauges registered on
// the default registry at package init) but scoped to the supervisor/worker
// domain instead of media-analytics HTTP/DB/sync metrics. No /metrics
// handler is mounted by any process in this repository.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesRoutedTotal counts every envelope the router forwards to a
	// peer worker, labeled by worker type and outcome.
	MessagesRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_messages_routed_total",
			Help: "Total number of envelopes routed to a worker",
		},
		[]string{"worker_type", "outcome"},
	)

	// WorkerSpawnsTotal counts process launches, labeled by worker type and
	// whether the spawn succeeded or exhausted its one retry.
	WorkerSpawnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_worker_spawns_total",
			Help: "Total number of worker process spawn attempts",
		},
		[]string{"worker_type", "outcome"},
	)

	// WorkerRestartsTotal counts exit-triggered and router-triggered
	// restarts, labeled by worker type.
	WorkerRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_worker_restarts_total",
			Help: "Total number of worker restarts after exit or router-initiated kill",
		},
		[]string{"worker_type"},
	)

	// PendingMessages tracks the live size of the pending table per worker
	// type, the queue depth a replacement worker drains on restart.
	PendingMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_pending_messages",
			Help: "Number of envelopes currently awaiting acknowledgment per worker type",
		},
		[]string{"worker_type"},
	)

	// BusyRejectionsTotal counts SERVER_BUSY replies the router observed,
	// labeled by worker type.
	BusyRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_busy_rejections_total",
			Help: "Total number of SERVER_BUSY replies observed by the router",
		},
		[]string{"worker_type"},
	)

	// LiveWorkers tracks the current registry size per worker type.
	LiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_live_workers",
			Help: "Number of registered live workers per worker type",
		},
		[]string{"worker_type"},
	)

	// HTTPRequestsTotal counts requests handled by a front-end worker's
	// (HttpWorker/GraphQLWorker) HTTP surface.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_http_requests_total",
			Help: "Total HTTP requests handled by a front-end worker",
		},
		[]string{"worker", "method", "path", "status"},
	)

	// HTTPRequestDuration is request latency for a front-end worker's HTTP
	// surface.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_http_request_duration_seconds",
			Help:    "HTTP request latency for a front-end worker",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker", "method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrently-handled requests for a
	// front-end worker.
	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_http_requests_in_flight",
			Help: "Number of HTTP requests currently being handled by a front-end worker",
		},
		[]string{"worker"},
	)
)
