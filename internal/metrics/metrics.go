// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package metrics provides Prometheus instrumentation for the territory
// pipeline: poll cycle outcomes, persistence results, broadcast fan-out,
// SSE sessions, and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequoia_poll_cycles_total",
			Help: "Total poll cycles by outcome",
		},
		[]string{"outcome"}, // "changes", "snapshot", "unchanged", "fetch_error", "aborted"
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sequoia_poll_cycle_duration_seconds",
			Help:    "Duration of one poll cycle including diff, persist, and broadcast",
			Buckets: prometheus.DefBuckets,
		},
	)

	Territories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequoia_territories",
			Help: "Current number of territories in the live snapshot",
		},
	)

	StreamSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequoia_stream_seq",
			Help: "Last assigned stream sequence number",
		},
	)

	// Persistence metrics
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequoia_persist_failures_total",
			Help: "Total failures while persisting update event batches",
		},
	)

	DroppedUpdateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequoia_dropped_update_events_total",
			Help: "Total update events broadcast without durable persistence",
		},
	)

	PersistedUpdateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequoia_persisted_update_events_total",
			Help: "Total update events persisted before broadcast",
		},
	)

	SnapshotsCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequoia_ownership_snapshots_total",
			Help: "Total ownership snapshots captured for history replay",
		},
	)

	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequoia_retention_deleted_rows_total",
			Help: "Total rows deleted by the retention task",
		},
		[]string{"table"}, // "territory_events", "territory_snapshots"
	)

	// Broadcast / SSE metrics
	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequoia_sse_clients",
			Help: "Current number of connected SSE clients",
		},
	)

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequoia_ws_clients",
			Help: "Current number of connected websocket clients",
		},
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequoia_events_broadcast_total",
			Help: "Total events published to the broadcast channel",
		},
		[]string{"type"}, // "snapshot", "update"
	)

	SubscriberLagReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequoia_subscriber_lag_replays_total",
			Help: "Total snapshot replays forced by lagged subscribers",
		},
	)

	// Live-state / history API metrics
	LiveStateRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequoia_live_state_requests_total",
			Help: "Total requests to the gap-safe live-state handoff endpoint",
		},
	)

	HistoryQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sequoia_history_query_duration_seconds",
			Help:    "Duration of history reconstruction and event queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"}, // "at", "events", "bounds"
	)

	// Upstream metrics
	UpstreamFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequoia_upstream_fetches_total",
			Help: "Total upstream fetches by target and outcome",
		},
		[]string{"target", "outcome"}, // target: "territories", "guild", "terrextra", "colors"
	)

	GuildCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequoia_guild_cache_size",
			Help: "Current number of cached guild lookups",
		},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequoia_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sequoia_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordHistoryQuery records the duration of one history query.
func RecordHistoryQuery(query string, duration time.Duration) {
	HistoryQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordUpstreamFetch records one upstream fetch attempt.
func RecordUpstreamFetch(target string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	UpstreamFetches.WithLabelValues(target, outcome).Inc()
}
