// Package metrics declares the prometheus collectors for the dashboard
// process. All collectors are registered on the default registry and served
// from the metrics listener in cmd/dashboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dashboard_build_info",
		Help: "Build information for the dashboard binary",
	}, []string{"version", "commit", "date"})

	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_events_ingested_total",
		Help: "Network events ingested into the event log, by event type",
	}, []string{"event_type"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_feed_messages_dropped_total",
		Help: "Inbound feed messages dropped at the ingestion boundary, by reason",
	}, []string{"reason"})

	HistoryReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_history_reloads_total",
		Help: "Full event log reloads triggered by history backfill messages",
	})

	TransactionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_transactions_evicted_total",
		Help: "Transactions dropped by the aggregator capacity bound",
	})

	EventsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_events_evicted_total",
		Help: "Events dropped by the event log ring buffer cap",
	})

	EventLogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_event_log_size",
		Help: "Events currently retained in the event log",
	})

	WindowQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dashboard_window_query_duration_seconds",
		Help:    "Duration of windowed event log queries",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
	})

	SnapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_topology_snapshot_duration_seconds",
		Help:    "Duration of topology snapshot reconstruction, by mode",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
	}, []string{"mode"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_websocket_clients",
		Help: "UI websocket clients currently connected to the broadcast hub",
	})
)
