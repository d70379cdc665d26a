// Package metrics defines the gateway's Prometheus series and the
// /metrics HTTP handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sse_connections_total",
		Help: "Total SSE connections established.",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_connections_active",
		Help: "Current number of active SSE connections.",
	})

	ConnectionsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sse_connections_failed_total",
		Help: "Connection attempts rejected, by reason.",
	}, []string{"reason"})

	ConnectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sse_connection_duration_seconds",
		Help:    "Connection lifetime before disconnect.",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	})

	FanoutSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sse_fanout_sent_total",
		Help: "Events successfully enqueued to a connection, by channel.",
	}, []string{"channel"})

	FanoutDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sse_fanout_dropped_total",
		Help: "Events dropped because a connection's queue was full, by channel.",
	}, []string{"channel"})

	ReplayWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sse_replay_store_writes_total",
		Help: "Replay store writes flushed successfully.",
	})

	ReplayWriteErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sse_replay_store_write_errors_total",
		Help: "Replay store batches dropped due to timeout or error.",
	})

	ReplayBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sse_replay_store_batch_size",
		Help:    "Number of requests flushed per replay store batch.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	ReplayServedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sse_replay_served_events_total",
		Help: "Events returned across all get_after calls.",
	})

	HeartbeatTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sse_heartbeat_ticks_total",
		Help: "Heartbeat ticks published.",
	})

	DiscoveryOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sse_discovery_operations_total",
		Help: "Service discovery operations, by op and outcome.",
	}, []string{"op", "outcome"})

	IngestMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sse_ingest_messages_total",
		Help: "Messages accepted from an ingestion adapter.",
	}, []string{"adapter"})

	IngestErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sse_ingest_errors_total",
		Help: "Ingestion adapter errors, by adapter.",
	}, []string{"adapter"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsFailed,
		ConnectionDuration,
		FanoutSentTotal,
		FanoutDroppedTotal,
		ReplayWritesTotal,
		ReplayWriteErrorsTotal,
		ReplayBatchSize,
		ReplayServedEventsTotal,
		HeartbeatTicksTotal,
		DiscoveryOperationsTotal,
		IngestMessagesTotal,
		IngestErrorsTotal,
	)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
