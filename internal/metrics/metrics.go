// Package metrics exposes the Prometheus gauges/counters/histograms that
// every other package updates as it runs: ingest, manager, segmenter
// decisions, store I/O, and the HTTP/WebSocket API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP API metrics.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aissegment_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aissegment_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// WebSocket broadcast metrics.
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aissegment_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aissegment_websocket_messages_out_total",
			Help: "Total number of tagged messages broadcast over WebSocket",
		},
		[]string{"kind"}, // positional, info, bad (the message's classification)
	)

	WebSocketErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aissegment_websocket_errors_total",
			Help: "Total number of WebSocket write errors",
		},
	)

	// MQTT ingestion metrics.
	MQTTMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aissegment_mqtt_messages_received_total",
			Help: "Total number of MQTT messages received",
		},
		[]string{"topic"},
	)

	MQTTParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aissegment_mqtt_parse_errors_total",
			Help: "Total number of MQTT payload decode errors",
		},
	)

	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aissegment_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Manager (per-ssvid sharding) metrics.
	ManagerActiveShards = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aissegment_manager_active_shards",
			Help: "Number of ssvid shards currently live in the manager",
		},
	)

	ManagerSubmitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aissegment_manager_submit_errors_total",
			Help: "Total number of messages rejected because a shard's queue was full",
		},
	)

	ManagerShardsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aissegment_manager_shards_evicted_total",
			Help: "Total number of shards evicted with a flush (idle timeout, forced or shutdown)",
		},
	)

	// Segmenter decision metrics.
	SegmentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aissegment_segments_created_total",
			Help: "Total number of segments created, by kind",
		},
		[]string{"kind"}, // positional, info, bad, noise
	)

	MatcherOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aissegment_matcher_outcomes_total",
			Help: "Total number of matcher decisions, by outcome",
		},
		[]string{"outcome"}, // assign_existing, start_new, reject_noise
	)

	UnsortedInputErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aissegment_unsorted_input_errors_total",
			Help: "Total number of fatal out-of-order input errors raised by segmenters",
		},
	)

	// Redis snapshot-store metrics.
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aissegment_redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	RedisOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aissegment_redis_operation_errors_total",
			Help: "Total number of Redis operation errors",
		},
		[]string{"operation"},
	)

	RedisConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aissegment_redis_connection_status",
			Help: "Redis connection status (1 = connected, 0 = disconnected)",
		},
	)

	// MySQL retired-segment archive metrics.
	MySQLBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aissegment_mysql_batch_size",
			Help:    "Size of MySQL retired-segment batch inserts",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
	)

	MySQLBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aissegment_mysql_batch_duration_seconds",
			Help:    "Duration of MySQL batch insert operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	MySQLWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aissegment_mysql_write_errors_total",
			Help: "Total number of MySQL write errors",
		},
	)

	MySQLConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aissegment_mysql_connection_status",
			Help: "MySQL connection status (1 = connected, 0 = disconnected)",
		},
	)

	// General application metrics.
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aissegment_app_info",
			Help: "Application build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetAppInfo records the running build's version metadata as a single
// always-1 gauge sample, labeled by version/commit/build time.
func SetAppInfo(version, commit, buildTime string) {
	AppInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
