// Package metrics provides Prometheus metrics for the runner and init service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Object store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repl_store_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repl_store_operations_total",
			Help: "Total object store operations",
		},
		[]string{"operation", "status"},
	)

	replicationKeysCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repl_replication_keys_copied_total",
			Help: "Keys copied by prefix replication jobs",
		},
	)

	replicationJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repl_replication_jobs_total",
			Help: "Prefix replication jobs by outcome",
		},
		[]string{"status"},
	)

	mirrorSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repl_mirror_syncs_total",
			Help: "Live edit mirror uploads by strategy and outcome",
		},
		[]string{"strategy", "status"},
	)

	// Session metrics
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repl_active_connections",
			Help: "Number of open session websockets",
		},
	)

	activeTerminals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repl_active_terminals",
			Help: "Number of live terminal processes",
		},
	)

	terminalSpawnFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repl_terminal_spawn_failures_total",
			Help: "Terminal processes that failed to start",
		},
	)

	protocolEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repl_protocol_events_total",
			Help: "Inbound protocol events by type",
		},
		[]string{"event"},
	)

	identityRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repl_identity_rejections_total",
			Help: "Connections closed because no session identity resolved",
		},
	)
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordStoreOperation records one object store call.
func RecordStoreOperation(operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
}

// RecordReplicationJob records the outcome of a CopyPrefix job.
func RecordReplicationJob(keys int, success bool) {
	replicationKeysCopied.Add(float64(keys))
	replicationJobsTotal.WithLabelValues(statusLabel(success)).Inc()
}

func RecordMirrorSync(strategy string, success bool) {
	mirrorSyncsTotal.WithLabelValues(strategy, statusLabel(success)).Inc()
}

func ConnectionOpened() { activeConnections.Inc() }
func ConnectionClosed() { activeConnections.Dec() }

func TerminalStarted() { activeTerminals.Inc() }
func TerminalStopped() { activeTerminals.Dec() }

func RecordTerminalSpawnFailure() { terminalSpawnFailures.Inc() }

func RecordProtocolEvent(event string) {
	protocolEventsTotal.WithLabelValues(event).Inc()
}

func RecordIdentityRejection() { identityRejectionsTotal.Inc() }

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
