// Package metrics exposes reconciliation metrics for the unit controller,
// following the Prometheus naming practices.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/windlass-cd/windlass/pkg/deploy"
)

const (
	// MetricsPath is the endpoint to collect reconciliation metrics
	MetricsPath = "/metrics"
)

// MetricsServer collects controller metrics and exposes them as an HTTP
// handler, mounted by the status server at MetricsPath.
type MetricsServer struct {
	registry          *prometheus.Registry
	reconcileCounter  *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	syncCounter       *prometheus.CounterVec
	syncFailures      *prometheus.CounterVec
	unitStatusGauge   *prometheus.GaugeVec
}

// NewMetricsServer returns a new prometheus registry collecting unit
// reconciliation metrics. queueLen reports the current refresh queue depth.
func NewMetricsServer(queueLen func() int) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reconcileCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windlass_unit_reconcile_total",
			Help: "Number of unit reconciliations.",
		},
		[]string{"unit", "sync_status"},
	)
	registry.MustRegister(reconcileCounter)

	reconcileDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "windlass_unit_reconcile_duration_seconds",
			Help:    "Unit reconciliation performance.",
			Buckets: []float64{0.01, 0.05, 0.25, 1, 2.5, 10, 30},
		},
		[]string{"unit"},
	)
	registry.MustRegister(reconcileDuration)

	syncCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windlass_unit_sync_total",
			Help: "Number of unit convergence operations.",
		},
		[]string{"unit", "phase"},
	)
	registry.MustRegister(syncCounter)

	syncFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windlass_unit_sync_failures_total",
			Help: "Number of convergence attempts that failed.",
		},
		[]string{"unit"},
	)
	registry.MustRegister(syncFailures)

	unitStatusGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "windlass_unit_info",
			Help: "Information about deployable units.",
		},
		[]string{"unit", "sync_status"},
	)
	registry.MustRegister(unitStatusGauge)

	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "windlass_refresh_queue_depth",
			Help: "Number of units awaiting reconciliation.",
		},
		func() float64 { return float64(queueLen()) },
	))

	return &MetricsServer{
		registry:          registry,
		reconcileCounter:  reconcileCounter,
		reconcileDuration: reconcileDuration,
		syncCounter:       syncCounter,
		syncFailures:      syncFailures,
		unitStatusGauge:   unitStatusGauge,
	}
}

// Handler returns the metrics HTTP handler for mounting into a server mux
func (m *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncReconcile increments the reconcile counter for a unit and records duration
func (m *MetricsServer) IncReconcile(record deploy.ReconciliationRecord, duration time.Duration) {
	m.reconcileCounter.WithLabelValues(record.Unit, string(record.Status)).Inc()
	m.reconcileDuration.WithLabelValues(record.Unit).Observe(duration.Seconds())
	m.setUnitStatus(record.Unit, record.Status)
}

// IncSync increments the sync counter for a completed convergence operation
func (m *MetricsServer) IncSync(unit string, phase deploy.OperationPhase) {
	m.syncCounter.WithLabelValues(unit, string(phase)).Inc()
}

// IncSyncFailure increments the failed convergence attempt counter
func (m *MetricsServer) IncSyncFailure(unit string) {
	m.syncFailures.WithLabelValues(unit).Inc()
}

func (m *MetricsServer) setUnitStatus(unit string, status deploy.SyncStatusCode) {
	for _, code := range []deploy.SyncStatusCode{
		deploy.SyncStatusUnknown,
		deploy.SyncStatusOutOfSync,
		deploy.SyncStatusProgressing,
		deploy.SyncStatusSynced,
		deploy.SyncStatusDegraded,
	} {
		val := 0.0
		if code == status {
			val = 1.0
		}
		m.unitStatusGauge.WithLabelValues(unit, string(code)).Set(val)
	}
}
