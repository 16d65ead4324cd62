package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StoreMetrics records listing store statements and security alerts.
type StoreMetrics struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	failures *prometheus.CounterVec
	alerts   *prometheus.CounterVec
}

// NewStoreMetrics registers the store metrics on the provided registerer.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	if reg == nil {
		return &StoreMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_operation_duration_seconds",
		Help:    "Duration of database statements in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_operations_total",
		Help: "Database statements executed.",
	}, []string{"operation", "table"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_operation_failures_total",
		Help: "Database statements that returned an error.",
	}, []string{"operation", "table"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "security_alerts_total",
		Help: "Security alerts reported, split by whether the threshold was reached.",
	}, []string{"kind", "escalated"})
	reg.MustRegister(duration, total, failures, alerts)
	return &StoreMetrics{
		duration: duration,
		total:    total,
		failures: failures,
		alerts:   alerts,
	}
}

// ObserveQuery records one finished statement.
func (m *StoreMetrics) ObserveQuery(operation, table string, d time.Duration, err error) {
	if m == nil || m.duration == nil {
		return
	}
	op, tbl := normalizeLabel(operation), normalizeLabel(table)
	m.duration.WithLabelValues(op, tbl).Observe(d.Seconds())
	m.total.WithLabelValues(op, tbl).Inc()
	if err != nil {
		m.failures.WithLabelValues(op, tbl).Inc()
	}
}

// IncSecurityAlert counts one reported security alert.
func (m *StoreMetrics) IncSecurityAlert(kind string, escalated bool) {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.WithLabelValues(normalizeLabel(kind), strconv.FormatBool(escalated)).Inc()
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
