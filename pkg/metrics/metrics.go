package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docflow"

// Outcome labels used by the services.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type MetricsCollector struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latencies  *prometheus.HistogramVec
	sizes      *prometheus.HistogramVec
}

// NewMetricsCollector registers the collectors on reg. A nil reg gets a fresh
// private registry, which keeps tests independent of each other.
func NewMetricsCollector(reg *prometheus.Registry) *MetricsCollector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	mc := &MetricsCollector{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Document workflow operations by outcome.",
		}, []string{"operation", "outcome"}),
		latencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of document workflow operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		sizes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blob_size_bytes",
			Help:      "Size of stored document blobs.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"operation"}),
	}
	reg.MustRegister(mc.operations, mc.latencies, mc.sizes)
	return mc
}

func (mc *MetricsCollector) IncrementCounter(operation, outcome string) {
	mc.operations.WithLabelValues(operation, outcome).Inc()
}

func (mc *MetricsCollector) Counter(operation, outcome string) prometheus.Counter {
	return mc.operations.WithLabelValues(operation, outcome)
}

func (mc *MetricsCollector) ObserveLatency(operation string, d time.Duration) {
	mc.latencies.WithLabelValues(operation).Observe(d.Seconds())
}

func (mc *MetricsCollector) ObserveSize(operation string, size int64) {
	mc.sizes.WithLabelValues(operation).Observe(float64(size))
}

// Observe records one finished operation: its outcome derived from err and
// the time elapsed since start.
func (mc *MetricsCollector) Observe(operation string, start time.Time, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	mc.IncrementCounter(operation, outcome)
	mc.ObserveLatency(operation, time.Since(start))
}

func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}
