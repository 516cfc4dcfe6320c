// Package telemetry exposes the Prometheus counters and histograms named in
// spec §7: orders placed by terminal status, and end-to-end execution
// latency from Pending to a terminal state.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors. A nil *Metrics is safe to call
// methods on (they become no-ops), so callers that build telemetry
// optionally never need a separate presence check.
type Metrics struct {
	ordersPlaced       *prometheus.CounterVec
	executionDuration  prometheus.Histogram
}

// New creates and registers the hedging engine's metrics against reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hedgebridge_orders_placed_total",
			Help: "Broker orders placed, labeled by terminal status.",
		}, []string{"status"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hedgebridge_execution_duration_ms",
			Help:    "Milliseconds from execution creation (Pending) to a terminal state.",
			Buckets: prometheus.ExponentialBuckets(50, 2, 12),
		}),
	}
	reg.MustRegister(m.ordersPlaced, m.executionDuration)
	return m
}

// RecordOrderPlaced increments the orders_placed counter for the given
// terminal status ("success", "failed", or "pending" for a still-in-flight
// submission).
func (m *Metrics) RecordOrderPlaced(status string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(status).Inc()
}

// ObserveExecutionDuration records the Pending-to-terminal latency.
func (m *Metrics) ObserveExecutionDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.executionDuration.Observe(float64(d.Milliseconds()))
}

// Handler returns the promhttp handler for reg, for mounting at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
