// Package observability holds the resolver's Prometheus collectors.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liqshield"

// Metrics groups the resolver collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ordersSubmitted *prometheus.CounterVec
	fills           *prometheus.CounterVec
	oracleRequests  *prometheus.CounterVec
	fillable        prometheus.Gauge
	httpLatency     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. Pass
// prometheus.DefaultRegisterer in production and prometheus.NewRegistry() in
// tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Order submissions segmented by outcome.",
		}, []string{"outcome"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fill attempts segmented by outcome.",
		}, []string{"outcome"}),
		oracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_requests_total",
			Help:      "Price lookups segmented by source and outcome.",
		}, []string{"source", "outcome"}),
		fillable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fillable_orders",
			Help:      "Orders whose trigger held at the last evaluation.",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP handlers by route pattern and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.ordersSubmitted, m.fills, m.oracleRequests, m.fillable, m.httpLatency)
	}
	return m
}

// OrderSubmitted counts a submission; outcome is "accepted", "conflict" or
// "rejected".
func (m *Metrics) OrderSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(outcome).Inc()
}

// FillAttempt counts a fill by outcome ("filled", "reverted", "failed",
// "busy", "not_found").
func (m *Metrics) FillAttempt(outcome string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(outcome).Inc()
}

// OracleRequest counts a price lookup.
func (m *Metrics) OracleRequest(source string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.oracleRequests.WithLabelValues(source, outcome).Inc()
}

// SetFillable records the size of the last fillable set.
func (m *Metrics) SetFillable(n int) {
	if m == nil {
		return
	}
	m.fillable.Set(float64(n))
}

// ObserveHTTP records a handler latency.
func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.httpLatency.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}
