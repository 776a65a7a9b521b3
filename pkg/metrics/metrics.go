// Package metrics exposes Prometheus collectors for IPC dispatch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for dispatched requests.
const (
	OutcomeOK                 = "ok"
	OutcomeForbidden          = "forbidden"
	OutcomeUnknownEndpoint    = "unknown_endpoint"
	OutcomeVersionMismatch    = "version_mismatch"
	OutcomeHandlerError       = "handler_error"
	OutcomeTimeout            = "timeout"
	OutcomeSerializationError = "serialization_error"
	OutcomeBodyTooLarge       = "body_too_large"
)

// unresolvedEndpoint labels requests rejected before an endpoint was resolved,
// so unauthenticated callers cannot grow label cardinality.
const unresolvedEndpoint = "_unresolved"

// Metrics contains the dispatcher collectors. A nil *Metrics records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	HandlerErrors   *prometheus.CounterVec
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ipc",
				Subsystem: "dispatcher",
				Name:      "requests_total",
				Help:      "Total number of IPC requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ipc",
				Subsystem: "dispatcher",
				Name:      "request_duration_seconds",
				Help:      "IPC request handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),

		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ipc",
				Subsystem: "dispatcher",
				Name:      "in_flight",
				Help:      "Number of IPC requests currently being handled",
			},
		),

		HandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ipc",
				Subsystem: "handler",
				Name:      "errors_total",
				Help:      "Total number of endpoint handler failures",
			},
			[]string{"endpoint"},
		),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.RequestsTotal, m.RequestDuration, m.InFlight, m.HandlerErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Begin marks a request as in flight and returns the function that records
// its completion.
func (m *Metrics) Begin() func(endpoint, outcome string) {
	if m == nil {
		return func(string, string) {}
	}
	start := time.Now()
	m.InFlight.Inc()
	return func(endpoint, outcome string) {
		m.InFlight.Dec()
		if endpoint == "" {
			endpoint = unresolvedEndpoint
		}
		m.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
		m.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if outcome == OutcomeHandlerError || outcome == OutcomeTimeout {
			m.HandlerErrors.WithLabelValues(endpoint).Inc()
		}
	}
}
