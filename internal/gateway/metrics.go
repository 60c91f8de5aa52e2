package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// Metrics holds the Gateway's prometheus collectors, registered against a
// dedicated registry so tests can construct multiple Gateways without
// colliding on the default global registerer.
type Metrics struct {
	registry  *prometheus.Registry
	received  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	processed *prometheus.CounterVec
	dispatch  prometheus.Histogram
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_received_total",
			Help: "Events accepted by the gateway, by event kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_rejected_total",
			Help: "Events rejected at submission, by event kind.",
		}, []string{"kind"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_processed_total",
			Help: "Events dispatched to handlers, by event kind.",
		}, []string{"kind"}),
		dispatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_event_dispatch_latency_seconds",
			Help:    "Time spent dispatching one event to all of its registered handlers.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(m.received, m.rejected, m.processed, m.dispatch)
	return m
}

// Registry exposes the Gateway's prometheus registry for a /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordReceived(kind types.EventKind) {
	m.received.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordRejected(kind types.EventKind) {
	m.rejected.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordProcessed(kind types.EventKind) {
	m.processed.WithLabelValues(string(kind)).Inc()
}
