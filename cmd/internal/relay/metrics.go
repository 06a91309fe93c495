package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes recorded by Metrics.Delivery.
const (
	DeliveryDelivered = "delivered"
	DeliveryNotFound  = "not_found"
	DeliveryRejected  = "rejected"
	DeliveryFailed    = "failed"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	connections prometheus.Gauge
	events      *prometheus.CounterVec
	persisted   prometheus.Counter
	deliveries  *prometheus.CounterVec
	dropped     prometheus.Counter
}

// NewMetrics registers the relay collectors plus the Go/process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devmatch",
			Subsystem: "relay",
			Name:      "ws_connections",
			Help:      "Open websocket connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devmatch",
			Subsystem: "relay",
			Name:      "ws_events_total",
			Help:      "Inbound websocket envelopes by type.",
		}, []string{"type"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devmatch",
			Subsystem: "relay",
			Name:      "messages_persisted_total",
			Help:      "Messages appended through the REST API.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devmatch",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "sendMessage outcomes.",
		}, []string{"outcome"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devmatch",
			Subsystem: "relay",
			Name:      "ws_dropped_total",
			Help:      "Envelopes dropped because a connection queue was full.",
		}),
	}

	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.connections,
		m.events,
		m.persisted,
		m.deliveries,
		m.dropped,
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Event(typ string) {
	if m != nil {
		m.events.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) Persisted() {
	if m != nil {
		m.persisted.Inc()
	}
}

func (m *Metrics) Delivery(outcome string) {
	if m != nil {
		m.deliveries.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Dropped(n int) {
	if m != nil && n > 0 {
		m.dropped.Add(float64(n))
	}
}
