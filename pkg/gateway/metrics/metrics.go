// Package metrics exposes the process's Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge process.
type Metrics struct {
	registry *prometheus.Registry

	CallsActive   prometheus.Gauge
	CallsTotal    prometheus.Counter
	DroppedFrames prometheus.Counter
	ModelEvents   *prometheus.CounterVec
	MintsTotal    *prometheus.CounterVec
}

// New creates a Metrics instance with every metric registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voxline"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Bridge calls currently connected",
		}),
		CallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total bridge calls accepted",
		}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "egress_frames_dropped_total",
			Help:      "Egress frames dropped on queue overflow",
		}),
		ModelEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_events_total",
			Help:      "Model server events received, by canonical type",
		}, []string{"type"}),
		MintsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_mints_total",
			Help:      "Ephemeral credential mints, by outcome",
		}, []string{"outcome"}),
	}

	registry.MustRegister(m.CallsActive, m.CallsTotal, m.DroppedFrames, m.ModelEvents, m.MintsTotal)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Bridge observer hooks.

func (m *Metrics) CallStarted() {
	m.CallsTotal.Inc()
	m.CallsActive.Inc()
}

func (m *Metrics) CallEnded() { m.CallsActive.Dec() }

func (m *Metrics) FramesDropped(n int) { m.DroppedFrames.Add(float64(n)) }

func (m *Metrics) ModelEvent(kind string) { m.ModelEvents.WithLabelValues(kind).Inc() }
