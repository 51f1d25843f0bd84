// Package telemetry exposes Prometheus counters for the stream pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the instrumentation shared by the stream workers and the
// alert engine.
type Metrics struct {
	FramesTotal     *prometheus.CounterVec // ws frames processed, by venue and kind
	ReconnectsTotal *prometheus.CounterVec // socket reconnects, by venue
	ResyncsTotal    prometheus.Counter     // venue-A sequence-gap resyncs
	AlertsTotal     *prometheus.CounterVec // alerts emitted, by level
	RunningSymbols  prometheus.Gauge       // current venue-A symbol count
}

// New registers the watcher metric set on the default registry, which the
// /metrics endpoint serves.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metric set on a specific registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spotwatch_frames_total",
			Help: "WebSocket frames processed, by venue and frame kind.",
		}, []string{"venue", "kind"}),
		ReconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spotwatch_reconnects_total",
			Help: "Stream reconnect attempts, by venue.",
		}, []string{"venue"}),
		ResyncsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spotwatch_book_resyncs_total",
			Help: "Order book resyncs triggered by sequence gaps.",
		}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spotwatch_alerts_total",
			Help: "Alerts emitted, by level.",
		}, []string{"level"}),
		RunningSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spotwatch_running_symbols",
			Help: "Venue-A symbols currently streaming.",
		}),
	}
}
