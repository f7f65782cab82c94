// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lp_advisor"

// Metrics groups every collector the engine updates. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Iterations             prometheus.Counter
	IterationDuration      prometheus.Histogram
	PoolFailures           *prometheus.CounterVec
	TicksIngested          *prometheus.CounterVec
	RegimeSwitches         *prometheus.CounterVec
	BlendedHeat            *prometheus.GaugeVec
	RecommendationsEmitted *prometheus.CounterVec
	FrameBuilds            *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry
// alongside the Go runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_iterations_total",
			Help:      "Completed engine iterations",
		}),
		IterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_iteration_seconds",
			Help:      "Wall time of one engine iteration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PoolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_failures_total",
			Help:      "Per-pool iteration failures by stage",
		}, []string{"pool", "stage"}),
		TicksIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_ingested_total",
			Help:      "Ticks stored per pool",
		}, []string{"pool"}),
		RegimeSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regime_switches_total",
			Help:      "Confirmed regime changes",
		}, []string{"pool", "from", "to"}),
		BlendedHeat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blended_heat",
			Help:      "Latest blended heat per pool",
		}, []string{"pool"}),
		RecommendationsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Recommendations published by regime",
		}, []string{"regime"}),
		FrameBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_builds_total",
			Help:      "Returns frame builds by outcome",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Iterations,
		m.IterationDuration,
		m.PoolFailures,
		m.TicksIngested,
		m.RegimeSwitches,
		m.BlendedHeat,
		m.RecommendationsEmitted,
		m.FrameBuilds,
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFrame counts one frame build; ok=false covers data-quality refusals
func (m *Metrics) ObserveFrame(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "insufficient"
	}
	m.FrameBuilds.WithLabelValues(outcome).Inc()
}
