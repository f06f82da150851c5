// Package metrics provides Prometheus instrumentation for secondbrain.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "secondbrain"

// Manager owns a private registry and every collector. A nil or disabled
// Manager accepts all Record calls and does nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Heat
	decayRuns          *prometheus.CounterVec
	decayRecords       *prometheus.CounterVec
	decayFailedWindows prometheus.Counter
	decayDuration      *prometheus.HistogramVec
	boosts             *prometheus.CounterVec
	boostFailures      *prometheus.CounterVec

	// Ranking
	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	embedCache     *prometheus.CounterVec

	// Dedup
	dedupPairs *prometheus.CounterVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool

	DecayDurationBuckets  []float64
	SearchDurationBuckets []float64
	HTTPDurationBuckets   []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		DecayDurationBuckets:  []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		SearchDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		HTTPDurationBuckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initHeatMetrics(cfg)
	m.initRankingMetrics(cfg)
	m.initDedupMetrics()
	m.initHTTPMetrics(cfg)

	return m
}

// NoOpManager returns a disabled manager.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Registry exposes the private registry, mostly for tests.
func (m *Manager) Registry() *prometheus.Registry {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
