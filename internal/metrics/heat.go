package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initHeatMetrics(cfg Config) {
	m.decayRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decay_runs_total",
			Help:      "Total number of decay runs by mode and status",
		},
		[]string{"mode", "status"},
	)

	m.decayRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decay_records_total",
			Help:      "Total number of records whose heat was decayed",
		},
		[]string{"mode"},
	)

	m.decayFailedWindows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decay_failed_windows_total",
			Help:      "Total number of decay windows that failed and were skipped",
		},
	)

	m.decayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decay_duration_seconds",
			Help:      "Decay run duration in seconds",
			Buckets:   cfg.DecayDurationBuckets,
		},
		[]string{"mode"},
	)

	m.boosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boosted_records_total",
			Help:      "Total number of records boosted by kind",
		},
		[]string{"kind"},
	)

	m.boostFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boost_failures_total",
			Help:      "Total number of failed boost statements by kind",
		},
		[]string{"kind"},
	)

	m.registry.MustRegister(m.decayRuns)
	m.registry.MustRegister(m.decayRecords)
	m.registry.MustRegister(m.decayFailedWindows)
	m.registry.MustRegister(m.decayDuration)
	m.registry.MustRegister(m.boosts)
	m.registry.MustRegister(m.boostFailures)
}

// RecordDecayRun records one completed decay run.
func (m *Manager) RecordDecayRun(mode string, records, failedWindows int, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	status := "ok"
	if failedWindows > 0 {
		status = "partial"
	}
	m.decayRuns.WithLabelValues(mode, status).Inc()
	m.decayRecords.WithLabelValues(mode).Add(float64(records))
	m.decayFailedWindows.Add(float64(failedWindows))
	m.decayDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordBoost records n records boosted by kind (access, batch, related, pin).
func (m *Manager) RecordBoost(kind string, n int) {
	if !m.Enabled() {
		return
	}
	m.boosts.WithLabelValues(kind).Add(float64(n))
}

// RecordBoostFailure records a boost statement that returned an error.
func (m *Manager) RecordBoostFailure(kind string) {
	if !m.Enabled() {
		return
	}
	m.boostFailures.WithLabelValues(kind).Inc()
}
