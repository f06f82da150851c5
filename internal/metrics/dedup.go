package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initDedupMetrics() {
	m.dedupPairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_pairs_total",
			Help:      "Duplicate pairs handled by outcome (found, merged, skipped, failed)",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(m.dedupPairs)
}

// RecordDedupRun records the pair outcomes of one deduplication run.
func (m *Manager) RecordDedupRun(found, merged, skipped, failed int) {
	if !m.Enabled() {
		return
	}
	m.dedupPairs.WithLabelValues("found").Add(float64(found))
	m.dedupPairs.WithLabelValues("merged").Add(float64(merged))
	m.dedupPairs.WithLabelValues("skipped").Add(float64(skipped))
	m.dedupPairs.WithLabelValues("failed").Add(float64(failed))
}
