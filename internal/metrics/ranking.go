package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initRankingMetrics(cfg Config) {
	m.searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of searches by status",
		},
		[]string{"status"},
	)

	m.searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency in seconds, including query embedding",
			Buckets:   cfg.SearchDurationBuckets,
		},
	)

	m.embedCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_cache_lookups_total",
			Help:      "Query embedding cache lookups by result",
		},
		[]string{"result"},
	)

	m.registry.MustRegister(m.searches)
	m.registry.MustRegister(m.searchDuration)
	m.registry.MustRegister(m.embedCache)
}

// RecordSearch records one search and its latency.
func (m *Manager) RecordSearch(status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.searches.WithLabelValues(status).Inc()
	m.searchDuration.Observe(duration.Seconds())
}

// RecordEmbedCache records a query embedding cache hit or miss.
func (m *Manager) RecordEmbedCache(hit bool) {
	if !m.Enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embedCache.WithLabelValues(result).Inc()
}
