package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	m := NewManager(DefaultConfig())
	require.NotNil(t, m)
	assert.True(t, m.Enabled())
	assert.NotNil(t, m.Registry())
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)
	assert.False(t, m.Enabled())
	assert.Nil(t, m.Registry())

	// Recording on a disabled manager is a no-op.
	m.RecordDecayRun("simple", 10, 0, time.Second)
	m.RecordSearch("ok", time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled())
	m.RecordBoost("access", 1)
	m.RecordEmbedCache(true)
	m.RecordDedupRun(1, 1, 0, 0)
	m.RecordHTTPRequest("GET", "/api/health", "200", time.Millisecond)
}

func TestRecordDecayRun(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordDecayRun("advanced", 40, 0, time.Second)
	m.RecordDecayRun("advanced", 10, 2, time.Second)

	assert.Equal(t, 50.0, testutil.ToFloat64(m.decayRecords.WithLabelValues("advanced")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decayFailedWindows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decayRuns.WithLabelValues("advanced", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decayRuns.WithLabelValues("advanced", "ok")))
}

func TestRecordBoostAndCache(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordBoost("batch", 3)
	m.RecordBoostFailure("batch")
	m.RecordEmbedCache(true)
	m.RecordEmbedCache(false)
	m.RecordEmbedCache(false)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.boosts.WithLabelValues("batch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.boostFailures.WithLabelValues("batch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embedCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.embedCache.WithLabelValues("miss")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.RecordDedupRun(4, 2, 1, 1)
	m.RecordHTTPRequest("GET", "/api/search", "200", 5*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, `secondbrain_dedup_pairs_total{outcome="merged"} 2`))
	assert.True(t, strings.Contains(body, "secondbrain_http_requests_total"))
}
