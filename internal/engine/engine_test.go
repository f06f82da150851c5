package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lazypower/secondbrain/internal/config"
	"github.com/lazypower/secondbrain/internal/store"
)

// Shared fixtures for the engine tests.

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() config.Config {
	return config.Default()
}

func seed(t *testing.T, db *store.DB, recs ...*store.Record) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, db.Upsert(context.Background(), r), "seed %s", r.ID)
	}
}

func mustGet(t *testing.T, db *store.DB, id string) *store.Record {
	t.Helper()
	r, err := db.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func daysAgo(d float64) int64 {
	return testNow.Add(-time.Duration(d * float64(24*time.Hour))).UnixMilli()
}

// fakeEmbedder returns fixed vectors by exact text.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float64
	err     error
	calls   int
}

func newFakeEmbedder(vectors map[string][]float64) *fakeEmbedder {
	return &fakeEmbedder{vectors: vectors}
}

func (f *fakeEmbedder) Model() string   { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return 3 }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for %q", ErrInvalidInput, text)
	}
	return append([]float64(nil), v...), nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingMetrics captures calls for assertions.
type recordingMetrics struct {
	nopMetrics
	mu          sync.Mutex
	decayRuns   int
	boosts      map[string]int
	cacheHits   int
	cacheMisses int
	dedupRuns   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{boosts: map[string]int{}}
}

func (m *recordingMetrics) RecordDecayRun(string, int, int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decayRuns++
}

func (m *recordingMetrics) RecordBoost(kind string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boosts[kind] += n
}

func (m *recordingMetrics) RecordEmbedCache(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *recordingMetrics) RecordDedupRun(int, int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedupRuns++
}
