package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/secondbrain/internal/config"
	"github.com/lazypower/secondbrain/internal/store"
)

func TestSchedulerRunsDecayAtStart(t *testing.T) {
	db := testDB(t)
	seed(t, db, &store.Record{ID: "a", Content: "a", Heat: store.Float(1.0), CreatedAt: daysAgo(1)})

	m := newRecordingMetrics()
	cfg := testConfig()
	heat := NewHeatService(db, cfg.Heat, WithClock(fixedClock()), WithMetrics(m))
	s := NewScheduler(heat, nil, config.ScheduleConfig{DecayInterval: time.Hour})

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.decayRuns == 1
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	assert.Less(t, *mustGet(t, db, "a").Heat, 1.0)
}

func TestSchedulerRunsDedupOnInterval(t *testing.T) {
	db := testDB(t)
	seedTriplet(t, db)

	m := newRecordingMetrics()
	cfg := testConfig()
	heat := NewHeatService(db, cfg.Heat, WithClock(fixedClock()))
	dedup := NewDeduplicationService(db, nil, cfg.Dedup, WithClock(fixedClock()), WithMetrics(m))
	s := NewScheduler(heat, dedup, config.ScheduleConfig{
		DedupInterval: 20 * time.Millisecond,
		DedupDryRun:   true,
	})

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.dedupRuns >= 1
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	mustGet(t, db, "a")
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	heat := NewHeatService(testDB(t), testConfig().Heat)
	s := NewScheduler(heat, nil, config.ScheduleConfig{})
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
