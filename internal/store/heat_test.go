package store

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = HeatParams{Initial: 1.0, Min: 0.05, Max: 2.0, DecayRate: 0.97}

func heatOf(t *testing.T, db *DB, id string) float64 {
	t.Helper()
	r, err := db.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, r.Heat, "record %s has no heat", id)
	return *r.Heat
}

func decayAll(t *testing.T, db *DB, req DecayRequest, batch int) int {
	t.Helper()
	ctx := context.Background()
	total := 0
	var after int64
	for {
		w, err := db.NextDecayWindow(ctx, after, batch, req.Partition, req.Partitions)
		require.NoError(t, err)
		if w.Rows == 0 {
			return total
		}
		req.Window = w
		n, err := db.ApplyDecayWindow(ctx, req)
		require.NoError(t, err)
		total += n
		after = w.LastRowID
	}
}

func TestRecencyHeat(t *testing.T) {
	assert.Equal(t, 1.0, RecencyHeat(time.Hour))
	assert.Equal(t, 0.85, RecencyHeat(12*time.Hour))
	assert.Equal(t, 0.7, RecencyHeat(30*time.Hour))
	assert.Equal(t, 0.5, RecencyHeat(5*24*time.Hour))
	assert.Equal(t, 0.3, RecencyHeat(30*24*time.Hour))
}

func TestDecayWindowsCoverAllRows(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 7; i++ {
		seed(t, db, &Record{ID: string(rune('a' + i)), Content: "x", Heat: Float(1.0)})
	}
	seed(t, db, &Record{ID: "pinned", Content: "p", Heat: Float(2.0), Pinned: true})

	ctx := context.Background()
	w, err := db.NextDecayWindow(ctx, 0, 3, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, w.Rows)
	assert.LessOrEqual(t, w.FirstRowID, w.LastRowID)

	n := decayAll(t, db, DecayRequest{Mode: DecaySimple, Params: testParams, IdleBefore: time.Now()}, 3)
	assert.Equal(t, 7, n)
	assert.InDelta(t, 0.97, heatOf(t, db, "a"), 1e-9)
	assert.Equal(t, 2.0, heatOf(t, db, "pinned"))
}

func TestSimpleDecaySkipsRecentlyAccessed(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	seed(t, db,
		&Record{ID: "idle", Content: "x", Heat: Float(1.0), LastAccessed: Int64(now.Add(-48 * time.Hour).UnixMilli())},
		&Record{ID: "busy", Content: "y", Heat: Float(1.0), LastAccessed: Int64(now.Add(-time.Hour).UnixMilli())},
		&Record{ID: "never", Content: "z"},
	)

	n := decayAll(t, db, DecayRequest{Mode: DecaySimple, Params: testParams, IdleBefore: now.Add(-24 * time.Hour)}, 100)
	assert.Equal(t, 2, n)
	assert.InDelta(t, 0.97, heatOf(t, db, "idle"), 1e-9)
	assert.Equal(t, 1.0, heatOf(t, db, "busy"))
	// Legacy rows decay from the initial heat.
	assert.InDelta(t, 0.97, heatOf(t, db, "never"), 1e-9)
}

func TestSimpleDecayFloorsAtMin(t *testing.T) {
	db := testDB(t)
	seed(t, db, &Record{ID: "cold", Content: "x", Heat: Float(0.051)})

	decayAll(t, db, DecayRequest{Mode: DecaySimple, Params: testParams, IdleBefore: time.Now()}, 100)
	assert.Equal(t, testParams.Min, heatOf(t, db, "cold"))
}

func TestAdvancedDecay(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	tenDays := now.Add(-10 * 24 * time.Hour).UnixMilli()
	seed(t, db,
		&Record{ID: "plain", Content: "x", Heat: Float(1.0), CreatedAt: tenDays},
		&Record{ID: "popular", Content: "y", Heat: Float(1.0), CreatedAt: tenDays, AccessCount: 20, Importance: Float(2.0)},
		&Record{ID: "ancient", Content: "z", Heat: Float(1.0), CreatedAt: now.Add(-3650 * 24 * time.Hour).UnixMilli()},
	)

	n := decayAll(t, db, DecayRequest{Mode: DecayAdvanced, Params: testParams, Now: now}, 100)
	assert.Equal(t, 3, n)

	want := math.Pow(0.97, 10) * math.Log(2)
	assert.InDelta(t, want, heatOf(t, db, "plain"), 1e-3)
	assert.Equal(t, testParams.Max, heatOf(t, db, "popular"), "2.0 * 0.737 * ln(22) exceeds max")
	assert.Equal(t, testParams.Min, heatOf(t, db, "ancient"))
}

func TestApplyDecayUnknownMode(t *testing.T) {
	db := testDB(t)
	_, err := db.ApplyDecayWindow(context.Background(), DecayRequest{Mode: "bogus", Window: DecayWindow{Rows: 1}})
	assert.Error(t, err)
}

func TestPartitionedWindowsAreDisjoint(t *testing.T) {
	db := testDB(t)
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	for _, id := range ids {
		seed(t, db, &Record{ID: id, Content: id, Heat: Float(1.0)})
	}

	total := 0
	for p := 0; p < 3; p++ {
		total += decayAll(t, db, DecayRequest{Mode: DecaySimple, Params: testParams, IdleBefore: time.Now(), Partition: p, Partitions: 3}, 2)
	}
	assert.Equal(t, len(ids), total)
	for _, id := range ids {
		assert.InDelta(t, 0.97, heatOf(t, db, id), 1e-9, "each row decays exactly once")
	}
}

func TestBoostOne(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Now()
	seed(t, db,
		&Record{ID: "r", Content: "x", Heat: Float(1.9)},
		&Record{ID: "legacy", Content: "y"},
		&Record{ID: "pin", Content: "z", Heat: Float(2.0), Pinned: true},
	)

	heat, found, err := db.BoostOne(ctx, "r", 0.15, testParams, now)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2.0, heat, "capped at max")

	heat, _, err = db.BoostOne(ctx, "legacy", 0.15, testParams, now)
	require.NoError(t, err)
	assert.InDelta(t, 1.15, heat, 1e-9)

	heat, _, err = db.BoostOne(ctx, "pin", 0.15, testParams, now)
	require.NoError(t, err)
	assert.Equal(t, 2.0, heat)

	r, err := db.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 1, r.AccessCount)
	require.NotNil(t, r.LastAccessed)
	assert.Equal(t, now.UnixMilli(), *r.LastAccessed)

	_, found, err = db.BoostOne(ctx, "missing", 0.15, testParams, now)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoostOneConcurrent(t *testing.T) {
	// A file database gives each goroutine its own connection.
	db, err := Open(t.TempDir() + "/boost.db")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, db.Upsert(ctx, &Record{ID: "r", Content: "x", Heat: Float(0.1)}))

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := db.BoostOne(ctx, "r", 0.1, testParams, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	r, err := db.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, workers, r.AccessCount, "no lost updates")
	assert.InDelta(t, 1.1, *r.Heat, 1e-9)
}

func TestBoostMany(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, &Record{ID: "a", Content: "a", Heat: Float(1.0)}, &Record{ID: "b", Content: "b", Heat: Float(0.5)})

	n, err := db.BoostMany(ctx, []string{"a", "b", "missing"}, 0.15, testParams, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.InDelta(t, 1.15, heatOf(t, db, "a"), 1e-9)
	assert.InDelta(t, 0.65, heatOf(t, db, "b"), 1e-9)

	n, err = db.BoostMany(ctx, nil, 0.15, testParams, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBoostWhere(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db,
		&Record{ID: "self", Content: "a", Heat: Float(1.0), Project: "brain"},
		&Record{ID: "sib", Content: "b", Heat: Float(1.0), Project: "brain"},
		&Record{ID: "pin", Content: "c", Heat: Float(2.0), Project: "brain", Pinned: true},
		&Record{ID: "other", Content: "d", Heat: Float(1.0), Project: "else"},
	)

	n, err := db.BoostWhere(ctx, "project", "brain", 0.1, testParams, "self")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 1.1, heatOf(t, db, "sib"), 1e-9)
	assert.Equal(t, 1.0, heatOf(t, db, "self"))
	assert.Equal(t, 1.0, heatOf(t, db, "other"))

	_, err = db.BoostWhere(ctx, "content; DROP TABLE records", "x", 0.1, testParams, "")
	assert.ErrorIs(t, err, ErrInvalidFilterKey)
}

func TestSetPinned(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, &Record{ID: "r", Content: "x", Heat: Float(0.4)})

	n, err := db.SetPinned(ctx, "r", true, testParams.Max)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	r, _ := db.Get(ctx, "r")
	assert.True(t, r.Pinned)
	assert.Equal(t, 2.0, *r.Heat)

	_, err = db.SetPinned(ctx, "r", false, testParams.Max)
	require.NoError(t, err)
	r, _ = db.Get(ctx, "r")
	assert.False(t, r.Pinned)
	assert.Equal(t, 2.0, *r.Heat, "unpin leaves heat for decay to lower")

	n, err = db.SetPinned(ctx, "missing", true, testParams.Max)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHottestAndColdest(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-30 * 24 * time.Hour).UnixMilli()
	seed(t, db,
		&Record{ID: "hot", Content: "a", Heat: Float(1.8), CreatedAt: old},
		&Record{ID: "fresh-legacy", Content: "b", CreatedAt: now.Add(-time.Hour).UnixMilli()},
		&Record{ID: "cold", Content: "c", Heat: Float(0.1), CreatedAt: old},
		&Record{ID: "cool", Content: "d", Heat: Float(0.2), CreatedAt: old},
		&Record{ID: "cold-pinned", Content: "e", Heat: Float(0.1), CreatedAt: old, Pinned: true},
		&Record{ID: "cold-new", Content: "f", Heat: Float(0.1), CreatedAt: now.UnixMilli()},
	)

	hot, err := db.Hottest(ctx, 2, now)
	require.NoError(t, err)
	require.Len(t, hot, 2)
	assert.Equal(t, "hot", hot[0].Record.ID)
	assert.Equal(t, "fresh-legacy", hot[1].Record.ID)
	assert.Equal(t, 1.0, hot[1].Heat, "legacy heat is estimated from recency")

	cold, err := db.Coldest(ctx, 0.3, 10, now.Add(-7*24*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, cold, 2)
	assert.Equal(t, "cold", cold[0].Record.ID)
	assert.Equal(t, "cool", cold[1].Record.ID)
}

func TestHeatStats(t *testing.T) {
	db := testDB(t)
	seed(t, db,
		&Record{ID: "a", Content: "a", Heat: Float(1.0)},
		&Record{ID: "b", Content: "b", Heat: Float(0.1)},
		&Record{ID: "c", Content: "c", Heat: Float(2.0), Pinned: true},
		&Record{ID: "d", Content: "d"},
	)

	s, err := db.HeatStats(context.Background(), 0.8, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Pinned)
	assert.Equal(t, 2, s.Hot)
	assert.Equal(t, 1, s.Cold)
	assert.Equal(t, 1, s.NoHeat)
	assert.InDelta(t, 1.0333, s.MeanHeat, 1e-3)
}

func TestHeatStatsEmpty(t *testing.T) {
	db := testDB(t)
	s, err := db.HeatStats(context.Background(), 0.8, 0.3)
	require.NoError(t, err)
	assert.Equal(t, HeatStats{}, s)
}
