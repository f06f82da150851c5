package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/secondbrain/internal/store"
)

func newRanking(t *testing.T, db *store.DB, emb Embedder) (*RankingService, *HeatService) {
	t.Helper()
	cfg := testConfig()
	heat := NewHeatService(db, cfg.Heat, WithClock(fixedClock()))
	r := NewRankingService(db, heat, emb, cfg.Search, cfg.Heat.MaxHeat, WithClock(fixedClock()))
	t.Cleanup(r.Wait)
	return r, heat
}

func TestEffectiveScore(t *testing.T) {
	assert.InDelta(t, 1.0, EffectiveScore(1, 2, 2, 2, 2), 1e-9)
	assert.InDelta(t, 0.6+0.15+0.05, EffectiveScore(1, 1, 1, 2, 2), 1e-9)
	// Normalised heat and importance are clamped to 1.
	assert.InDelta(t, 0.3+0.1, EffectiveScore(0, 10, 10, 2, 2), 1e-9)
	assert.InDelta(t, 0.6, EffectiveScore(1, 0, 0, 2, 2), 1e-9)
	assert.InDelta(t, 0.6, EffectiveScore(1, 1, 1, 0, 0), 1e-9, "zero ceilings contribute nothing")
}

func TestSearchRanksByEffectiveScore(t *testing.T) {
	db := testDB(t)
	seed(t, db,
		&store.Record{ID: "exact-cold", Content: "a", Embedding: []float64{1, 0, 0}, Model: "fake",
			Heat: store.Float(0.1), CreatedAt: daysAgo(1)},
		&store.Record{ID: "close-hot", Content: "b", Embedding: []float64{0.9, 0.436, 0}, Model: "fake",
			Heat: store.Float(2.0), Importance: store.Float(2.0), CreatedAt: daysAgo(1)},
		&store.Record{ID: "far", Content: "c", Embedding: []float64{0, 1, 0}, Model: "fake",
			Heat: store.Float(2.0), CreatedAt: daysAgo(1)},
		&store.Record{ID: "no-vector", Content: "d", CreatedAt: daysAgo(1)},
	)
	emb := newFakeEmbedder(map[string][]float64{"query": {1, 0, 0}})
	r, _ := newRanking(t, db, emb)

	results, err := r.Search(context.Background(), "query", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "close-hot", results[0].Record.ID)
	assert.Equal(t, "exact-cold", results[1].Record.ID)
	assert.Equal(t, "far", results[2].Record.ID)

	assert.InDelta(t, 1.0, results[1].Similarity, 1e-9)
	assert.InDelta(t, 0.6+0.3*0.05+0.1*0.5, results[1].EffectiveScore, 1e-9)
	assert.Equal(t, 1.0, results[1].Importance, "missing importance counts as 1.0")

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].EffectiveScore, results[i].EffectiveScore)
	}
}

func TestSearchBoostsReturnedRecords(t *testing.T) {
	db := testDB(t)
	seed(t, db,
		&store.Record{ID: "a", Content: "a", Embedding: []float64{1, 0, 0}, Heat: store.Float(1.0)},
		&store.Record{ID: "b", Content: "b", Embedding: []float64{0.8, 0.6, 0}, Heat: store.Float(1.0)},
		&store.Record{ID: "c", Content: "c", Embedding: []float64{0, 0, 1}, Heat: store.Float(1.0)},
	)
	emb := newFakeEmbedder(map[string][]float64{"query": {1, 0, 0}})
	r, _ := newRanking(t, db, emb)

	results, err := r.Search(context.Background(), "query", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	r.Wait()

	assert.Equal(t, 1, mustGet(t, db, "a").AccessCount)
	assert.Equal(t, 1, mustGet(t, db, "b").AccessCount)
	assert.Equal(t, 0, mustGet(t, db, "c").AccessCount, "truncated results are not boosted")
	assert.InDelta(t, 1.15, *mustGet(t, db, "a").Heat, 1e-9)
}

func TestSearchBoostSurvivesCancelledRequest(t *testing.T) {
	db := testDB(t)
	seed(t, db, &store.Record{ID: "a", Content: "a", Embedding: []float64{1, 0, 0}, Heat: store.Float(1.0)})
	emb := newFakeEmbedder(map[string][]float64{"query": {1, 0, 0}})
	r, _ := newRanking(t, db, emb)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := r.Search(ctx, "query", 5, nil)
	require.NoError(t, err)
	cancel()
	r.Wait()

	assert.Equal(t, 1, mustGet(t, db, "a").AccessCount)
}

func TestSearchIsStableAcrossRuns(t *testing.T) {
	db := testDB(t)
	seed(t, db,
		&store.Record{ID: "near", Content: "a", Embedding: []float64{1, 0, 0}, Heat: store.Float(1.0), CreatedAt: daysAgo(3)},
		&store.Record{ID: "mid", Content: "b", Embedding: []float64{0.6, 0.8, 0}, Heat: store.Float(1.0), CreatedAt: daysAgo(2)},
		&store.Record{ID: "far", Content: "c", Embedding: []float64{0, 0, 1}, Heat: store.Float(1.0), CreatedAt: daysAgo(1)},
	)
	emb := newFakeEmbedder(map[string][]float64{"query": {1, 0, 0}})
	r, _ := newRanking(t, db, emb)
	ctx := context.Background()

	ids := func(results []SearchResult) []string {
		out := make([]string, len(results))
		for i, res := range results {
			out[i] = res.Record.ID
		}
		return out
	}

	first, err := r.Search(ctx, "query", 10, nil)
	require.NoError(t, err)
	firstIDs := ids(first)
	r.Wait()

	second, err := r.Search(ctx, "query", 10, nil)
	require.NoError(t, err)
	r.Wait()

	assert.Equal(t, []string{"near", "mid", "far"}, firstIDs)
	assert.Equal(t, firstIDs, ids(second), "access boosts must not reorder well-separated results")
}

// limitSpy records the candidate limit passed to the store.
type limitSpy struct {
	*store.DB
	limit int
}

func (s *limitSpy) QueryBySimilarity(ctx context.Context, vec []float64, filters store.Filters, limit int) ([]store.Scored, error) {
	s.limit = limit
	return s.DB.QueryBySimilarity(ctx, vec, filters, limit)
}

func TestSearchClampsLimit(t *testing.T) {
	db := testDB(t)
	seed(t, db, &store.Record{ID: "a", Content: "a", Embedding: []float64{1, 0, 0}})
	cfg := testConfig()
	spy := &limitSpy{DB: db}
	heat := NewHeatService(db, cfg.Heat, WithClock(fixedClock()))
	r := NewRankingService(spy, heat, nil, cfg.Search, cfg.Heat.MaxHeat, WithClock(fixedClock()))
	t.Cleanup(r.Wait)

	results, err := r.SearchVector(context.Background(), []float64{1, 0, 0}, math.MaxInt, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, cfg.Search.MaxLimit*cfg.Search.Overfetch, spy.limit)

	_, err = r.SearchVector(context.Background(), []float64{1, 0, 0}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Search.DefaultLimit*cfg.Search.Overfetch, spy.limit)
}

func TestSearchUsesQueryCache(t *testing.T) {
	db := testDB(t)
	seed(t, db, &store.Record{ID: "a", Content: "a", Embedding: []float64{1, 0, 0}})
	emb := newFakeEmbedder(map[string][]float64{"query": {1, 0, 0}})
	r, _ := newRanking(t, db, emb)

	for i := 0; i < 3; i++ {
		_, err := r.Search(context.Background(), "query", 5, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, emb.callCount())
}

func TestSearchFilters(t *testing.T) {
	db := testDB(t)
	seed(t, db,
		&store.Record{ID: "a", Content: "a", Project: "apollo", Embedding: []float64{1, 0, 0}},
		&store.Record{ID: "b", Content: "b", Project: "gemini", Embedding: []float64{1, 0, 0}},
	)
	r, _ := newRanking(t, db, newFakeEmbedder(map[string][]float64{"q": {1, 0, 0}}))

	results, err := r.Search(context.Background(), "q", 10, store.Filters{"project": "gemini"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Record.ID)

	_, err = r.Search(context.Background(), "q", 10, store.Filters{"content": "x"})
	assert.ErrorIs(t, err, ErrInvalidFilterKey)
}

func TestSearchErrors(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	noEmb, _ := newRanking(t, db, nil)
	assert.False(t, noEmb.HasEmbedder())
	_, err := noEmb.Search(ctx, "anything", 5, nil)
	assert.ErrorIs(t, err, ErrNoEmbedder)

	emb := newFakeEmbedder(nil)
	r, _ := newRanking(t, db, emb)
	_, err = r.Search(ctx, "   ", 5, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	emb.err = ErrProviderUnavailable
	_, err = r.Search(ctx, "query", 5, nil)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = r.SearchVector(ctx, nil, 5, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSearchEmptyStore(t *testing.T) {
	r, _ := newRanking(t, testDB(t), nil)
	results, err := r.SearchVector(context.Background(), []float64{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSortResultsTieBreaks(t *testing.T) {
	results := []SearchResult{
		{Record: store.Record{ID: "b", CreatedAt: 100}, EffectiveScore: 0.5, Similarity: 0.5},
		{Record: store.Record{ID: "a", CreatedAt: 100}, EffectiveScore: 0.5, Similarity: 0.5},
		{Record: store.Record{ID: "newer", CreatedAt: 200}, EffectiveScore: 0.5, Similarity: 0.5},
		{Record: store.Record{ID: "similar", CreatedAt: 50}, EffectiveScore: 0.5, Similarity: 0.9},
		{Record: store.Record{ID: "best", CreatedAt: 1}, EffectiveScore: 0.9, Similarity: 0.1},
	}
	sortResults(results)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Record.ID
	}
	assert.Equal(t, []string{"best", "similar", "newer", "a", "b"}, ids)
}
