package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumAccess(keep, remove Record) (Record, error) {
	keep.AccessCount += remove.AccessCount
	keep.Tags = append(keep.Tags, remove.Tags...)
	keep.MergedFrom = append(keep.MergedFrom, Lineage{ID: remove.ID, CreatedAt: remove.CreatedAt, MergedAt: 42})
	return keep, nil
}

func TestMergeRecords(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db,
		&Record{ID: "keep", Content: "k", Embedding: []float64{1, 0}, AccessCount: 2, Tags: []string{"a"}, CreatedAt: 200},
		&Record{ID: "gone", Content: "g", Embedding: []float64{1, 0}, AccessCount: 3, Tags: []string{"b"}, CreatedAt: 100},
	)

	merged, err := db.MergeRecords(ctx, "keep", "gone", sumAccess)
	require.NoError(t, err)
	assert.Equal(t, 5, merged.AccessCount)

	got, err := db.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, 5, got.AccessCount)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
	assert.Equal(t, []Lineage{{ID: "gone", CreatedAt: 100, MergedAt: 42}}, got.MergedFrom)
	assert.Equal(t, int64(200), got.CreatedAt)

	_, err = db.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := db.GetVector(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, v, "loser's vector is removed with it")

	pairs, err := db.QueryPairsBySimilarity(ctx, PairQuery{MaxDistance: 0.1})
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestMergeRecordsReplacesVector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db,
		&Record{ID: "keep", Content: "k", Embedding: []float64{1, 0}},
		&Record{ID: "gone", Content: "g", Embedding: []float64{1, 0}},
	)

	_, err := db.MergeRecords(ctx, "keep", "gone", func(keep, _ Record) (Record, error) {
		keep.Content = "rewritten"
		keep.Embedding = []float64{0, 1}
		keep.Model = "new"
		return keep, nil
	})
	require.NoError(t, err)

	v, err := db.GetVector(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, v.Embedding)
	assert.Equal(t, "new", v.Model)
}

func TestMergeRecordsMissing(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, &Record{ID: "keep", Content: "k"})

	_, err := db.MergeRecords(ctx, "keep", "missing", sumAccess)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.Get(ctx, "keep")
	assert.NoError(t, err, "survivor untouched")
}

func TestMergeRecordsRollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, &Record{ID: "keep", Content: "k"}, &Record{ID: "gone", Content: "g"})

	boom := errors.New("boom")
	_, err := db.MergeRecords(ctx, "keep", "gone", func(Record, Record) (Record, error) {
		return Record{}, boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMergeRecordsSelf(t *testing.T) {
	db := testDB(t)
	seed(t, db, &Record{ID: "a", Content: "a"})

	_, err := db.MergeRecords(context.Background(), "a", "a", sumAccess)
	assert.Error(t, err)
}
