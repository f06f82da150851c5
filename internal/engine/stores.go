package engine

import (
	"context"
	"time"

	"github.com/lazypower/secondbrain/internal/store"
)

// HeatStore is the atomic heat surface of the record store.
type HeatStore interface {
	NextDecayWindow(ctx context.Context, after int64, limit, partition, partitions int) (store.DecayWindow, error)
	ApplyDecayWindow(ctx context.Context, req store.DecayRequest) (int, error)
	BoostOne(ctx context.Context, id string, amount float64, p store.HeatParams, now time.Time) (float64, bool, error)
	BoostMany(ctx context.Context, ids []string, amount float64, p store.HeatParams, now time.Time) (int, error)
	BoostWhere(ctx context.Context, key, value string, amount float64, p store.HeatParams, excludeID string) (int, error)
	SetPinned(ctx context.Context, id string, pinned bool, maxHeat float64) (int, error)
	Hottest(ctx context.Context, limit int, now time.Time) ([]store.HeatedRecord, error)
	Coldest(ctx context.Context, threshold float64, limit int, createdBefore, now time.Time) ([]store.HeatedRecord, error)
	HeatStats(ctx context.Context, hotThreshold, coldThreshold float64) (store.HeatStats, error)
}

// SearchStore answers similarity queries.
type SearchStore interface {
	QueryBySimilarity(ctx context.Context, vec []float64, filters store.Filters, limit int) ([]store.Scored, error)
}

// DedupStore finds and merges near-duplicate records.
type DedupStore interface {
	QueryPairsBySimilarity(ctx context.Context, q store.PairQuery) ([]store.Pair, error)
	GetMany(ctx context.Context, ids []string) ([]store.Record, error)
	MergeRecords(ctx context.Context, keepID, removeID string, reconcile store.ReconcileFunc) (*store.Record, error)
}

// RecordWriter creates, reads and removes records.
type RecordWriter interface {
	Upsert(ctx context.Context, rec *store.Record) error
	Get(ctx context.Context, id string) (*store.Record, error)
	Delete(ctx context.Context, id string) (int, error)
	ListMissingVectors(ctx context.Context, limit int) ([]store.Record, error)
	CountMissingVectors(ctx context.Context) (int, error)
	GetVector(ctx context.Context, recordID string) (*store.VectorRecord, error)
	SaveVector(ctx context.Context, recordID string, embedding []float64, model string) error
}

// AccessBooster records that records were returned to a caller.
type AccessBooster interface {
	BatchBoostOnAccess(ctx context.Context, ids []string) (int, error)
}
