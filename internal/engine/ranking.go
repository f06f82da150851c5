package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lazypower/secondbrain/internal/config"
	"github.com/lazypower/secondbrain/internal/store"
	"github.com/lazypower/secondbrain/internal/tracing"
)

// Effective score weights. They sum to 1.
const (
	SimilarityWeight = 0.6
	HeatWeight       = 0.3
	ImportanceWeight = 0.1
)

// SearchResult is one ranked record.
type SearchResult struct {
	Record         store.Record `json:"record"`
	Similarity     float64      `json:"similarity"`
	Heat           float64      `json:"heat"`
	Importance     float64      `json:"importance"`
	EffectiveScore float64      `json:"effective_score"`
}

// EffectiveScore blends similarity with heat and importance, each
// normalised into [0, 1] against its ceiling.
func EffectiveScore(similarity, heat, importance, maxHeat, importanceNormalizer float64) float64 {
	return SimilarityWeight*similarity +
		HeatWeight*normalized(heat, maxHeat) +
		ImportanceWeight*normalized(importance, importanceNormalizer)
}

func normalized(v, ceiling float64) float64 {
	if ceiling <= 0 {
		return 0
	}
	return min(max(v/ceiling, 0), 1)
}

// RankingService answers searches ordered by effective score and reports
// the returned records back to the heat service.
type RankingService struct {
	store    SearchStore
	booster  AccessBooster
	embedder Embedder
	cfg      config.SearchConfig
	maxHeat  float64
	opts     options

	inflight sync.WaitGroup
}

// NewRankingService creates a RankingService. embedder may be nil, in which
// case only SearchVector is available. When cfg.CacheSize > 0 query
// embeddings are cached.
func NewRankingService(s SearchStore, booster AccessBooster, embedder Embedder, cfg config.SearchConfig, maxHeat float64, opts ...Option) *RankingService {
	o := buildOptions(opts)
	if embedder != nil && cfg.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize, cfg.CacheTTL, o.metrics)
	}
	return &RankingService{
		store:    s,
		booster:  booster,
		embedder: embedder,
		cfg:      cfg,
		maxHeat:  maxHeat,
		opts:     o,
	}
}

// HasEmbedder reports whether text search is available.
func (r *RankingService) HasEmbedder() bool {
	return r.embedder != nil
}

// EmbedderModel names the query embedding model, or "" without one.
func (r *RankingService) EmbedderModel() string {
	if r.embedder == nil {
		return ""
	}
	return r.embedder.Model()
}

// Search embeds query and ranks records against it.
func (r *RankingService) Search(ctx context.Context, query string, limit int, filters store.Filters) ([]SearchResult, error) {
	if r.embedder == nil {
		return nil, ErrNoEmbedder
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}

	ctx, span := tracing.Tracer().Start(ctx, "ranking.Search")
	defer span.End()
	start := r.opts.now()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.opts.metrics.RecordSearch("error", r.opts.now().Sub(start))
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.rank(ctx, vec, limit, filters, start)
}

// SearchVector ranks records against a precomputed query vector.
func (r *RankingService) SearchVector(ctx context.Context, vec []float64, limit int, filters store.Filters) ([]SearchResult, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidInput)
	}
	ctx, span := tracing.Tracer().Start(ctx, "ranking.SearchVector")
	defer span.End()
	return r.rank(ctx, vec, limit, filters, r.opts.now())
}

func (r *RankingService) rank(ctx context.Context, vec []float64, limit int, filters store.Filters, start time.Time) ([]SearchResult, error) {
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}
	if r.cfg.MaxLimit > 0 {
		limit = min(limit, r.cfg.MaxLimit)
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	candidates, err := r.store.QueryBySimilarity(ctx, vec, filters, limit*max(1, r.cfg.Overfetch))
	if err != nil {
		r.opts.metrics.RecordSearch("error", r.opts.now().Sub(start))
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		heat := c.Record.HeatOr(1.0)
		importance := c.Record.ImportanceOr(1.0)
		sim := 1 - c.Distance
		results = append(results, SearchResult{
			Record:         c.Record,
			Similarity:     sim,
			Heat:           heat,
			Importance:     importance,
			EffectiveScore: EffectiveScore(sim, heat, importance, r.maxHeat, r.cfg.ImportanceNormalizer),
		})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("search.candidates", len(candidates)),
		attribute.Int("search.results", len(results)),
	)
	r.opts.metrics.RecordSearch("ok", r.opts.now().Sub(start))

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, res := range results {
			ids[i] = res.Record.ID
		}
		r.boostAsync(ctx, ids)
	}
	return results, nil
}

// sortResults orders by effective score, then similarity, then newer
// records, then id.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.EffectiveScore != b.EffectiveScore {
			return a.EffectiveScore > b.EffectiveScore
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Record.CreatedAt != b.Record.CreatedAt {
			return a.Record.CreatedAt > b.Record.CreatedAt
		}
		return a.Record.ID < b.Record.ID
	})
}

// boostAsync records the access without delaying the caller. The boost
// outlives the request context but is bounded by BoostTimeout.
func (r *RankingService) boostAsync(parent context.Context, ids []string) {
	if r.booster == nil {
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.cfg.BoostTimeout)
		defer cancel()
		if _, err := r.booster.BatchBoostOnAccess(ctx, ids); err != nil {
			r.opts.logger.Warn("search: access boost failed", zap.Int("records", len(ids)), zap.Error(err))
		}
	}()
}

// Wait blocks until every in-flight access boost has finished.
func (r *RankingService) Wait() {
	r.inflight.Wait()
}
