package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lazypower/secondbrain/internal/config"
	"github.com/lazypower/secondbrain/internal/store"
	"github.com/lazypower/secondbrain/internal/tracing"
)

// similarityEpsilon absorbs float error so identical vectors always meet a
// threshold of 1.0.
const similarityEpsilon = 1e-9

const day = 24 * time.Hour

// DuplicatePair is two records whose vectors are at least Threshold similar.
type DuplicatePair struct {
	A          store.Record `json:"a"`
	B          store.Record `json:"b"`
	Similarity float64      `json:"similarity"`
}

// FindOptions bound a duplicate scan. Zero values fall back to config.
type FindOptions struct {
	Threshold           float64
	MinCreatedDaysApart int
	// RecentDays limits candidates to records created in the last N days.
	RecentDays int
	// RecentLimit limits candidates to the N most recently created records.
	RecentLimit int
	Limit       int
}

// DedupOptions configure a deduplication run.
type DedupOptions struct {
	FindOptions
	DryRun bool
}

// MergeOverride lets a caller adjust the survivor of an explicit merge.
type MergeOverride struct {
	Content    string   `json:"content,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
}

// MergeOutcome is the result of one merge attempt.
type MergeOutcome struct {
	KeepID   string        `json:"keep_id"`
	RemoveID string        `json:"remove_id"`
	Merged   bool          `json:"merged"`
	Reason   string        `json:"reason,omitempty"`
	Record   *store.Record `json:"record,omitempty"`
}

// Merge log actions.
const (
	ActionMerge   = "merge"
	ActionSkipped = "skipped"
	ActionFailed  = "failed"
)

// MergeLogEntry records the decision taken for one duplicate pair. Dry and
// live runs produce the same entries for the same decisions.
type MergeLogEntry struct {
	KeepID     string  `json:"keep_id"`
	RemoveID   string  `json:"remove_id"`
	Similarity float64 `json:"similarity"`
	Action     string  `json:"action"`
	Reason     string  `json:"reason,omitempty"`
}

// DedupReport summarises a deduplication run.
type DedupReport struct {
	RunID    string          `json:"run_id"`
	DryRun   bool            `json:"dry_run"`
	Found    int             `json:"found"`
	Merged   int             `json:"merged"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Duration time.Duration   `json:"duration"`
	Log      []MergeLogEntry `json:"log"`
}

// DeduplicationService finds near-duplicate records and merges them.
type DeduplicationService struct {
	store    DedupStore
	embedder Embedder
	cfg      config.DedupConfig
	opts     options
}

// NewDeduplicationService creates a DeduplicationService. embedder may be
// nil; it is only used to re-embed overridden merge content.
func NewDeduplicationService(s DedupStore, embedder Embedder, cfg config.DedupConfig, opts ...Option) *DeduplicationService {
	return &DeduplicationService{store: s, embedder: embedder, cfg: cfg, opts: buildOptions(opts)}
}

func (d *DeduplicationService) withDefaults(o FindOptions) (FindOptions, error) {
	if o.Threshold == 0 {
		o.Threshold = d.cfg.SimilarityThreshold
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		return o, fmt.Errorf("%w: threshold %g outside (0, 1]", ErrInvalidInput, o.Threshold)
	}
	if o.RecentDays == 0 {
		o.RecentDays = d.cfg.RecentDays
	}
	if o.RecentLimit == 0 {
		o.RecentLimit = d.cfg.RecentLimit
	}
	if o.MinCreatedDaysApart == 0 {
		o.MinCreatedDaysApart = d.cfg.MinCreatedDaysApart
	}
	if o.Limit == 0 {
		o.Limit = d.cfg.Limit
	}
	if o.RecentDays < 0 || o.RecentLimit < 0 || o.MinCreatedDaysApart < 0 || o.Limit < 0 {
		return o, fmt.Errorf("%w: negative bound", ErrInvalidInput)
	}
	return o, nil
}

// FindDuplicates returns pairs at or above the similarity threshold, most
// similar first. Each unordered pair appears once.
func (d *DeduplicationService) FindDuplicates(ctx context.Context, opts FindOptions) ([]DuplicatePair, error) {
	opts, err := d.withDefaults(opts)
	if err != nil {
		return nil, err
	}

	q := store.PairQuery{
		MaxDistance:     1 - opts.Threshold + similarityEpsilon,
		RecentLimit:     opts.RecentLimit,
		MinCreatedApart: (time.Duration(opts.MinCreatedDaysApart) * day).Milliseconds(),
		Limit:           opts.Limit,
	}
	if opts.RecentDays > 0 {
		q.RecentSince = d.opts.now().Add(-time.Duration(opts.RecentDays) * day).UnixMilli()
	}

	pairs, err := d.store.QueryPairsBySimilarity(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		ids = append(ids, p.AID, p.BID)
	}
	recs, err := d.store.GetMany(ctx, dedupeIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("load duplicate records: %w", err)
	}
	byID := make(map[string]store.Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}

	out := make([]DuplicatePair, 0, len(pairs))
	for _, p := range pairs {
		a, okA := byID[p.AID]
		b, okB := byID[p.BID]
		if !okA || !okB {
			continue // deleted since the scan
		}
		out = append(out, DuplicatePair{A: a, B: b, Similarity: min(1, 1-p.Distance)})
	}
	return out, nil
}

// Merge folds removeID into keepID. The caller's choice of survivor is
// honoured; field values are reconciled from fresh reads inside the merge
// transaction. A record that no longer exists yields an outcome with
// Merged false and no error. Transaction failures return a
// *MergeConflictError.
func (d *DeduplicationService) Merge(ctx context.Context, keepID, removeID string, override *MergeOverride) (*MergeOutcome, error) {
	if keepID == "" || removeID == "" || keepID == removeID {
		return nil, fmt.Errorf("%w: merge needs two distinct ids", ErrInvalidInput)
	}

	ctx, span := tracing.Tracer().Start(ctx, "dedup.Merge")
	defer span.End()
	span.SetAttributes(attribute.String("merge.keep_id", keepID), attribute.String("merge.remove_id", removeID))

	var (
		newVec   []float64
		newModel string
	)
	if override != nil && strings.TrimSpace(override.Content) != "" && d.embedder != nil {
		vec, err := d.embedder.Embed(ctx, override.Content)
		if err != nil {
			return nil, fmt.Errorf("embed merged content: %w", err)
		}
		newVec, newModel = vec, d.embedder.Model()
	}

	now := d.opts.now()
	merged, err := d.store.MergeRecords(ctx, keepID, removeID, func(keep, remove store.Record) (store.Record, error) {
		out := Reconcile(keep, remove, now)
		applyOverride(&out, override, newVec, newModel)
		return out, nil
	})
	outcome := &MergeOutcome{KeepID: keepID, RemoveID: removeID}
	switch {
	case errors.Is(err, store.ErrNotFound):
		outcome.Reason = "record missing"
		return outcome, nil
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		return nil, &MergeConflictError{KeepID: keepID, RemoveID: removeID, Err: err}
	}

	outcome.Merged = true
	outcome.Record = merged
	d.opts.logger.Info("dedup: merged",
		zap.String("keep", keepID),
		zap.String("remove", removeID),
	)
	return outcome, nil
}

func applyOverride(rec *store.Record, o *MergeOverride, vec []float64, model string) {
	if o == nil {
		return
	}
	if strings.TrimSpace(o.Content) != "" {
		rec.Content = o.Content
		if len(vec) > 0 {
			rec.Embedding = vec
			rec.Model = model
		}
	}
	rec.Tags = union(rec.Tags, o.Tags)
	if o.Importance != nil {
		rec.Importance = store.Float(*o.Importance)
	}
}

// Deduplicate finds duplicate pairs and merges each into its survivor,
// closest pairs first. A pair involving a record already merged away in
// this run is skipped. With DryRun the same decisions are logged and
// nothing is written.
func (d *DeduplicationService) Deduplicate(ctx context.Context, opts DedupOptions) (*DedupReport, error) {
	ctx, span := tracing.Tracer().Start(ctx, "dedup.Deduplicate")
	defer span.End()

	start := d.opts.now()
	report := &DedupReport{
		RunID:  uuid.NewString(),
		DryRun: opts.DryRun,
		Log:    []MergeLogEntry{},
	}
	log := d.opts.logger.With(zap.String("run_id", report.RunID), zap.Bool("dry_run", opts.DryRun))

	pairs, err := d.FindDuplicates(ctx, opts.FindOptions)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	report.Found = len(pairs)

	removed := make(map[string]bool)
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		keep, remove := SelectSurvivor(p.A, p.B)
		entry := MergeLogEntry{
			KeepID:     keep.ID,
			RemoveID:   remove.ID,
			Similarity: p.Similarity,
			Action:     ActionMerge,
		}

		if removed[keep.ID] || removed[remove.ID] {
			entry.Action = ActionSkipped
			entry.Reason = "already merged in this run"
			report.Skipped++
			report.Log = append(report.Log, entry)
			continue
		}

		if !opts.DryRun {
			outcome, err := d.Merge(ctx, keep.ID, remove.ID, nil)
			switch {
			case err != nil:
				entry.Action = ActionFailed
				entry.Reason = err.Error()
				report.Failed++
				log.Warn("dedup: merge failed", zap.String("keep", keep.ID), zap.String("remove", remove.ID), zap.Error(err))
				report.Log = append(report.Log, entry)
				continue
			case !outcome.Merged:
				entry.Action = ActionSkipped
				entry.Reason = outcome.Reason
				report.Skipped++
				report.Log = append(report.Log, entry)
				continue
			}
		}

		removed[remove.ID] = true
		report.Merged++
		report.Log = append(report.Log, entry)
	}

	report.Duration = d.opts.now().Sub(start)
	d.opts.metrics.RecordDedupRun(report.Found, report.Merged, report.Skipped, report.Failed)
	span.SetAttributes(
		attribute.String("dedup.run_id", report.RunID),
		attribute.Int("dedup.found", report.Found),
		attribute.Int("dedup.merged", report.Merged),
	)
	log.Info("dedup: run complete",
		zap.Int("found", report.Found),
		zap.Int("merged", report.Merged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
