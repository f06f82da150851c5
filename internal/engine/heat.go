package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/secondbrain/internal/config"
	"github.com/lazypower/secondbrain/internal/store"
	"github.com/lazypower/secondbrain/internal/tracing"
)

// HeatService maintains per-record heat. Every change is a single
// conditional UPDATE evaluated by the store, so concurrent boosts and decay
// never lose updates and no in-process lock is held.
type HeatService struct {
	store HeatStore
	cfg   config.HeatConfig
	opts  options
}

// NewHeatService creates a HeatService.
func NewHeatService(s HeatStore, cfg config.HeatConfig, opts ...Option) *HeatService {
	return &HeatService{store: s, cfg: cfg, opts: buildOptions(opts)}
}

func (h *HeatService) params() store.HeatParams {
	return store.HeatParams{
		Initial:   h.cfg.InitialHeat,
		Min:       h.cfg.MinHeat,
		Max:       h.cfg.MaxHeat,
		DecayRate: h.cfg.DecayRate,
	}
}

// DecayReport summarises one decay run.
type DecayReport struct {
	Mode          string        `json:"mode"`
	Updated       int           `json:"updated"`
	Windows       int           `json:"windows"`
	FailedWindows int           `json:"failed_windows"`
	Duration      time.Duration `json:"duration"`
}

// ParseDecayMode validates a decay mode name; empty selects fallback.
func ParseDecayMode(mode, fallback string) (store.DecayMode, error) {
	if mode == "" {
		mode = fallback
	}
	switch m := store.DecayMode(strings.ToLower(mode)); m {
	case store.DecaySimple, store.DecayAdvanced:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecayMode, mode)
	}
}

// ApplyDecay decays every unpinned record. Rows are visited in keyset
// windows of DecayBatchSize; each window is one UPDATE with its own timeout.
// A failed window is logged and skipped. With DecayPartitionCount > 1 the
// partitions are decayed concurrently.
func (h *HeatService) ApplyDecay(ctx context.Context, mode string) (DecayReport, error) {
	m, err := ParseDecayMode(mode, h.cfg.DecayMode)
	if err != nil {
		return DecayReport{}, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "heat.ApplyDecay")
	defer span.End()

	start := h.opts.now()
	base := store.DecayRequest{
		Mode:       m,
		Params:     h.params(),
		Now:        start,
		IdleBefore: start.Add(-h.cfg.SimpleIdle),
		Partitions: max(1, h.cfg.DecayPartitionCount),
	}

	var updated, windows, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < base.Partitions; p++ {
		req := base
		req.Partition = p
		g.Go(func() error {
			return h.decayPartition(gctx, req, &updated, &windows, &failed)
		})
	}
	err = g.Wait()

	report := DecayReport{
		Mode:          string(m),
		Updated:       int(updated.Load()),
		Windows:       int(windows.Load()),
		FailedWindows: int(failed.Load()),
		Duration:      h.opts.now().Sub(start),
	}
	span.SetAttributes(
		attribute.String("decay.mode", report.Mode),
		attribute.Int("decay.updated", report.Updated),
		attribute.Int("decay.failed_windows", report.FailedWindows),
	)
	h.opts.metrics.RecordDecayRun(report.Mode, report.Updated, report.FailedWindows, report.Duration)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("apply decay: %w", err)
	}
	h.opts.logger.Info("decay: run complete",
		zap.String("mode", report.Mode),
		zap.Int("updated", report.Updated),
		zap.Int("windows", report.Windows),
		zap.Int("failed_windows", report.FailedWindows),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (h *HeatService) decayPartition(ctx context.Context, req store.DecayRequest, updated, windows, failed *atomic.Int64) error {
	var after int64
	for {
		w, err := h.store.NextDecayWindow(ctx, after, h.cfg.DecayBatchSize, req.Partition, req.Partitions)
		if err != nil {
			return fmt.Errorf("partition %d: %w", req.Partition, err)
		}
		if w.Rows == 0 {
			return nil
		}
		windows.Add(1)

		req.Window = w
		wctx, cancel := context.WithTimeout(ctx, h.cfg.DecayBatchTimeout)
		n, err := h.store.ApplyDecayWindow(wctx, req)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed.Add(1)
			h.opts.logger.Warn("decay: window failed, skipping",
				zap.Int("partition", req.Partition),
				zap.Int64("first_rowid", w.FirstRowID),
				zap.Int64("last_rowid", w.LastRowID),
				zap.Error(err),
			)
		} else {
			updated.Add(int64(n))
		}
		after = w.LastRowID
	}
}

// BoostOnAccess raises one record's heat by AccessBoost, capped at MaxHeat,
// and bumps its access count. found is false when the record does not exist.
func (h *HeatService) BoostOnAccess(ctx context.Context, id string) (heat float64, found bool, err error) {
	heat, found, err = h.store.BoostOne(ctx, id, h.cfg.AccessBoost, h.params(), h.opts.now())
	if err != nil {
		h.opts.metrics.RecordBoostFailure("access")
		return 0, false, err
	}
	if found {
		h.opts.metrics.RecordBoost("access", 1)
	}
	return heat, found, nil
}

// BatchBoostOnAccess applies BoostOnAccess to every distinct id in a single
// statement. Duplicate ids are boosted once.
func (h *HeatService) BatchBoostOnAccess(ctx context.Context, ids []string) (int, error) {
	unique := dedupeIDs(ids)
	if len(unique) == 0 {
		return 0, nil
	}
	n, err := h.store.BoostMany(ctx, unique, h.cfg.AccessBoost, h.params(), h.opts.now())
	if err != nil {
		h.opts.metrics.RecordBoostFailure("batch")
		return 0, err
	}
	h.opts.metrics.RecordBoost("batch", n)
	return n, nil
}

// BoostRelated raises the heat of unpinned records whose key field equals
// value. amount <= 0 uses MentionBoost. excludeID is left untouched.
func (h *HeatService) BoostRelated(ctx context.Context, key, value string, amount float64, excludeID string) (int, error) {
	if !store.IsFilterKey(key) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFilterKey, key)
	}
	if value == "" {
		return 0, nil
	}
	if amount <= 0 {
		amount = h.cfg.MentionBoost
	}
	n, err := h.store.BoostWhere(ctx, key, value, amount, h.params(), excludeID)
	if err != nil {
		h.opts.metrics.RecordBoostFailure("related")
		return 0, err
	}
	h.opts.metrics.RecordBoost("related", n)
	return n, nil
}

// Pin sets heat to MaxHeat and exempts the record from decay.
func (h *HeatService) Pin(ctx context.Context, id string) (bool, error) {
	n, err := h.store.SetPinned(ctx, id, true, h.cfg.MaxHeat)
	return n > 0, err
}

// Unpin makes the record subject to decay again. Heat is left as is.
func (h *HeatService) Unpin(ctx context.Context, id string) (bool, error) {
	n, err := h.store.SetPinned(ctx, id, false, h.cfg.MaxHeat)
	return n > 0, err
}

// Hot returns the hottest records. Records without heat rank by a recency
// estimate.
func (h *HeatService) Hot(ctx context.Context, limit int) ([]store.HeatedRecord, error) {
	return h.store.Hottest(ctx, limit, h.opts.now())
}

// Cold returns unpinned records below threshold (ColdThreshold when <= 0)
// that are at least minAgeDays old, coldest first.
func (h *HeatService) Cold(ctx context.Context, threshold float64, limit, minAgeDays int) ([]store.HeatedRecord, error) {
	if threshold <= 0 {
		threshold = h.cfg.ColdThreshold
	}
	now := h.opts.now()
	before := now.Add(-time.Duration(max(0, minAgeDays)) * 24 * time.Hour)
	if minAgeDays <= 0 {
		// Include records created in the current millisecond.
		before = now.Add(time.Millisecond)
	}
	return h.store.Coldest(ctx, threshold, limit, before, now)
}

// Stats summarises the heat distribution.
func (h *HeatService) Stats(ctx context.Context) (store.HeatStats, error) {
	return h.store.HeatStats(ctx, h.cfg.HotThreshold, h.cfg.ColdThreshold)
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
