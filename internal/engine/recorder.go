package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/lazypower/secondbrain/internal/config"
	"github.com/lazypower/secondbrain/internal/store"
)

// Note is a new memory to record.
type Note struct {
	Content    string   `json:"content" validate:"required"`
	Importance *float64 `json:"importance,omitempty" validate:"omitempty,gte=0"`
	Client     string   `json:"client,omitempty"`
	Project    string   `json:"project,omitempty"`
	Domain     string   `json:"domain,omitempty"`
	Source     string   `json:"source,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Pinned     bool     `json:"pinned,omitempty"`
}

// Recorder writes new records and keeps their vectors current.
type Recorder struct {
	store    RecordWriter
	heat     *HeatService
	embedder Embedder
	cfg      config.HeatConfig
	opts     options
}

// NewRecorder creates a Recorder. embedder may be nil; records are then
// stored without a vector until EmbedMissing runs with one.
func NewRecorder(s RecordWriter, heat *HeatService, embedder Embedder, cfg config.HeatConfig, opts ...Option) *Recorder {
	return &Recorder{store: s, heat: heat, embedder: embedder, cfg: cfg, opts: buildOptions(opts)}
}

// Remember stores a note as a new record with initial heat and, when the
// note names a project or client, warms the records that share it.
func (r *Recorder) Remember(ctx context.Context, n Note) (*store.Record, error) {
	if strings.TrimSpace(n.Content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if n.Importance != nil && *n.Importance < 0 {
		return nil, fmt.Errorf("%w: negative importance", ErrInvalidInput)
	}

	now := r.opts.now()
	heat := r.cfg.InitialHeat
	if n.Pinned {
		heat = r.cfg.MaxHeat
	}
	importance := 1.0
	if n.Importance != nil {
		importance = *n.Importance
	}

	rec := &store.Record{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Content:    n.Content,
		Heat:       store.Float(heat),
		Importance: store.Float(importance),
		Pinned:     n.Pinned,
		Client:     n.Client,
		Project:    n.Project,
		Domain:     n.Domain,
		Source:     n.Source,
		Tags:       n.Tags,
		Entities:   n.Entities,
		Sources:    n.Sources,
		CreatedAt:  now.UnixMilli(),
	}

	if r.embedder != nil {
		vec, err := r.embedder.Embed(ctx, n.Content)
		switch {
		case err == nil:
			rec.Embedding, rec.Model = vec, r.embedder.Model()
		case isRetryable(err):
			// Stored without a vector; EmbedMissing fills it in later.
			r.opts.logger.Warn("remember: embed deferred", zap.String("id", rec.ID), zap.Error(err))
		default:
			return nil, fmt.Errorf("embed note: %w", err)
		}
	}

	if err := r.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("store note: %w", err)
	}

	if r.heat != nil {
		for _, key := range []string{"project", "client"} {
			value := n.Project
			if key == "client" {
				value = n.Client
			}
			if value == "" {
				continue
			}
			if _, err := r.heat.BoostRelated(ctx, key, value, 0, rec.ID); err != nil {
				r.opts.logger.Warn("remember: related boost failed",
					zap.String("id", rec.ID),
					zap.String("key", key),
					zap.Error(err),
				)
			}
		}
	}

	r.opts.logger.Debug("remember: stored", zap.String("id", rec.ID), zap.Bool("embedded", len(rec.Embedding) > 0))
	return rec, nil
}

// Get returns one record.
func (r *Recorder) Get(ctx context.Context, id string) (*store.Record, error) {
	return r.store.Get(ctx, id)
}

// Vector returns the stored embedding for a record. A record without a
// vector yields ErrNotFound.
func (r *Recorder) Vector(ctx context.Context, id string) (*store.VectorRecord, error) {
	v, err := r.store.GetVector(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: no vector for %s", ErrNotFound, id)
	}
	return v, nil
}

// MissingVectors counts records still waiting for an embedding.
func (r *Recorder) MissingVectors(ctx context.Context) (int, error) {
	return r.store.CountMissingVectors(ctx)
}

// Forget deletes a record and its vector. It reports whether a record was
// removed.
func (r *Recorder) Forget(ctx context.Context, id string) (bool, error) {
	n, err := r.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EmbedMissing embeds every record without a stored vector. It stops at the
// first provider outage and returns what it managed so far; other per-record
// failures are logged and skipped.
func (r *Recorder) EmbedMissing(ctx context.Context) (int, error) {
	if r.embedder == nil {
		return 0, ErrNoEmbedder
	}

	missing, err := r.store.ListMissingVectors(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list missing vectors: %w", err)
	}

	embedded := 0
	for i := range missing {
		if strings.TrimSpace(missing[i].Content) == "" {
			continue
		}
		vec, err := r.embedder.Embed(ctx, missing[i].Content)
		if err != nil {
			if isRetryable(err) || errors.Is(err, context.Canceled) {
				return embedded, fmt.Errorf("embed %s: %w", missing[i].ID, err)
			}
			r.opts.logger.Warn("embed missing: skipped", zap.String("id", missing[i].ID), zap.Error(err))
			continue
		}
		if err := r.store.SaveVector(ctx, missing[i].ID, vec, r.embedder.Model()); err != nil {
			// Most likely deleted since the listing.
			r.opts.logger.Warn("embed missing: save failed", zap.String("id", missing[i].ID), zap.Error(err))
			continue
		}
		embedded++
	}
	return embedded, nil
}
