package engine

import (
	"strings"
	"time"

	"github.com/lazypower/secondbrain/internal/store"
)

// SelectSurvivor decides which of two duplicates is kept: the newer record,
// then the hotter one, then the larger id.
func SelectSurvivor(a, b store.Record) (keep, remove store.Record) {
	if a.CreatedAt != b.CreatedAt {
		if a.CreatedAt > b.CreatedAt {
			return a, b
		}
		return b, a
	}
	if ha, hb := a.HeatOr(1.0), b.HeatOr(1.0); ha != hb {
		if ha > hb {
			return a, b
		}
		return b, a
	}
	if a.ID > b.ID {
		return a, b
	}
	return b, a
}

// Reconcile folds remove into keep. Nothing the two records knew is lost:
// heat, importance and last access take the maximum, access counts add up,
// list fields are unioned and remove's lineage is appended.
func Reconcile(keep, remove store.Record, now time.Time) store.Record {
	out := keep

	out.Heat = maxOptional(keep.Heat, remove.Heat)
	out.Importance = maxOptional(keep.Importance, remove.Importance)
	out.LastAccessed = maxOptionalInt(keep.LastAccessed, remove.LastAccessed)
	out.AccessCount = keep.AccessCount + remove.AccessCount
	out.Pinned = keep.Pinned || remove.Pinned

	out.Tags = union(keep.Tags, remove.Tags)
	out.Entities = union(keep.Entities, remove.Entities)
	out.Sources = union(keep.Sources, remove.Sources)

	out.Client = joinLabel(keep.Client, remove.Client)
	out.Project = joinLabel(keep.Project, remove.Project)
	if out.Domain == "" {
		out.Domain = remove.Domain
	}
	if out.Source == "" {
		out.Source = remove.Source
	}

	lineage := make([]store.Lineage, 0, len(keep.MergedFrom)+len(remove.MergedFrom)+1)
	lineage = append(lineage, keep.MergedFrom...)
	lineage = append(lineage, remove.MergedFrom...)
	lineage = append(lineage, store.Lineage{
		ID:        remove.ID,
		CreatedAt: remove.CreatedAt,
		MergedAt:  now.UnixMilli(),
	})
	out.MergedFrom = lineage

	return out
}

func maxOptional(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return b
	default:
		return a
	}
}

func maxOptionalInt(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return b
	default:
		return a
	}
}

// union returns a followed by the elements of b not already present.
func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// joinLabel adopts b when a is empty and appends it as ", b" when it is a
// label a does not already carry.
func joinLabel(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	have := make(map[string]bool)
	for _, part := range strings.Split(a, ",") {
		have[strings.TrimSpace(part)] = true
	}
	for _, part := range strings.Split(b, ",") {
		part = strings.TrimSpace(part)
		if part == "" || have[part] {
			continue
		}
		have[part] = true
		a += ", " + part
	}
	return a
}
