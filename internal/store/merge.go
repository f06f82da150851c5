package store

import (
	"context"
	"fmt"
	"time"
)

// ReconcileFunc computes the survivor's new payload from fresh copies of
// both rows. It must not touch the database.
type ReconcileFunc func(keep, remove Record) (Record, error)

// MergeRecords folds removeID into keepID inside one transaction: both rows
// are re-read, reconcile produces the survivor, the survivor is rewritten
// and the loser (with its vector) is deleted. Any failure rolls back.
//
// If either record no longer exists the merge is a no-op and ErrNotFound is
// returned wrapped.
func (db *DB) MergeRecords(ctx context.Context, keepID, removeID string, reconcile ReconcileFunc) (*Record, error) {
	if keepID == removeID {
		return nil, fmt.Errorf("merge records: cannot merge %s into itself", keepID)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	keep, err := getRecord(ctx, tx, keepID)
	if err != nil {
		return nil, err
	}
	remove, err := getRecord(ctx, tx, removeID)
	if err != nil {
		return nil, err
	}

	merged, err := reconcile(*keep, *remove)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s <- %s: %w", keepID, removeID, err)
	}
	merged.ID = keepID
	merged.CreatedAt = keep.CreatedAt
	merged.UpdatedAt = time.Now().UnixMilli()

	tags, entities, sources, lineage, err := encodeArrays(&merged)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE records SET
			content = ?, heat = ?, importance = ?, pinned = ?, access_count = ?, last_accessed = ?,
			client = NULLIF(?, ''), project = NULLIF(?, ''), domain = NULLIF(?, ''), source = NULLIF(?, ''),
			tags = ?, entities = ?, sources = ?, merged_from = ?, updated_at = ?
		WHERE id = ?
	`, merged.Content, merged.Heat, merged.Importance, boolInt(merged.Pinned), merged.AccessCount, merged.LastAccessed,
		merged.Client, merged.Project, merged.Domain, merged.Source,
		tags, entities, sources, lineage, merged.UpdatedAt, keepID)
	if err != nil {
		return nil, fmt.Errorf("update survivor %s: %w", keepID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, fmt.Errorf("update survivor %s: %w", keepID, ErrNotFound)
	}

	if len(merged.Embedding) > 0 && !sameVector(merged.Embedding, keep.Embedding) {
		if err := saveVector(ctx, tx, keepID, merged.Embedding, merged.Model); err != nil {
			return nil, err
		}
	}

	n, err := deleteRecord(ctx, tx, removeID)
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, fmt.Errorf("delete merged record %s: %w", removeID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}
	return &merged, nil
}

func sameVector(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
