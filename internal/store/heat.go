package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// HeatParams are the bounds every heat expression clamps into.
type HeatParams struct {
	Initial   float64
	Min       float64
	Max       float64
	DecayRate float64
}

// DecayMode selects the decay expression.
type DecayMode string

const (
	DecaySimple   DecayMode = "simple"
	DecayAdvanced DecayMode = "advanced"
)

// Recency buckets used to estimate heat for rows that never had one.
var recencyBuckets = []struct {
	maxAge time.Duration
	heat   float64
}{
	{6 * time.Hour, 1.0},
	{24 * time.Hour, 0.85},
	{48 * time.Hour, 0.7},
	{7 * 24 * time.Hour, 0.5},
}

const recencyFloor = 0.3

// RecencyHeat estimates heat from age alone.
func RecencyHeat(age time.Duration) float64 {
	for _, b := range recencyBuckets {
		if age <= b.maxAge {
			return b.heat
		}
	}
	return recencyFloor
}

// estimatedHeatSQL is RecencyHeat rendered as SQL; the single argument is now (unix ms).
func estimatedHeatSQL() string {
	var b strings.Builder
	b.WriteString("COALESCE(r.heat, CASE")
	for _, bucket := range recencyBuckets {
		fmt.Fprintf(&b, " WHEN (? - r.created_at) <= %d THEN %g", bucket.maxAge.Milliseconds(), bucket.heat)
	}
	fmt.Fprintf(&b, " ELSE %g END)", recencyFloor)
	return b.String()
}

func estimatedHeatArgs(now int64) []any {
	args := make([]any, len(recencyBuckets))
	for i := range args {
		args[i] = now
	}
	return args
}

// DecayWindow is a keyset range of rowids for one decay statement.
type DecayWindow struct {
	FirstRowID int64
	LastRowID  int64
	Rows       int
}

// NextDecayWindow returns the next window of up to limit unpinned rows with
// rowid > after, restricted to one partition when partitions > 1.
// A window with Rows == 0 means the scan is complete.
func (db *DB) NextDecayWindow(ctx context.Context, after int64, limit, partition, partitions int) (DecayWindow, error) {
	partWhere, partArgs := partitionClause(partition, partitions)
	args := append([]any{after}, partArgs...)
	args = append(args, limit)

	var (
		w           DecayWindow
		first, last sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT MIN(rid), MAX(rid), COUNT(*) FROM (
			SELECT r.rowid AS rid FROM records r
			WHERE r.rowid > ? AND r.pinned = 0 `+partWhere+`
			ORDER BY r.rowid
			LIMIT ?
		)
	`, args...).Scan(&first, &last, &w.Rows)
	if err != nil {
		return DecayWindow{}, fmt.Errorf("next decay window: %w", err)
	}
	w.FirstRowID = first.Int64
	w.LastRowID = last.Int64
	return w, nil
}

// DecayRequest describes one decay statement over a window.
type DecayRequest struct {
	Mode       DecayMode
	Window     DecayWindow
	Partition  int
	Partitions int
	Params     HeatParams
	Now        time.Time
	// IdleBefore is the simple-mode cutoff: only rows last accessed before
	// it (or never) decay.
	IdleBefore time.Time
}

// ApplyDecayWindow decays every unpinned row in the window with a single
// UPDATE whose new heat is computed from the row's current values.
func (db *DB) ApplyDecayWindow(ctx context.Context, req DecayRequest) (int, error) {
	if req.Window.Rows == 0 {
		return 0, nil
	}
	p := req.Params
	partWhere, partArgs := partitionClause(req.Partition, req.Partitions)

	var (
		set  string
		args []any
		idle string
	)
	switch req.Mode {
	case DecaySimple:
		set = `heat = MIN(?, MAX(?, COALESCE(r.heat, ?) * ?))`
		args = []any{p.Max, p.Min, p.Initial, p.DecayRate}
		idle = `AND (r.last_accessed IS NULL OR r.last_accessed < ?)`
	case DecayAdvanced:
		set = `heat = MIN(?, MAX(?, COALESCE(r.importance, 1.0)
			* pow(?, MAX(0, (? - r.created_at) / 86400000.0))
			* ln(r.access_count + 2)))`
		args = []any{p.Max, p.Min, p.DecayRate, req.Now.UnixMilli()}
	default:
		return 0, fmt.Errorf("apply decay: unknown mode %q", req.Mode)
	}

	args = append(args, req.Window.FirstRowID, req.Window.LastRowID)
	args = append(args, partArgs...)
	if idle != "" {
		args = append(args, req.IdleBefore.UnixMilli())
	}

	res, err := db.ExecContext(ctx, `
		UPDATE records AS r SET `+set+`
		WHERE r.rowid BETWEEN ? AND ? AND r.pinned = 0 `+partWhere+` `+idle,
		args...)
	if err != nil {
		return 0, fmt.Errorf("apply decay window [%d,%d]: %w", req.Window.FirstRowID, req.Window.LastRowID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func partitionClause(partition, partitions int) (string, []any) {
	if partitions <= 1 {
		return "", nil
	}
	return "AND record_partition(r.id, ?) = ?", []any{partitions, partition}
}

// BoostOne adds amount to one record's heat (capped at Max), bumps its
// access count and stamps last_accessed, returning the new heat.
// found is false when the id does not exist.
func (db *DB) BoostOne(ctx context.Context, id string, amount float64, p HeatParams, now time.Time) (heat float64, found bool, err error) {
	err = db.QueryRowContext(ctx, `
		UPDATE records AS r SET
			heat = CASE WHEN r.pinned = 1 THEN ? ELSE MIN(?, MAX(?, COALESCE(r.heat, ?) + ?)) END,
			access_count = r.access_count + 1,
			last_accessed = ?
		WHERE r.id = ?
		RETURNING heat
	`, p.Max, p.Max, p.Min, p.Initial, amount, now.UnixMilli(), id).Scan(&heat)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("boost record %s: %w", id, err)
	}
	return heat, true, nil
}

// BoostMany applies the BoostOne update to every id in one statement.
// ids must be distinct; missing ids are ignored.
func (db *DB) BoostMany(ctx context.Context, ids []string, amount float64, p HeatParams, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph, idArgs := placeholders(ids)
	args := append([]any{p.Max, p.Max, p.Min, p.Initial, amount, now.UnixMilli()}, idArgs...)

	res, err := db.ExecContext(ctx, `
		UPDATE records AS r SET
			heat = CASE WHEN r.pinned = 1 THEN ? ELSE MIN(?, MAX(?, COALESCE(r.heat, ?) + ?)) END,
			access_count = r.access_count + 1,
			last_accessed = ?
		WHERE r.id IN (`+ph+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("boost records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// BoostWhere raises the heat of every unpinned record whose key field equals
// value. excludeID, if set, is left untouched.
func (db *DB) BoostWhere(ctx context.Context, key, value string, amount float64, p HeatParams, excludeID string) (int, error) {
	col, ok := filterColumns[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFilterKey, key)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE records AS r SET heat = MIN(?, MAX(?, COALESCE(r.heat, ?) + ?))
		WHERE r.`+col+` = ? AND r.pinned = 0 AND r.id != ?
	`, p.Max, p.Min, p.Initial, amount, value, excludeID)
	if err != nil {
		return 0, fmt.Errorf("boost related %s=%q: %w", key, value, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetPinned pins (heat frozen at maxHeat) or unpins a record.
func (db *DB) SetPinned(ctx context.Context, id string, pinned bool, maxHeat float64) (int, error) {
	var (
		res sql.Result
		err error
	)
	if pinned {
		res, err = db.ExecContext(ctx, `UPDATE records SET pinned = 1, heat = ? WHERE id = ?`, maxHeat, id)
	} else {
		res, err = db.ExecContext(ctx, `UPDATE records SET pinned = 0 WHERE id = ?`, id)
	}
	if err != nil {
		return 0, fmt.Errorf("set pinned %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// HeatedRecord is a record with the heat value it was ranked by.
type HeatedRecord struct {
	Record Record  `json:"record"`
	Heat   float64 `json:"heat"`
}

// Hottest returns the top records by heat, estimating heat from recency for
// rows that have none. Ties go to the newer record.
func (db *DB) Hottest(ctx context.Context, limit int, now time.Time) ([]HeatedRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	args := append(estimatedHeatArgs(now.UnixMilli()), limit)
	rows, err := db.QueryContext(ctx, `
		SELECT `+recordColumns+`, `+estimatedHeatSQL()+` AS est
		`+recordFrom+`
		ORDER BY est DESC, r.created_at DESC, r.id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("hottest: %w", err)
	}
	defer rows.Close()
	return scanHeated(rows)
}

// Coldest returns unpinned records with heat below threshold created before
// createdBefore, coldest first.
func (db *DB) Coldest(ctx context.Context, threshold float64, limit int, createdBefore, now time.Time) ([]HeatedRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	args := estimatedHeatArgs(now.UnixMilli())
	args = append(args, createdBefore.UnixMilli(), threshold, limit)
	rows, err := db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+recordColumns+`, `+estimatedHeatSQL()+` AS est
			`+recordFrom+`
			WHERE r.pinned = 0 AND r.created_at < ?
		)
		WHERE est < ?
		ORDER BY est ASC, created_at ASC, id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("coldest: %w", err)
	}
	defer rows.Close()
	return scanHeated(rows)
}

func scanHeated(rows *sql.Rows) ([]HeatedRecord, error) {
	var out []HeatedRecord
	for rows.Next() {
		var h HeatedRecord
		rec, err := scanRecordWith(rows, &h.Heat)
		if err != nil {
			return nil, fmt.Errorf("scan heated record: %w", err)
		}
		h.Record = *rec
		out = append(out, h)
	}
	return out, rows.Err()
}

// HeatStats summarises the heat distribution.
type HeatStats struct {
	Total    int     `json:"total"`
	Pinned   int     `json:"pinned"`
	Hot      int     `json:"hot"`
	Cold     int     `json:"cold"`
	NoHeat   int     `json:"no_heat"`
	MeanHeat float64 `json:"mean_heat"`
}

// HeatStats counts records per heat bucket. Rows without heat are counted
// in NoHeat only.
func (db *DB) HeatStats(ctx context.Context, hotThreshold, coldThreshold float64) (HeatStats, error) {
	var (
		s    HeatStats
		mean sql.NullFloat64
	)
	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(pinned), 0),
			COALESCE(SUM(CASE WHEN heat >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN heat < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN heat IS NULL THEN 1 ELSE 0 END), 0),
			AVG(heat)
		FROM records
	`, hotThreshold, coldThreshold).Scan(&s.Total, &s.Pinned, &s.Hot, &s.Cold, &s.NoHeat, &mean)
	if err != nil {
		return HeatStats{}, fmt.Errorf("heat stats: %w", err)
	}
	s.MeanHeat = mean.Float64
	return s, nil
}
