package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record is a remembered note with its heat payload.
//
// Optional fields are pointers; nil means "never set" and callers apply the
// documented default (heat: initial heat on creation, 1.0 when ranking;
// importance: 1.0).
type Record struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"-"` // nil when no vector is stored
	Model     string    `json:"model,omitempty"`

	Heat         *float64 `json:"heat"`
	Importance   *float64 `json:"importance"`
	Pinned       bool     `json:"pinned"`
	AccessCount  int      `json:"access_count"`
	LastAccessed *int64   `json:"last_accessed,omitempty"`

	Client  string `json:"client,omitempty"`
	Project string `json:"project,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Source  string `json:"source,omitempty"`

	Tags     []string `json:"tags,omitempty"`
	Entities []string `json:"entities,omitempty"`
	Sources  []string `json:"sources,omitempty"`

	MergedFrom []Lineage `json:"merged_from,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Lineage records one record absorbed by a merge.
type Lineage struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	MergedAt  int64  `json:"merged_at"`
}

// HeatOr returns the stored heat or def when none was ever set.
func (r *Record) HeatOr(def float64) float64 {
	if r.Heat == nil {
		return def
	}
	return *r.Heat
}

// ImportanceOr returns the stored importance or def when none was set.
func (r *Record) ImportanceOr(def float64) float64 {
	if r.Importance == nil {
		return def
	}
	return *r.Importance
}

// Created returns CreatedAt as a time.Time.
func (r *Record) Created() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// Float returns a pointer to v, for populating optional record fields.
func Float(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// filterColumns is the allow-list of metadata keys usable in filters and
// related-boosts, mapped to their column names.
var filterColumns = map[string]string{
	"client":  "client",
	"project": "project",
	"domain":  "domain",
	"source":  "source",
}

// FilterKeys returns the allow-listed metadata keys in sorted order.
func FilterKeys() []string {
	keys := make([]string, 0, len(filterColumns))
	for k := range filterColumns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsFilterKey reports whether key is an allow-listed metadata field.
func IsFilterKey(key string) bool {
	_, ok := filterColumns[key]
	return ok
}

// Filters are exact-match equality constraints on allow-listed metadata.
type Filters map[string]string

// Validate returns ErrInvalidFilterKey for the first unknown key.
func (f Filters) Validate() error {
	for k := range f {
		if !IsFilterKey(k) {
			return fmt.Errorf("%w: %q", ErrInvalidFilterKey, k)
		}
	}
	return nil
}

// clause renders the filters as a deterministic AND-joined WHERE fragment.
func (f Filters) clause(alias string) (string, []any, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s.%s = ?", alias, filterColumns[k]))
		args = append(args, f[k])
	}
	return strings.Join(parts, " AND "), args, nil
}

const recordColumns = `r.id, r.content, r.heat, r.importance, r.pinned, r.access_count, r.last_accessed,
	r.client, r.project, r.domain, r.source, r.tags, r.entities, r.sources, r.merged_from,
	r.created_at, r.updated_at, v.embedding, v.model`

const recordFrom = `FROM records r LEFT JOIN record_vectors v ON v.record_id = r.id`

// Upsert inserts a record or replaces its payload, keeping the stable rowid.
// CreatedAt/UpdatedAt default to now. A non-nil Embedding is stored alongside.
func (db *DB) Upsert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("upsert record: empty id")
	}
	now := time.Now().UnixMilli()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	tags, entities, sources, lineage, err := encodeArrays(rec)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, content, heat, importance, pinned, access_count, last_accessed,
			client, project, domain, source, tags, entities, sources, merged_from, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content, heat = excluded.heat, importance = excluded.importance,
			pinned = excluded.pinned, access_count = excluded.access_count,
			last_accessed = excluded.last_accessed, client = excluded.client,
			project = excluded.project, domain = excluded.domain, source = excluded.source,
			tags = excluded.tags, entities = excluded.entities, sources = excluded.sources,
			merged_from = excluded.merged_from, updated_at = excluded.updated_at
	`, rec.ID, rec.Content, rec.Heat, rec.Importance, boolInt(rec.Pinned), rec.AccessCount, rec.LastAccessed,
		rec.Client, rec.Project, rec.Domain, rec.Source,
		tags, entities, sources, lineage, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	if len(rec.Embedding) > 0 {
		if err := saveVector(ctx, tx, rec.ID, rec.Embedding, rec.Model); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Get returns a record by id, or ErrNotFound.
func (db *DB) Get(ctx context.Context, id string) (*Record, error) {
	return getRecord(ctx, db.DB, id)
}

func getRecord(ctx context.Context, q queryer, id string) (*Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` `+recordFrom+` WHERE r.id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// GetMany returns the records for the given ids. Missing ids are skipped;
// the result follows the order of ids.
func (db *DB) GetMany(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph, args := placeholders(ids)
	rows, err := db.QueryContext(ctx, `SELECT `+recordColumns+` `+recordFrom+` WHERE r.id IN (`+ph+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	defer rows.Close()

	found, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Record, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}
	out := make([]Record, 0, len(found))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
			delete(byID, id)
		}
	}
	return out, nil
}

// Delete removes a record and its vector. Deleting a missing record is not an error.
func (db *DB) Delete(ctx context.Context, id string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	n, err := deleteRecord(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return n, nil
}

func deleteRecord(ctx context.Context, q queryer, id string) (int, error) {
	if err := deleteVector(ctx, q, id); err != nil {
		return 0, fmt.Errorf("delete vector for record %s: %w", id, err)
	}
	res, err := q.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("delete record %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of stored records.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// AllContent returns the content of every record, oldest first.
func (db *DB) AllContent(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT content FROM records ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("all content: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Scored is a record with its cosine distance to a query vector.
type Scored struct {
	Record   Record
	Distance float64
}

// QueryBySimilarity returns up to limit records ordered by ascending cosine
// distance to vec. Records without a vector, or with a vector of different
// dimension, are never returned. Ties go to the newer record, then to id.
func (db *DB) QueryBySimilarity(ctx context.Context, vec []float64, filters Filters, limit int) ([]Scored, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("query by similarity: empty vector")
	}
	where, fargs, err := filters.clause("r")
	if err != nil {
		return nil, err
	}
	if where != "" {
		where = "AND " + where
	}
	if limit <= 0 {
		limit = -1
	}

	args := append([]any{encodeEmbedding(vec)}, fargs...)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+recordColumns+`, cosine_distance(v.embedding, ?) AS distance
			`+recordFrom+`
			WHERE v.embedding IS NOT NULL `+where+`
		)
		WHERE distance IS NOT NULL
		ORDER BY distance ASC, created_at DESC, id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query by similarity: %w", err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var s Scored
		rec, err := scanRecordWith(rows, &s.Distance)
		if err != nil {
			return nil, err
		}
		s.Record = *rec
		out = append(out, s)
	}
	return out, rows.Err()
}

// PairQuery bounds a pairwise similarity scan.
type PairQuery struct {
	MaxDistance float64 // pairs with distance <= MaxDistance
	// RecentSince, when non-zero, restricts candidates to records created at
	// or after this unix-ms timestamp.
	RecentSince int64
	// RecentLimit, when positive, restricts candidates to the N most recently
	// created records.
	RecentLimit int
	// MinCreatedApart, when positive, drops pairs created closer together
	// than this many milliseconds.
	MinCreatedApart int64
	Limit           int
}

// Pair is two record ids and their cosine distance. AID < BID.
type Pair struct {
	AID      string
	BID      string
	Distance float64
}

// QueryPairsBySimilarity finds record pairs within MaxDistance of each
// other, closest first.
func (db *DB) QueryPairsBySimilarity(ctx context.Context, q PairQuery) ([]Pair, error) {
	var (
		candWhere []string
		args      []any
	)
	candWhere = append(candWhere, "1 = 1")
	if q.RecentSince > 0 {
		candWhere = append(candWhere, "r.created_at >= ?")
		args = append(args, q.RecentSince)
	}
	candLimit := -1
	if q.RecentLimit > 0 {
		candLimit = q.RecentLimit
	}
	args = append(args, candLimit, q.MaxDistance)

	apart := ""
	if q.MinCreatedApart > 0 {
		apart = "AND ABS(a_created - b_created) >= ?"
		args = append(args, q.MinCreatedApart)
	}
	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, `
		WITH cand AS (
			SELECT r.id, r.created_at, v.embedding
			FROM records r JOIN record_vectors v ON v.record_id = r.id
			WHERE `+strings.Join(candWhere, " AND ")+`
			ORDER BY r.created_at DESC, r.id DESC
			LIMIT ?
		)
		SELECT a_id, b_id, distance FROM (
			SELECT a.id AS a_id, b.id AS b_id, a.created_at AS a_created, b.created_at AS b_created,
				cosine_distance(a.embedding, b.embedding) AS distance
			FROM cand a JOIN cand b ON a.id < b.id
		)
		WHERE distance IS NOT NULL AND distance <= ? `+apart+`
		ORDER BY distance ASC, a_id ASC, b_id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query pairs by similarity: %w", err)
	}
	defer rows.Close()

	var out []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.AID, &p.BID, &p.Distance); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	return scanRecordWith(row)
}

// scanRecordWith scans recordColumns followed by any extra destinations.
func scanRecordWith(row rowScanner, extra ...any) (*Record, error) {
	var (
		r                                   Record
		heat, importance                    sql.NullFloat64
		pinned                              int
		lastAccessed                        sql.NullInt64
		client, project, domain, source     sql.NullString
		tags, entities, sources, mergedFrom sql.NullString
		embedding                           []byte
		model                               sql.NullString
	)
	dest := []any{&r.ID, &r.Content, &heat, &importance, &pinned, &r.AccessCount, &lastAccessed,
		&client, &project, &domain, &source, &tags, &entities, &sources, &mergedFrom,
		&r.CreatedAt, &r.UpdatedAt, &embedding, &model}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if heat.Valid {
		r.Heat = Float(heat.Float64)
	}
	if importance.Valid {
		r.Importance = Float(importance.Float64)
	}
	if lastAccessed.Valid {
		r.LastAccessed = Int64(lastAccessed.Int64)
	}
	r.Pinned = pinned != 0
	r.Client = client.String
	r.Project = project.String
	r.Domain = domain.String
	r.Source = source.String
	r.Model = model.String
	if len(embedding) > 0 {
		r.Embedding = decodeEmbedding(embedding)
	}

	var err error
	if r.Tags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", r.ID, err)
	}
	if r.Entities, err = decodeStrings(entities); err != nil {
		return nil, fmt.Errorf("decode entities for %s: %w", r.ID, err)
	}
	if r.Sources, err = decodeStrings(sources); err != nil {
		return nil, fmt.Errorf("decode sources for %s: %w", r.ID, err)
	}
	if mergedFrom.Valid && mergedFrom.String != "" {
		if err := json.Unmarshal([]byte(mergedFrom.String), &r.MergedFrom); err != nil {
			return nil, fmt.Errorf("decode merged_from for %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func decodeStrings(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeStrings(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func encodeArrays(rec *Record) (tags, entities, sources, lineage any, err error) {
	if tags, err = encodeStrings(rec.Tags); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode tags: %w", err)
	}
	if entities, err = encodeStrings(rec.Entities); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode entities: %w", err)
	}
	if sources, err = encodeStrings(rec.Sources); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode sources: %w", err)
	}
	if len(rec.MergedFrom) > 0 {
		b, mErr := json.Marshal(rec.MergedFrom)
		if mErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode merged_from: %w", mErr)
		}
		lineage = string(b)
	}
	return tags, entities, sources, lineage, nil
}

func placeholders(ids []string) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return strings.Join(ph, ","), args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
