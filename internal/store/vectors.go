package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// VectorRecord holds an embedding for a record.
type VectorRecord struct {
	RecordID   string    `json:"record_id"`
	Embedding  []float64 `json:"embedding"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  int64     `json:"created_at"`
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = decodeAt(buf, i)
	}
	return vec
}

func decodeAt(buf []byte, i int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
}

// SaveVector stores or replaces the embedding for a record.
func (db *DB) SaveVector(ctx context.Context, recordID string, embedding []float64, model string) error {
	return saveVector(ctx, db.DB, recordID, embedding, model)
}

func saveVector(ctx context.Context, q queryer, recordID string, embedding []float64, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := q.ExecContext(ctx, `
		INSERT INTO record_vectors (record_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET embedding = excluded.embedding, model = excluded.model,
			dimensions = excluded.dimensions, created_at = excluded.created_at
	`, recordID, blob, model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// GetVector returns the embedding for a record, or nil if not found.
func (db *DB) GetVector(ctx context.Context, recordID string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte

	err := db.QueryRowContext(ctx, `
		SELECT record_id, embedding, model, dimensions, created_at
		FROM record_vectors WHERE record_id = ?
	`, recordID).Scan(&v.RecordID, &blob, &v.Model, &v.Dimensions, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// CountMissingVectors returns how many records have no stored embedding.
func (db *DB) CountMissingVectors(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records r
		LEFT JOIN record_vectors v ON v.record_id = r.id
		WHERE v.record_id IS NULL
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count missing vectors: %w", err)
	}
	return n, nil
}

// ListMissingVectors returns records that have no stored embedding.
func (db *DB) ListMissingVectors(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records r
		LEFT JOIN record_vectors v ON v.record_id = r.id
		WHERE v.record_id IS NULL
		ORDER BY r.created_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list missing vectors: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func deleteVector(ctx context.Context, q queryer, recordID string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM record_vectors WHERE record_id = ?", recordID)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}
