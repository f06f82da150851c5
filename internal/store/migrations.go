package store

import (
	"context"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "records: remembered notes with heat payload",
		SQL: `
CREATE TABLE records (
    id            TEXT PRIMARY KEY,
    content       TEXT NOT NULL,

    -- Heat
    heat          REAL,
    importance    REAL,
    pinned        INTEGER NOT NULL DEFAULT 0,
    access_count  INTEGER NOT NULL DEFAULT 0,
    last_accessed INTEGER,

    -- Classification tags (boost and merge keys)
    client        TEXT,
    project       TEXT,
    domain        TEXT,
    source        TEXT,

    -- JSON arrays
    tags          TEXT,
    entities      TEXT,
    sources       TEXT,
    merged_from   TEXT,

    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE INDEX idx_records_heat    ON records(heat DESC);
CREATE INDEX idx_records_created ON records(created_at DESC);
CREATE INDEX idx_records_client  ON records(client);
CREATE INDEX idx_records_project ON records(project);
CREATE INDEX idx_records_pinned  ON records(pinned);
`,
	},
	{
		Version:     2,
		Description: "record_vectors: embedding vectors for semantic search",
		SQL: `
CREATE TABLE record_vectors (
    record_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "records: domain and source lookups",
		SQL: `
CREATE INDEX idx_records_domain ON records(domain);
CREATE INDEX idx_records_source ON records(source);
`,
	},
}

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
