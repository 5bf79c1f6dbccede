package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/dyluth/hive/pkg/knowledge"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS facts (
	node_id    INTEGER NOT NULL,
	name       TEXT    NOT NULL,
	fact_id    INTEGER NOT NULL,
	kind       INTEGER NOT NULL,
	truth      REAL    NOT NULL,
	confidence REAL    NOT NULL,
	importance REAL    NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	generation INTEGER NOT NULL,
	PRIMARY KEY (node_id, name)
);
`

const upsertFact = `
INSERT INTO facts (node_id, name, fact_id, kind, truth, confidence, importance, created_at, updated_at, generation)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (node_id, name) DO UPDATE SET
	fact_id    = excluded.fact_id,
	kind       = excluded.kind,
	truth      = excluded.truth,
	confidence = excluded.confidence,
	importance = excluded.importance,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	generation = excluded.generation
`

// SQLiteStore keeps snapshots in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	// One connection: SQLite serializes writers anyway and :memory: is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts every fact under a new generation and deletes rows left over
// from earlier generations, all in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, nodeID uint32, facts []knowledge.Fact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	var generation int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(generation), 0) + 1 FROM facts WHERE node_id = ?`, nodeID,
	).Scan(&generation); err != nil {
		return fmt.Errorf("failed to read snapshot generation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertFact)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range facts {
		f := &facts[i]
		if _, err := stmt.ExecContext(ctx,
			nodeID, f.Name, f.ID, uint8(f.Kind),
			float64(f.Truth), float64(f.Confidence), float64(f.Importance),
			unixNano(f.CreatedAt), unixNano(f.UpdatedAt), generation,
		); err != nil {
			return fmt.Errorf("failed to save fact %q: %w", f.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM facts WHERE node_id = ? AND generation <> ?`, nodeID, generation,
	); err != nil {
		return fmt.Errorf("failed to prune snapshot: %w", err)
	}
	return tx.Commit()
}

// Load reads nodeID's snapshot ordered by fact ID.
func (s *SQLiteStore) Load(ctx context.Context, nodeID uint32) ([]knowledge.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fact_id, kind, name, truth, confidence, importance, created_at, updated_at
		FROM facts WHERE node_id = ? ORDER BY fact_id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	facts := []knowledge.Fact{}
	for rows.Next() {
		var (
			f                             knowledge.Fact
			kind                          uint8
			truth, confidence, importance float64
			created, updated              int64
		)
		if err := rows.Scan(&f.ID, &kind, &f.Name, &truth, &confidence, &importance, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		f.Kind = knowledge.Kind(kind)
		f.Truth, f.Confidence, f.Importance = float32(truth), float32(confidence), float32(importance)
		f.CreatedAt, f.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("snapshot fact %q: %w", f.Name, err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
