package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/profilerag-go/internal/rag"
)

// SQLiteStore keeps the snapshot in a SQLite database: one header row plus
// one row per chunk with the embedding as a little-endian float32 BLOB.
// Save replaces both inside a single transaction.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// path is the database location, for logs.
	path string
}

// DefaultDBPath returns ~/.profilerag/snapshot.db, creating the directory if
// needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("snapshot: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".profilerag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("snapshot: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "snapshot.db"), nil
}

// OpenSQLite opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps ":memory:" on one database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS snapshot_header (
    id         INTEGER PRIMARY KEY CHECK(id = 1),
    version    INTEGER NOT NULL,
    build_id   TEXT    NOT NULL,
    built_at   INTEGER NOT NULL,  -- Unix timestamp (nanoseconds)
    model      TEXT    NOT NULL DEFAULT '',
    dimension  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_chunks (
    position   INTEGER PRIMARY KEY,
    source_id  TEXT    NOT NULL,
    text       TEXT    NOT NULL,
    embedding  BLOB    NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("snapshot: migrate: %w", err)
	}
	return nil
}

// Location returns the database path.
func (s *SQLiteStore) Location() string { return s.path }

// Load reads and validates the stored snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*rag.Collection, error) {
	const hq = `SELECT version, build_id, built_at, model, dimension FROM snapshot_header WHERE id = 1`

	var (
		version int
		builtAt int64
		c       rag.Collection
	)
	err := s.db.QueryRowContext(ctx, hq).Scan(&version, &c.BuildID, &builtAt, &c.Model, &c.Dimension)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: load header: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrCorrupt, version, FormatVersion)
	}
	c.BuiltAt = time.Unix(0, builtAt).UTC()

	rows, err := s.db.QueryContext(ctx, `SELECT source_id, text, embedding FROM snapshot_chunks ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load chunks: %w", err)
	}
	defer rows.Close()

	c.Chunks = []rag.Chunk{}
	for rows.Next() {
		var (
			ch   rag.Chunk
			blob []byte
		)
		if err := rows.Scan(&ch.SourceID, &ch.Text, &blob); err != nil {
			return nil, fmt.Errorf("snapshot: load chunks scan: %w", err)
		}
		if ch.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, err
		}
		c.Chunks = append(c.Chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: load chunks rows: %w", err)
	}

	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save replaces the stored snapshot with c in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, c *rag.Collection) (err error) {
	if err := validateForSave(c); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrWrite, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM snapshot_chunks`); err != nil {
		return fmt.Errorf("%w: clear chunks: %w", ErrWrite, err)
	}
	const hq = `
INSERT INTO snapshot_header (id, version, build_id, built_at, model, dimension)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    version = excluded.version, build_id = excluded.build_id, built_at = excluded.built_at,
    model = excluded.model, dimension = excluded.dimension`
	if _, err = tx.ExecContext(ctx, hq, FormatVersion, c.BuildID, c.BuiltAt.UnixNano(), c.Model, c.Dimension); err != nil {
		return fmt.Errorf("%w: write header: %w", ErrWrite, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_chunks (position, source_id, text, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %w", ErrWrite, err)
	}
	defer stmt.Close()

	for i, ch := range c.Chunks {
		if _, err = stmt.ExecContext(ctx, i, ch.SourceID, ch.Text, encodeEmbedding(ch.Embedding)); err != nil {
			return fmt.Errorf("%w: write chunk %d: %w", ErrWrite, i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrWrite, err)
	}
	return nil
}

// Ping verifies the database is reachable, for readiness probes.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("snapshot: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	return nil
}
