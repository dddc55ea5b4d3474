// ABOUTME: SQLite persistence for collections, function records, and trust
// ABOUTME: verdicts using modernc.org/sqlite with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kristerhedfors/toolgate/internal/registry"
	"github.com/kristerhedfors/toolgate/internal/synth"
)

// SQLiteStore implements registry.Store and trust.Store on one database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. The schema is
// created if missing; parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS collections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS functions (
			name TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL,
			source_code TEXT NOT NULL,
			descriptor TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '[]',
			enabled INTEGER NOT NULL DEFAULT 0,
			callable INTEGER NOT NULL DEFAULT 1,
			origin TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (collection_id) REFERENCES collections(id)
		);

		CREATE INDEX IF NOT EXISTS idx_functions_collection
			ON functions(collection_id);

		CREATE TABLE IF NOT EXISTS trust_verdicts (
			function_name TEXT PRIMARY KEY,
			verdict TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveCollection replaces the collection row and its full member set in one
// transaction. Records whose names move in from another collection are
// reassigned by the primary-key upsert.
func (s *SQLiteStore) SaveCollection(ctx context.Context, c *registry.Collection, records []*registry.FunctionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (id, name, description, source, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description
	`, c.ID, c.Name, c.Description, c.Source, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting collection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM functions WHERE collection_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clearing prior members: %w", err)
	}

	for _, rec := range records {
		descriptor, err := json.Marshal(rec.Descriptor)
		if err != nil {
			return fmt.Errorf("marshaling descriptor for %s: %w", rec.Name, err)
		}
		params, err := json.Marshal(rec.Params)
		if err != nil {
			return fmt.Errorf("marshaling params for %s: %w", rec.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO functions
				(name, collection_id, source_code, descriptor, params, enabled, callable, origin, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.Name, c.ID, rec.SourceCode, string(descriptor), string(params),
			boolToInt(rec.Enabled), boolToInt(rec.Callable), string(rec.Origin), rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting function %s: %w", rec.Name, err)
		}
	}

	// Collections emptied by cross-collection name moves are cleaned up by
	// the registry through DeleteCollection.
	return tx.Commit()
}

// DeleteCollection removes the collection and every member record.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM functions WHERE collection_id = ?`, id); err != nil {
		return fmt.Errorf("deleting functions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	return tx.Commit()
}

// SetEnabled flips the enabled flag of one record.
func (s *SQLiteStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE functions SET enabled = ? WHERE name = ?`, boolToInt(enabled), name)
	if err != nil {
		return fmt.Errorf("updating enabled flag: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, name)
	}
	return nil
}

// LoadCollections returns every persisted collection with its records.
func (s *SQLiteStore) LoadCollections(ctx context.Context) ([]*registry.Collection, []*registry.FunctionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, source, created_at FROM collections ORDER BY created_at`)
	if err != nil {
		return nil, nil, fmt.Errorf("querying collections: %w", err)
	}
	defer rows.Close()

	var collections []*registry.Collection
	for rows.Next() {
		c := &registry.Collection{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Source, &c.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scanning collection: %w", err)
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	fnRows, err := s.db.QueryContext(ctx, `
		SELECT name, collection_id, source_code, descriptor, params, enabled, callable, origin, created_at
		FROM functions ORDER BY name`)
	if err != nil {
		return nil, nil, fmt.Errorf("querying functions: %w", err)
	}
	defer fnRows.Close()

	var records []*registry.FunctionRecord
	for fnRows.Next() {
		rec := &registry.FunctionRecord{}
		var descriptor, params, origin string
		var enabled, callable int
		if err := fnRows.Scan(&rec.Name, &rec.CollectionID, &rec.SourceCode,
			&descriptor, &params, &enabled, &callable, &origin, &rec.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scanning function: %w", err)
		}
		rec.Descriptor = &synth.Descriptor{}
		if err := json.Unmarshal([]byte(descriptor), rec.Descriptor); err != nil {
			return nil, nil, fmt.Errorf("decoding descriptor for %s: %w", rec.Name, err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
			return nil, nil, fmt.Errorf("decoding params for %s: %w", rec.Name, err)
		}
		rec.Enabled = enabled != 0
		rec.Callable = callable != 0
		rec.Origin = registry.Origin(origin)
		records = append(records, rec)
	}
	return collections, records, fnRows.Err()
}

// SaveVerdict upserts a trust verdict.
func (s *SQLiteStore) SaveVerdict(ctx context.Context, name string, verdict string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trust_verdicts (function_name, verdict, updated_at)
		VALUES (?, ?, ?)
	`, name, verdict, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving verdict: %w", err)
	}
	return nil
}

// DeleteVerdict removes a trust verdict.
func (s *SQLiteStore) DeleteVerdict(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trust_verdicts WHERE function_name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting verdict: %w", err)
	}
	return nil
}

// LoadVerdicts returns all persisted verdicts keyed by function name.
func (s *SQLiteStore) LoadVerdicts(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT function_name, verdict FROM trust_verdicts`)
	if err != nil {
		return nil, fmt.Errorf("querying verdicts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, verdict string
		if err := rows.Scan(&name, &verdict); err != nil {
			return nil, fmt.Errorf("scanning verdict: %w", err)
		}
		out[name] = verdict
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
