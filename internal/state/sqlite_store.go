package state

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/diffsync/internal/events"
)

// SQLiteStore implements SQLite-based shadow storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS shadows (
        path TEXT PRIMARY KEY,
        content TEXT NOT NULL,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Load reads every shadow row.
func (s *SQLiteStore) Load() (map[string]string, error) {
	s.logger.Debug("Loading shadows from SQLite")

	rows, err := s.db.Query("SELECT path, content FROM shadows")
	if err != nil {
		return nil, fmt.Errorf("query shadows: %w", err)
	}
	defer rows.Close()

	shadows := make(map[string]string)
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return nil, fmt.Errorf("scan shadow row: %w", err)
		}
		shadows[path] = content
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shadows: %w", err)
	}

	return shadows, nil
}

// Put upserts one shadow.
func (s *SQLiteStore) Put(path, content string) error {
	_, err := s.db.Exec(`
        INSERT INTO shadows (path, content, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(path) DO UPDATE SET
            content = excluded.content,
            updated_at = CURRENT_TIMESTAMP
    `, path, content)
	if err != nil {
		return fmt.Errorf("upsert shadow %s: %w", path, err)
	}
	return nil
}

// Delete removes one shadow.
func (s *SQLiteStore) Delete(path string) error {
	if _, err := s.db.Exec("DELETE FROM shadows WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete shadow %s: %w", path, err)
	}
	return nil
}

// Reset removes all shadows.
func (s *SQLiteStore) Reset() error {
	s.logger.Info("Resetting state in SQLite")

	if _, err := s.db.Exec("DELETE FROM shadows"); err != nil {
		return fmt.Errorf("delete shadows: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
