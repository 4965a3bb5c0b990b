// Package history provides the durable, restart-surviving record of
// completed protocol runs. It is entirely decoupled from the live pipeline
// and protocol control path: a write failure here is logged, never
// propagated to a caller driving the actual experiment.
package history

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed append-and-update log of protocol runs.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the run history database at dbPath and
// runs its migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open run history database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run history migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			protocol_uuid TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			participant_id TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			task_count INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			dataset_path TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
