package sqlite

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/sercha-federation/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// FileName is the database file created inside the data directory.
const FileName = "state.db"

// Store holds sync state in one SQLite file and hands out the cursor and
// result stores that share it.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens or creates the state database in dataDir.
// If dataDir is empty, defaults to ~/.sercha-fed/data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".sercha-fed", "data")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, FileName)
	// WAL lets status reads proceed while a sync writes; busy_timeout
	// absorbs lock contention between engines sharing the file.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	applied, err := migrate(db, migrations.FS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if applied > 0 {
		logger.Debug("sqlite: applied %d migrations to %s", applied, path)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// CursorStore returns the cursor store backed by this database.
func (s *Store) CursorStore() driven.CursorStore {
	return &cursorStore{store: s}
}

// ResultStore returns the result history backed by this database.
func (s *Store) ResultStore() driven.ResultStore {
	return &resultStore{store: s}
}

// migration is one NNN_name.up.sql file.
type migration struct {
	version int
	name    string
}

// pendingMigrations lists up migrations in fsys newer than current, oldest first.
func pendingMigrations(fsys fs.FS, current int) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	var out []migration
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(prefix)
		if err != nil || v <= current {
			continue
		}
		out = append(out, migration{version: v, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// migrate applies pending migrations, each in its own transaction with
// its version record. It returns how many were applied.
func migrate(db *sql.DB, fsys fs.FS) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	pending, err := pendingMigrations(fsys, current)
	if err != nil {
		return 0, err
	}
	for i, m := range pending {
		script, err := fs.ReadFile(fsys, m.name)
		if err != nil {
			return i, fmt.Errorf("reading %s: %w", m.name, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return i, err
		}
		if _, err := tx.Exec(string(script)); err != nil {
			_ = tx.Rollback()
			return i, fmt.Errorf("applying %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return i, fmt.Errorf("recording %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return i, fmt.Errorf("committing %s: %w", m.name, err)
		}
	}
	return len(pending), nil
}
