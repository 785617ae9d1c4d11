// Package sqlite provides the SQLite-backed state store.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements two store interfaces
// through a single database connection:
//
//   - CursorStore: Sync progress with compare-and-advance on a version column
//   - ResultStore: Sync result history
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files;
// applied versions are recorded in schema_migrations in the same transaction
// as the migration itself.
//
// # Thread Safety
//
// All operations are safe for concurrent use, including from several
// processes sharing one file: a cursor write only lands when the version
// it read is still current.
package sqlite
