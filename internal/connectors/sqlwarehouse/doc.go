// Package sqlwarehouse implements the "sql" source adapter over
// database/sql.
//
// The adapter reads SQLite databases through the pure-Go modernc.org/sqlite
// driver. Endpoint is the DSN (for SQLite, a database file path or a
// file: URI). TableFilter restricts which tables are read; entries may be
// glob patterns. Params:
//
//   - driver: database/sql driver name (default "sqlite").
//   - change_column: column that orders changes (default "updated_at").
//   - max_conns: connection pool size (default 4).
//   - pool_timeout: how long to wait for a pooled connection (default 5s).
//
// # Change Tracking
//
// Each table is read in (change_column, primary key) order with keyset
// pagination. A table without a single-column primary key is keyed by
// rowid. A table without the change column is treated as append-only and
// ordered by key alone. Rows whose change column is NULL are never synced.
//
// The cursor token holds one mark per table: the last change value and key
// read, each with its SQLite storage class so the comparison in the next
// query binds a value of the same class.
package sqlwarehouse
