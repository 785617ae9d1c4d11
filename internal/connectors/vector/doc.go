// Package vector provides a source adapter for an embedding store kept in
// SQLite.
//
// The source endpoint is the database file. The store table (param
// "table", default "embeddings") must have the columns:
//
//	id         TEXT PRIMARY KEY
//	content    TEXT
//	embedding  BLOB     little-endian float32, NULL to embed content on load
//	updated_at INTEGER  Unix milliseconds
//
// Connect loads every vector into an in-memory HNSW graph. Search embeds
// the query with the configured embedder and returns the nearest rows,
// first loading any rows changed since the graph was last refreshed.
// Records are read in (updated_at, id) order for incremental sync.
package vector
