// Package domain defines the core entities of the federation engine.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - SourceConfig: A declared, immutable data source
//   - SourceSchema: The introspected shape of a source
//   - SyncCursor: Durable incremental-sync progress and backoff state
//   - SyncResult: The outcome of one sync task
//   - Record: A row, issue, page or file pulled from a source
//   - Candidate: A ranked result returned by a source for a query
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
