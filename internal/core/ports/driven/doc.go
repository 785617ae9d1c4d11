// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the engine to function:
//
//   - SourceAdapter: Uniform access to one heterogeneous backend
//   - AdapterFactory: Creates adapters from source declarations
//   - CursorStore: Durable sync progress with compare-and-advance
//   - ResultStore: Sync result history
//   - IndexWriter: Upserts synced records into the central index
//
// # Optional Interfaces
//
// These can be nil - the engine degrades gracefully:
//
//   - EventSink: Observability events. Without it, events are dropped.
//   - Embedder: Text embeddings. Only the vector adapter needs one.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or connector package
package driven
