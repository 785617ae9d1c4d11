package domain

import "time"

// SyncStatus is the outcome of one sync task.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncPartial SyncStatus = "partial"
	SyncFailed  SyncStatus = "failed"
)

// SourceState is the orchestrator's view of a source.
type SourceState string

const (
	StateIdle       SourceState = "idle"
	StateConnecting SourceState = "connecting"
	StateSyncing    SourceState = "syncing"
	StateBackoff    SourceState = "backoff"
)

// SyncResult is the immutable record of one sync task.
type SyncResult struct {
	// Source is the synced source name.
	Source string

	// CycleID groups the results of one cycle.
	CycleID string

	// ItemsProcessed counts records written to the index.
	ItemsProcessed int

	// ItemsFailed counts records rejected before indexing.
	ItemsFailed int

	// StartedAt is when the task began.
	StartedAt time.Time

	// Duration is the wall time of the task.
	Duration time.Duration

	// Status is success, partial or failed.
	Status SyncStatus

	// Error holds the failure message for failed and partial tasks.
	Error string

	// Cursor is the token the task ended with.
	Cursor string
}

// Succeeded reports whether the task advanced the cursor.
func (r SyncResult) Succeeded() bool {
	return r.Status == SyncSuccess
}
