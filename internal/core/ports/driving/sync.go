package driving

import (
	"context"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// SyncOrchestrator coordinates incremental synchronisation from sources.
type SyncOrchestrator interface {
	// RunCycle syncs every enabled, eligible source once.
	// One source's failure never fails the cycle; every task's outcome
	// is in the returned results.
	RunCycle(ctx context.Context) ([]domain.SyncResult, error)

	// SyncSource syncs one source on demand, ignoring backoff.
	SyncSource(ctx context.Context, source string) (domain.SyncResult, error)

	// Status returns the sync status for a source.
	Status(ctx context.Context, source string) (*SyncStatus, error)
}

// SyncStatus is the observable state of one source.
type SyncStatus struct {
	// Source identifies the source.
	Source string

	// State is idle, connecting, syncing or backoff.
	State domain.SourceState

	// Running indicates a task is in progress.
	Running bool

	// ItemsProcessed counts records indexed by the running task.
	ItemsProcessed int

	// Cursor is the stored progress, including backoff state.
	Cursor domain.SyncCursor

	// History holds recent results, most recent first.
	History []domain.SyncResult
}
