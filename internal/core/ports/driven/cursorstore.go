package driven

import (
	"context"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// CursorStore persists sync progress.
// CompareAndAdvance is the only write path; there is no unconditional put.
type CursorStore interface {
	// Get returns the cursor for a source.
	// A source that never synced yields the zero cursor and no error.
	Get(ctx context.Context, source string) (domain.SyncCursor, error)

	// CompareAndAdvance stores next only if the stored version still equals
	// expected.Version (absent counts as version 0). The stored version
	// becomes expected.Version+1. Returns domain.ErrConflict otherwise.
	CompareAndAdvance(ctx context.Context, source string, expected, next domain.SyncCursor) error

	// Delete removes the cursor of a source that was dropped from config.
	Delete(ctx context.Context, source string) error

	// List returns every stored cursor.
	List(ctx context.Context) ([]domain.SyncCursor, error)
}

// ResultStore keeps sync result history.
type ResultStore interface {
	// Record appends a result.
	Record(ctx context.Context, result domain.SyncResult) error

	// History returns recent results for a source, most recent first.
	History(ctx context.Context, source string, limit int) ([]domain.SyncResult, error)

	// Prune keeps the most recent keep results per source.
	Prune(ctx context.Context, keep int) error
}
