package driven

import (
	"context"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// SourceAdapter gives uniform access to one heterogeneous backend.
// Each source type (sql, github, wiki, files, vector, index) implements it.
//
// Every error returned is a *domain.SourceError carrying a taxonomy kind.
// Implementations must be safe for concurrent use after Connect.
type SourceAdapter interface {
	// Name returns the configured source name.
	Name() string

	// Type returns the source type identifier.
	Type() string

	// Capabilities returns what this adapter supports.
	Capabilities() AdapterCapabilities

	// Connect opens the connection pool and validates credentials.
	// Idempotent: a second call on a connected adapter is a no-op.
	Connect(ctx context.Context) error

	// Close releases the pool. Safe to call more than once.
	Close() error

	// GetSchema introspects the source. Side-effect free.
	GetSchema(ctx context.Context) (*domain.SourceSchema, error)

	// Query runs a native query (SQL text, search string, glob...).
	Query(ctx context.Context, text string, params map[string]any) (*domain.QueryResult, error)

	// Stream reads the result of text in batches of at most batchSize.
	// An empty text streams every record in change order.
	// The batch channel is closed when the stream ends; a single error is
	// sent on the error channel on failure. Cancelling ctx stops the stream.
	// Streams are finite and not restartable.
	Stream(ctx context.Context, text string, batchSize int) (<-chan domain.Batch, <-chan error)

	// FetchChanges returns records changed after the cursor, ordered by
	// (change column, primary key). A zero cursor returns everything.
	FetchChanges(ctx context.Context, since domain.SyncCursor) ([]domain.Record, error)

	// Search runs the source's native search and returns raw-scored candidates.
	Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error)
}

// AdapterCapabilities describes what an adapter supports.
type AdapterCapabilities struct {
	// SupportsIncremental indicates FetchChanges honours the cursor.
	// When false, FetchChanges behaves like a full read.
	SupportsIncremental bool

	// SupportsWatch indicates the adapter implements Watcher.
	SupportsWatch bool

	// SupportsRateLimiting indicates the adapter throttles itself.
	SupportsRateLimiting bool

	// RequiresAuth indicates CredentialsRef must resolve to a secret.
	RequiresAuth bool
}

// Watcher is implemented by adapters that can push change notifications.
// Each notification asks the orchestrator for an on-demand sync.
type Watcher interface {
	// Watch starts watching; the channel is closed when ctx is cancelled.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
