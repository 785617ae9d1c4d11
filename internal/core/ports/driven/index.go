package driven

import (
	"context"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// IndexWriter upserts synced records into the central index.
// Upserts are idempotent on (source, record ID) so replaying a batch is safe.
type IndexWriter interface {
	UpsertBatch(ctx context.Context, source string, records []domain.Record) error
}

// EventSink receives observability events.
// Emit is fire-and-forget: callers ignore its error.
type EventSink interface {
	Emit(ctx context.Context, event domain.Event) error
}

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length.
	Dimensions() int
}
