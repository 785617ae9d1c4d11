package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure IndexWriter implements the interface.
var _ driven.IndexWriter = (*IndexWriter)(nil)

// IndexWriter is an in-memory driven.IndexWriter keyed by source and id.
// Upserting the same record twice leaves one entry.
type IndexWriter struct {
	mu      sync.RWMutex
	records map[string]map[string]domain.Record
	batches int
}

// NewIndexWriter creates an empty in-memory index.
func NewIndexWriter() *IndexWriter {
	return &IndexWriter{records: make(map[string]map[string]domain.Record)}
}

// UpsertBatch stores records, replacing any with the same id.
func (w *IndexWriter) UpsertBatch(ctx context.Context, source string, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	bySource, ok := w.records[source]
	if !ok {
		bySource = make(map[string]domain.Record)
		w.records[source] = bySource
	}
	for _, r := range records {
		bySource[r.ID] = r
	}
	w.batches++
	return nil
}

// IDs returns the stored record ids of a source, sorted.
func (w *IndexWriter) IDs(source string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.records[source]))
	for id := range w.records[source] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of stored records for a source.
func (w *IndexWriter) Count(source string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.records[source])
}

// Batches returns how many batches were upserted.
func (w *IndexWriter) Batches() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.batches
}
