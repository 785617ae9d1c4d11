package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure CursorStore implements the interface.
var _ driven.CursorStore = (*CursorStore)(nil)

// CursorStore is an in-memory implementation of driven.CursorStore.
type CursorStore struct {
	mu      sync.Mutex
	cursors map[string]domain.SyncCursor
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		cursors: make(map[string]domain.SyncCursor),
	}
}

// Get retrieves the cursor for a source, or the zero cursor.
func (s *CursorStore) Get(_ context.Context, source string) (domain.SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[source]
	if !ok {
		return domain.SyncCursor{Source: source}, nil
	}
	return c, nil
}

// CompareAndAdvance stores next if the stored version matches expected.
func (s *CursorStore) CompareAndAdvance(_ context.Context, source string, expected, next domain.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.cursors[source]
	if cur.Version != expected.Version {
		return domain.ErrConflict
	}
	next.Source = source
	next.Version = expected.Version + 1
	s.cursors[source] = next
	return nil
}

// Delete removes the cursor for a source.
func (s *CursorStore) Delete(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, source)
	return nil
}

// List returns every stored cursor ordered by source name.
func (s *CursorStore) List(_ context.Context) ([]domain.SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SyncCursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}
