package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure ResultStore implements the interface.
var _ driven.ResultStore = (*ResultStore)(nil)

// ResultStore is an in-memory implementation of driven.ResultStore.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string][]domain.SyncResult // oldest first
}

// NewResultStore creates a new in-memory result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string][]domain.SyncResult),
	}
}

// Record appends a result.
func (s *ResultStore) Record(_ context.Context, result domain.SyncResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.Source] = append(s.results[result.Source], result)
	return nil
}

// History returns up to limit results for a source, most recent first.
func (s *ResultStore) History(_ context.Context, source string, limit int) ([]domain.SyncResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.results[source]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]domain.SyncResult, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Prune keeps the most recent keep results per source.
func (s *ResultStore) Prune(_ context.Context, keep int) error {
	if keep < 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for source, all := range s.results {
		if len(all) > keep {
			s.results[source] = append([]domain.SyncResult(nil), all[len(all)-keep:]...)
		}
	}
	return nil
}
