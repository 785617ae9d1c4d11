package driving

import (
	"context"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// FederatedSearch queries live sources in parallel and merges the results.
type FederatedSearch interface {
	// Search returns merged results from every responding source.
	// Returns domain.ErrAggregateFailure when no source responds.
	Search(ctx context.Context, req domain.SearchRequest) (*domain.FederatedResult, error)
}
