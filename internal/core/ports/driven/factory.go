package driven

import (
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// AdapterBuilder creates a SourceAdapter from a declaration.
type AdapterBuilder func(cfg domain.SourceConfig) (SourceAdapter, error)

// AdapterFactory creates adapters from source declarations.
// It maintains a registry of source types and their builders.
type AdapterFactory interface {
	// Create returns an unconnected adapter for the declaration.
	// Returns ErrUnsupportedType if the source type is unknown.
	Create(cfg domain.SourceConfig) (SourceAdapter, error)

	// Register adds a builder for the given type.
	Register(sourceType string, builder AdapterBuilder)

	// SupportedTypes returns all registered source types.
	SupportedTypes() []string
}
