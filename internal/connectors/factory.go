package connectors

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/custodia-labs/sercha-federation/internal/adapters/driven/embedding/hashing"
	"github.com/custodia-labs/sercha-federation/internal/connectors/files"
	"github.com/custodia-labs/sercha-federation/internal/connectors/github"
	"github.com/custodia-labs/sercha-federation/internal/connectors/index"
	"github.com/custodia-labs/sercha-federation/internal/connectors/sqlwarehouse"
	"github.com/custodia-labs/sercha-federation/internal/connectors/vector"
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.AdapterFactory = (*Factory)(nil)

// Factory maps source types to adapter builders.
type Factory struct {
	mu       sync.RWMutex
	builders map[string]driven.AdapterBuilder
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{builders: make(map[string]driven.AdapterBuilder)}
}

// Register adds a builder for sourceType, replacing any earlier one.
func (f *Factory) Register(sourceType string, builder driven.AdapterBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[sourceType] = builder
}

// Create builds an unconnected adapter for the declaration.
func (f *Factory) Create(cfg domain.SourceConfig) (driven.SourceAdapter, error) {
	f.mu.RLock()
	builder, ok := f.builders[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (source %s)", domain.ErrUnsupportedType, cfg.Type, cfg.Name)
	}
	return builder(cfg)
}

// Has reports whether sourceType is registered.
func (f *Factory) Has(sourceType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.builders[sourceType]
	return ok
}

// SupportedTypes returns the registered types in sorted order.
func (f *Factory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Options supplies the shared resources some adapters need.
type Options struct {
	// Index is the central index. Index sources without an endpoint
	// read it. May be nil.
	Index *index.Store

	// Embedder embeds vector queries. Defaults to a cached hashing
	// embedder of hashing.DefaultDimensions.
	Embedder driven.Embedder
}

// NewDefaultFactory creates a factory with every built-in source type.
func NewDefaultFactory(opts Options) *Factory {
	if opts.Embedder == nil {
		opts.Embedder = hashing.NewCached(hashing.New(hashing.DefaultDimensions), 0)
	}

	f := NewFactory()
	f.Register(domain.SourceTypeSQL, sqlwarehouse.New)
	f.Register(domain.SourceTypeGitHub, github.NewIssuesAdapter)
	f.Register(domain.SourceTypeWiki, github.NewWikiAdapter)
	f.Register(domain.SourceTypeFiles, files.New)
	f.Register(domain.SourceTypeVector, func(src domain.SourceConfig) (driven.SourceAdapter, error) {
		emb, err := embedderFor(src, opts.Embedder)
		if err != nil {
			return nil, err
		}
		return vector.New(src, emb)
	})
	f.Register(domain.SourceTypeIndex, func(src domain.SourceConfig) (driven.SourceAdapter, error) {
		return index.NewAdapter(src, opts.Index)
	})
	return f
}

// embedderFor honours a per-source "dimensions" param.
func embedderFor(src domain.SourceConfig, fallback driven.Embedder) (driven.Embedder, error) {
	v := src.Param("dimensions", "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: source %s: invalid dimensions %q", domain.ErrConfig, src.Name, v)
	}
	if n == fallback.Dimensions() {
		return fallback, nil
	}
	return hashing.NewCached(hashing.New(n), 0), nil
}
