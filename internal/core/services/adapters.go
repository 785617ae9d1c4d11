package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// AdapterPool keeps one connected adapter per source for query traffic.
// An adapter is replaced when its declaration changes after a reload.
type AdapterPool struct {
	factory driven.AdapterFactory

	mu   sync.Mutex
	live map[string]pooledAdapter
}

type pooledAdapter struct {
	cfg     domain.SourceConfig
	adapter driven.SourceAdapter
}

// NewAdapterPool creates an empty pool.
func NewAdapterPool(factory driven.AdapterFactory) *AdapterPool {
	return &AdapterPool{
		factory: factory,
		live:    make(map[string]pooledAdapter),
	}
}

// Get returns a connected adapter for cfg, creating one if needed.
func (p *AdapterPool) Get(ctx context.Context, cfg domain.SourceConfig) (driven.SourceAdapter, error) {
	p.mu.Lock()
	cur, ok := p.live[cfg.Name]
	p.mu.Unlock()
	if ok && reflect.DeepEqual(cur.cfg, cfg) {
		return cur.adapter, nil
	}

	adapter, err := p.factory.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("create adapter: %w", err)
	}
	if err := adapter.Connect(ctx); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if other, ok := p.live[cfg.Name]; ok {
		if reflect.DeepEqual(other.cfg, cfg) {
			// Lost the race to another caller; keep theirs.
			_ = adapter.Close()
			return other.adapter, nil
		}
		if err := other.adapter.Close(); err != nil {
			logger.Debug("close stale adapter %s: %v", cfg.Name, err)
		}
	}
	p.live[cfg.Name] = pooledAdapter{cfg: cfg, adapter: adapter}
	return adapter, nil
}

// Retain closes adapters whose source is not in keep.
// Called after a configuration reload.
func (p *AdapterPool) Retain(keep []domain.SourceConfig) {
	names := make(map[string]bool, len(keep))
	for _, c := range keep {
		names[c.Name] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, pa := range p.live {
		if names[name] {
			continue
		}
		if err := pa.adapter.Close(); err != nil {
			logger.Debug("close adapter %s: %v", name, err)
		}
		delete(p.live, name)
	}
}

// Close closes every pooled adapter.
func (p *AdapterPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for name, pa := range p.live {
		if err := pa.adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(p.live, name)
	}
	return errors.Join(errs...)
}
