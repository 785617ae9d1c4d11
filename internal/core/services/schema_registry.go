package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// SchemaRegistry keeps the latest introspected schema per source and
// reports drift when a fingerprint changes. Last writer wins.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*domain.SourceSchema
	sink    driven.EventSink
}

// NewSchemaRegistry creates a registry. sink may be nil.
func NewSchemaRegistry(sink driven.EventSink) *SchemaRegistry {
	return &SchemaRegistry{
		schemas: make(map[string]*domain.SourceSchema),
		sink:    sink,
	}
}

// Register stores schema as the latest for source.
// When a previous schema exists with a different fingerprint, the drift
// event is emitted and returned. The new schema is stored either way.
func (r *SchemaRegistry) Register(ctx context.Context, source string, schema *domain.SourceSchema) (*domain.SchemaDriftEvent, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: nil schema for %s", domain.ErrParse, source)
	}
	stored := *schema
	stored.Source = source
	if stored.Fingerprint == "" {
		stored.Seal()
	}
	if stored.DetectedAt.IsZero() {
		stored.DetectedAt = time.Now()
	}

	r.mu.Lock()
	prev := r.schemas[source]
	r.schemas[source] = &stored
	r.mu.Unlock()

	if prev == nil || prev.Fingerprint == stored.Fingerprint {
		return nil, nil
	}

	drift := domain.DiffSchemas(prev, &stored)
	logger.Warn("schema drift on %s: +%v -%v", source, drift.AddedColumns, drift.RemovedColumns)
	emit(ctx, r.sink, domain.Event{
		Kind:    domain.EventSchemaDrift,
		Source:  source,
		At:      drift.DetectedAt,
		Payload: drift,
	})
	return &drift, nil
}

// Get returns the latest schema for source.
func (r *SchemaRegistry) Get(source string) (*domain.SourceSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[source]
	if !ok {
		return nil, fmt.Errorf("schema for %s: %w", source, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

// Forget drops the schema of a removed source.
func (r *SchemaRegistry) Forget(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, source)
}

// emit delivers an event without letting the sink affect the caller.
func emit(ctx context.Context, sink driven.EventSink, ev domain.Event) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("event sink panicked on %s: %v", ev.Kind, r)
		}
	}()
	if err := sink.Emit(ctx, ev); err != nil {
		logger.Debug("event sink rejected %s: %v", ev.Kind, err)
	}
}
