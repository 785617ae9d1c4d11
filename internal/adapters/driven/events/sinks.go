// Package events provides driven.EventSink implementations.
package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure sinks implement the interface.
var (
	_ driven.EventSink = (*LogSink)(nil)
	_ driven.EventSink = (*Recorder)(nil)
	_ driven.EventSink = Fanout(nil)
)

// LogSink writes events as structured log lines.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a sink that logs through log.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("events")}
}

// Emit logs the event.
func (s *LogSink) Emit(_ context.Context, ev domain.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("source", ev.Source),
		zap.Time("at", ev.At),
	}
	switch p := ev.Payload.(type) {
	case domain.SyncResult:
		fields = append(fields,
			zap.String("cycle", p.CycleID),
			zap.String("status", string(p.Status)),
			zap.Int("items", p.ItemsProcessed),
			zap.Int("failed", p.ItemsFailed),
			zap.Duration("duration", p.Duration),
		)
		if p.Error != "" {
			fields = append(fields, zap.String("error", p.Error))
		}
	case domain.SchemaDriftEvent:
		fields = append(fields,
			zap.String("old", p.OldFingerprint),
			zap.String("new", p.NewFingerprint),
			zap.Strings("added", p.AddedColumns),
			zap.Strings("removed", p.RemovedColumns),
		)
	case domain.QueryEvent:
		fields = append(fields,
			zap.Int("candidates", p.Candidates),
			zap.Strings("non_responding", p.NonResponding),
			zap.Duration("latency", p.Latency),
		)
	}
	s.log.Info("event", fields...)
	return nil
}

// Recorder keeps events in memory. Useful for tests and status views.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit stores the event.
func (r *Recorder) Emit(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events, optionally filtered by kind.
func (r *Recorder) Events(kinds ...domain.EventKind) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(kinds) == 0 {
		return append([]domain.Event(nil), r.events...)
	}
	var out []domain.Event
	for _, ev := range r.events {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Fanout delivers each event to every sink and joins their errors.
type Fanout []driven.EventSink

// Emit forwards the event to each sink.
func (f Fanout) Emit(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
