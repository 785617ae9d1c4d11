package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

type failingSink struct{}

func (failingSink) Emit(context.Context, domain.Event) error { return errors.New("down") }

func TestLogSink_WritesSyncResult(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Emit(context.Background(), domain.Event{
		Kind:   domain.EventSyncResult,
		Source: "warehouse",
		At:     time.Now(),
		Payload: domain.SyncResult{
			Source: "warehouse", Status: domain.SyncFailed, Error: "timeout",
		},
	})

	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "failed", fields["status"])
	assert.Equal(t, "timeout", fields["error"])
	assert.Equal(t, "warehouse", fields["source"])
}

func TestRecorder_FiltersByKind(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	_ = r.Emit(ctx, domain.Event{Kind: domain.EventSyncResult})
	_ = r.Emit(ctx, domain.Event{Kind: domain.EventSchemaDrift})

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.Events(domain.EventSchemaDrift), 1)
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	f := Fanout{a, failingSink{}, nil, b}

	err := f.Emit(context.Background(), domain.Event{Kind: domain.EventQueryResult})

	assert.Error(t, err)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}
