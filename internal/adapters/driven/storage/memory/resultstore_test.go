package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

func TestResultStore_HistoryMostRecentFirst(t *testing.T) {
	store := NewResultStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, domain.SyncResult{Source: "s", CycleID: fmt.Sprint(i)}))
	}
	require.NoError(t, store.Record(ctx, domain.SyncResult{Source: "other", CycleID: "x"}))

	h, err := store.History(ctx, "s", 2)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "2", h[0].CycleID)
	assert.Equal(t, "1", h[1].CycleID)
}

func TestResultStore_Prune(t *testing.T) {
	store := NewResultStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, domain.SyncResult{Source: "s", CycleID: fmt.Sprint(i)}))
	}

	require.NoError(t, store.Prune(ctx, 2))

	h, _ := store.History(ctx, "s", 0)
	require.Len(t, h, 2)
	assert.Equal(t, "4", h[0].CycleID)
	assert.Equal(t, "3", h[1].CycleID)
}

func TestIndexWriter_UpsertIsIdempotent(t *testing.T) {
	w := NewIndexWriter()
	ctx := context.Background()
	batch := []domain.Record{{ID: "1", Content: "a"}, {ID: "2", Content: "b"}}

	require.NoError(t, w.UpsertBatch(ctx, "s", batch))
	require.NoError(t, w.UpsertBatch(ctx, "s", batch))

	assert.Equal(t, 2, w.Count("s"))
	assert.Equal(t, []string{"1", "2"}, w.IDs("s"))
	assert.Equal(t, 2, w.Batches())
}
