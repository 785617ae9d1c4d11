package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driving"
)

func TestStatusCmd(t *testing.T) {
	last := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	statuses := map[string]*driving.SyncStatus{
		"crm": {
			Source: "crm",
			State:  domain.StateIdle,
			Cursor: domain.SyncCursor{Source: "crm", LastSuccess: last},
			History: []domain.SyncResult{
				{Source: "crm", Status: domain.SyncSuccess, ItemsProcessed: 7, StartedAt: last},
			},
		},
		"wiki": {
			Source: "wiki",
			State:  domain.StateBackoff,
			Cursor: domain.SyncCursor{
				Source:              "wiki",
				ConsecutiveFailures: 3,
				NextEligible:        time.Now().Add(time.Hour),
			},
			History: []domain.SyncResult{
				{Source: "wiki", Status: domain.SyncFailed, Error: "connection: refused", StartedAt: last},
			},
		},
	}

	t.Run("all configured sources", func(t *testing.T) {
		s, cleanup := setupTestServices()
		defer cleanup()
		s.sync.statuses = statuses
		documentCounter = mockCounter{"crm": 42}

		out, err := execute(t, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "crm  idle")
		assert.Contains(t, out, "Documents:      42")
		assert.Contains(t, out, "7 records")
		assert.Contains(t, out, "wiki  backoff")
		assert.Contains(t, out, "Last success:   never")
		assert.Contains(t, out, "Failures:       3")
		assert.Contains(t, out, "Next attempt:")
		assert.Contains(t, out, "connection: refused")
	})

	t.Run("one source", func(t *testing.T) {
		s, cleanup := setupTestServices()
		defer cleanup()
		s.sync.statuses = statuses

		out, err := execute(t, "status", "crm")
		require.NoError(t, err)
		assert.Contains(t, out, "crm  idle")
		assert.NotContains(t, out, "wiki")
		assert.NotContains(t, out, "Documents:")
	})

	t.Run("running task", func(t *testing.T) {
		s, cleanup := setupTestServices()
		defer cleanup()
		s.sync.statuses = map[string]*driving.SyncStatus{
			"crm": {Source: "crm", State: domain.StateSyncing, Running: true, ItemsProcessed: 250},
		}

		out, err := execute(t, "status", "crm")
		require.NoError(t, err)
		assert.Contains(t, out, "crm  syncing")
		assert.Contains(t, out, "In progress:    250 records")
	})

	t.Run("status error", func(t *testing.T) {
		_, cleanup := setupTestServices()
		defer cleanup()

		_, err := execute(t, "status", "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("no configuration", func(t *testing.T) {
		_, cleanup := setupTestServices()
		defer cleanup()
		configProvider = nil

		_, err := execute(t, "status")
		assert.EqualError(t, err, "configuration not loaded")
	})
}

func TestSourcesCmd(t *testing.T) {
	t.Run("lists sources", func(t *testing.T) {
		_, cleanup := setupTestServices()
		defer cleanup()

		out, err := execute(t, "sources")
		require.NoError(t, err)
		assert.Contains(t, out, "NAME")
		assert.Contains(t, out, "crm")
		assert.Contains(t, out, "file:crm.db")
		assert.Contains(t, out, "tables: customers, orders")
		assert.Contains(t, out, "wiki")
		assert.Contains(t, out, "0.50")
		assert.Contains(t, out, "no")
	})

	t.Run("lists skipped declarations", func(t *testing.T) {
		_, cleanup := setupTestServices()
		defer cleanup()
		cfg := testConfig()
		cfg.Reject("legacy", errors.New("weight must be >= 0, got -1"))
		configProvider = &mockConfigProvider{cfg: cfg}

		out, err := execute(t, "sources")
		require.NoError(t, err)
		assert.Contains(t, out, "Skipped:")
		assert.Contains(t, out, `legacy: configuration error: source "legacy": weight must be >= 0, got -1`)
	})

	t.Run("no configuration", func(t *testing.T) {
		_, cleanup := setupTestServices()
		defer cleanup()
		configProvider = nil

		_, err := execute(t, "sources")
		assert.EqualError(t, err, "configuration not loaded")
	})
}

func TestRunCmd(t *testing.T) {
	t.Run("runs until the engine stops", func(t *testing.T) {
		_, cleanup := setupTestServices()
		defer cleanup()
		ran := false
		runEngine = func(ctx context.Context) error {
			ran = true
			return context.Canceled
		}

		out, err := execute(t, "run")
		require.NoError(t, err)
		assert.True(t, ran)
		assert.Contains(t, out, "Stopped.")
	})

	t.Run("engine error", func(t *testing.T) {
		_, cleanup := setupTestServices()
		defer cleanup()
		runEngine = func(context.Context) error { return domain.ErrConfig }

		_, err := execute(t, "run")
		assert.ErrorIs(t, err, domain.ErrConfig)
	})

	t.Run("not configured", func(t *testing.T) {
		_, cleanup := setupTestServices()
		defer cleanup()

		_, err := execute(t, "run")
		assert.EqualError(t, err, "engine not configured")
	})
}
