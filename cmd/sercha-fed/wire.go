package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-federation/internal/adapters/driven/config/file"
	"github.com/custodia-labs/sercha-federation/internal/adapters/driven/events"
	"github.com/custodia-labs/sercha-federation/internal/adapters/driven/storage/bolt"
	"github.com/custodia-labs/sercha-federation/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-federation/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-federation/internal/adapters/driving/cli"
	"github.com/custodia-labs/sercha-federation/internal/connectors"
	"github.com/custodia-labs/sercha-federation/internal/connectors/index"
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/core/services"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// stateStores are the cursor and result stores of one state backend.
type stateStores struct {
	cursors driven.CursorStore
	results driven.ResultStore
	close   func() error
}

// openState opens the configured state backend in dataDir.
func openState(settings domain.EngineSettings, dataDir string) (*stateStores, error) {
	switch settings.StateBackend {
	case domain.BackendMemory:
		return &stateStores{
			cursors: memory.NewCursorStore(),
			results: memory.NewResultStore(),
			close:   func() error { return nil },
		}, nil
	case domain.BackendBolt:
		store, err := bolt.Open(dataDir, 0)
		if err != nil {
			return nil, err
		}
		return &stateStores{cursors: store, results: store, close: store.Close}, nil
	default:
		store, err := sqlite.NewStore(dataDir)
		if err != nil {
			return nil, err
		}
		return &stateStores{cursors: store.CursorStore(), results: store.ResultStore(), close: store.Close}, nil
	}
}

// dataDirFor resolves the engine data directory.
func dataDirFor(settings domain.EngineSettings) (string, error) {
	if settings.DataDir != "" {
		return settings.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".sercha-fed", "data"), nil
}

// load builds the engine services for the CLI.
func load(_ context.Context, opts cli.Options) (*cli.Services, error) {
	path := opts.ConfigPath
	if path == "" {
		p, err := file.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	var mopts []file.Option
	if opts.DataDir != "" {
		mopts = append(mopts, file.WithOverride(func(cfg *domain.Config) {
			cfg.Engine.DataDir = opts.DataDir
		}))
	}
	manager, err := file.NewManager(path, mopts...)
	if err != nil {
		return nil, err
	}
	cfg := manager.Current()

	dataDir, err := dataDirFor(cfg.Engine)
	if err != nil {
		return nil, err
	}
	state, err := openState(cfg.Engine, dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	indexPath := cfg.Engine.IndexPath
	if indexPath == "" && cfg.Engine.StateBackend != domain.BackendMemory {
		indexPath = filepath.Join(dataDir, "index.bleve")
	}
	idx, err := index.Open(indexPath)
	if err != nil {
		_ = state.close()
		return nil, fmt.Errorf("opening central index: %w", err)
	}

	sink := events.Fanout{events.NewLogSink(logger.With(zap.String("config", path)))}
	factory := connectors.NewDefaultFactory(connectors.Options{Index: idx})
	orch := services.NewSyncOrchestrator(manager, factory, state.cursors, state.results, idx,
		services.WithEventSink(sink),
		services.WithSchemaRegistry(services.NewSchemaRegistry(sink)),
		services.WithBackoffPolicy(services.BackoffPolicy{
			Base:       cfg.Engine.BackoffBase,
			Max:        cfg.Engine.BackoffMax,
			Multiplier: 2.0,
			Jitter:     true,
		}),
	)
	pool := services.NewAdapterPool(factory)
	search := services.NewFederatedSearchService(manager, pool, sink)

	return &cli.Services{
		Sync:   orch,
		Search: search,
		Config: manager,
		Index:  idx,
		Run: func(ctx context.Context) error {
			return run(ctx, manager, factory, pool, orch)
		},
		Close: func() error {
			return errors.Join(pool.Close(), idx.Close(), state.close())
		},
	}, nil
}

// run drives scheduled cycles and watch-triggered syncs until ctx is done.
func run(
	ctx context.Context,
	manager *file.Manager,
	factory driven.AdapterFactory,
	pool *services.AdapterPool,
	orch *services.SyncOrchestrator,
) error {
	cfg := manager.Current()
	scheduler := services.NewScheduler(cfg.Engine.CycleInterval, orch)

	for _, src := range cfg.EnabledSources() {
		adapter, err := factory.Create(src)
		if err != nil {
			logger.Warn("watch %s: %v", src.Name, err)
			continue
		}
		w, ok := adapter.(driven.Watcher)
		if !ok || !adapter.Capabilities().SupportsWatch {
			_ = adapter.Close()
			continue
		}
		defer adapter.Close()
		scheduler.AddWatcher(src.Name, w)
		logger.Info("watching %s for changes", src.Name)
	}

	if err := manager.Watch(ctx, func(next *domain.Config) {
		pool.Retain(next.Sources)
	}); err != nil {
		logger.Warn("config changes will need a restart: %v", err)
	}

	err := scheduler.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
