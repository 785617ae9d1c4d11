package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// Ensure Manager implements the interface.
var _ driven.ConfigProvider = (*Manager)(nil)

// reloadDebounce collapses the burst of events editors produce on save.
const reloadDebounce = 250 * time.Millisecond

// DefaultPath returns ~/.sercha-fed/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".sercha-fed", "config.toml"), nil
}

// Load reads, overrides from the process environment and validates the
// configuration at path. Invalid source declarations are dropped into
// Config.Rejected; only invalid engine settings or the lack of any valid
// enabled source fail the load.
func Load(path string) (*domain.Config, error) {
	return load(path, os.LookupEnv, nil)
}

func load(path string, lookup LookupEnv, overrides []func(*domain.Config)) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrConfig, path, err)
	}
	cfg, err := Decode(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	applyEnv(cfg, lookup)
	for _, fn := range overrides {
		fn(cfg)
	}
	cfg.Prune()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(err, cfg.RejectedError())
	}
	for _, r := range cfg.Rejected {
		logger.Warn("config: skipping source %q: %v", r.Name, r.Err)
	}
	return cfg, nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithLookupEnv replaces os.LookupEnv for overrides.
func WithLookupEnv(lookup LookupEnv) Option {
	return func(m *Manager) { m.lookup = lookup }
}

// WithOverride applies fn to every snapshot after loading and before
// validation. Used for command-line flags that outrank the file.
func WithOverride(fn func(*domain.Config)) Option {
	return func(m *Manager) { m.overrides = append(m.overrides, fn) }
}

// Manager publishes the current configuration snapshot.
// Reload is all or nothing: a snapshot that fails to parse or validate
// leaves the previous one in place.
type Manager struct {
	path      string
	lookup    LookupEnv
	overrides []func(*domain.Config)

	mu      sync.Mutex // serialises reloads
	current atomic.Pointer[domain.Config]
}

// NewManager loads path and returns a manager serving it.
// A configuration error here is fatal to the caller.
func NewManager(path string, opts ...Option) (*Manager, error) {
	m := &Manager{path: path, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(m)
	}
	if _, err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the configuration file path.
func (m *Manager) Path() string {
	return m.path
}

// Current returns the active snapshot. Callers must not modify it.
func (m *Manager) Current() *domain.Config {
	return m.current.Load()
}

// Reload re-reads the file and swaps the snapshot if it is valid.
func (m *Manager) Reload() (*domain.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := load(m.path, m.lookup, m.overrides)
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	logger.Debug("config: loaded %d sources from %s", len(cfg.Sources), m.path)
	return cfg, nil
}

// Watch reloads whenever the file changes until ctx is done. onReload
// receives each accepted snapshot; rejected edits are logged and ignored.
func (m *Manager) Watch(ctx context.Context, onReload func(*domain.Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors often replace the file on save.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", m.path, err)
	}

	go func() {
		defer w.Close()
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()
		target := filepath.Clean(m.path)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					cfg, err := m.Reload()
					if err != nil {
						logger.Warn("config: rejected reload of %s: %v", m.path, err)
						return
					}
					logger.Info("config: reloaded %s", m.path)
					if onReload != nil {
						onReload(cfg)
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if !errors.Is(err, fsnotify.ErrEventOverflow) {
					logger.Warn("config: watcher error: %v", err)
				}
			}
		}
	}()
	return nil
}
