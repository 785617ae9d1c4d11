package domain

import (
	"errors"
	"fmt"
	"time"
)

// State backends for the cursor store.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// EngineSettings tunes the orchestrator and the federated collector.
type EngineSettings struct {
	// MaxConcurrency bounds concurrent sync tasks per cycle.
	MaxConcurrency int

	// CycleInterval is the time between scheduled sync cycles.
	CycleInterval time.Duration

	// BackoffBase and BackoffMax bound exponential retry delays.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// SearchDeadline is the default federated query deadline.
	SearchDeadline time.Duration

	// SearchMargin is subtracted from the deadline for per-source calls.
	SearchMargin time.Duration

	// StateBackend selects the cursor store (sqlite, bolt, memory).
	StateBackend string

	// DataDir holds the state database and the central index.
	DataDir string

	// IndexPath overrides the central index location. Empty means
	// DataDir/index.bleve.
	IndexPath string

	// HistoryLimit caps stored results per source.
	HistoryLimit int
}

// DefaultEngineSettings returns sensible defaults for the engine.
func DefaultEngineSettings() EngineSettings {
	return EngineSettings{
		MaxConcurrency: 4,
		CycleInterval:  15 * time.Minute,
		BackoffBase:    30 * time.Second,
		BackoffMax:     30 * time.Minute,
		SearchDeadline: 5 * time.Second,
		SearchMargin:   50 * time.Millisecond,
		StateBackend:   BackendSQLite,
		HistoryLimit:   100,
	}
}

// Validate checks the engine settings.
func (s *EngineSettings) Validate() error {
	var errs []error
	if s.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrency must be > 0, got %d", s.MaxConcurrency))
	}
	if s.BackoffBase <= 0 || s.BackoffMax < s.BackoffBase {
		errs = append(errs, fmt.Errorf("backoff must satisfy 0 < base <= max, got %v/%v", s.BackoffBase, s.BackoffMax))
	}
	if s.SearchDeadline <= 0 {
		errs = append(errs, fmt.Errorf("search_deadline must be > 0, got %v", s.SearchDeadline))
	}
	if s.SearchMargin < 0 || s.SearchMargin >= s.SearchDeadline {
		errs = append(errs, fmt.Errorf("search_margin must be in [0, deadline), got %v", s.SearchMargin))
	}
	switch s.StateBackend {
	case BackendSQLite, BackendBolt, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown state_backend %q", s.StateBackend))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: engine: %w", ErrConfig, errors.Join(errs...))
}

// Config is a complete, validated configuration snapshot.
type Config struct {
	Engine  EngineSettings
	Sources []SourceConfig

	// Rejected lists declarations dropped from Sources, in file order.
	Rejected []RejectedSource
}

// RejectedSource is a source declaration that failed to load.
// Its error wraps ErrConfig.
type RejectedSource struct {
	Name string
	Err  error
}

// Reject records a declaration that never made it into Sources.
func (c *Config) Reject(name string, err error) {
	if !errors.Is(err, ErrConfig) {
		err = fmt.Errorf("%w: source %q: %w", ErrConfig, name, err)
	}
	c.Rejected = append(c.Rejected, RejectedSource{Name: name, Err: err})
}

// Prune drops every source that fails validation or reuses an earlier
// name, recording each in Rejected. The remaining sources keep their
// order, so priorities stay relative to one another.
func (c *Config) Prune() {
	kept := c.Sources[:0]
	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if err := src.Validate(); err != nil {
			c.Reject(src.Name, err)
			continue
		}
		if seen[src.Name] {
			c.Reject(src.Name, fmt.Errorf("%w: duplicate source name %q", ErrConfig, src.Name))
			continue
		}
		seen[src.Name] = true
		kept = append(kept, src)
	}
	c.Sources = kept
}

// RejectedError joins the errors of every rejected declaration, or
// returns nil when there are none.
func (c *Config) RejectedError() error {
	errs := make([]error, 0, len(c.Rejected))
	for _, r := range c.Rejected {
		errs = append(errs, r.Err)
	}
	return errors.Join(errs...)
}

// Validate checks the engine settings and every source declaration.
// At least one source must be enabled and names must be unique.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Sources))
	enabled := 0
	for i := range c.Sources {
		src := &c.Sources[i]
		if err := src.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[src.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate source name %q", ErrConfig, src.Name))
		}
		seen[src.Name] = true
		if src.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		errs = append(errs, fmt.Errorf("%w: no enabled sources", ErrConfig))
	}
	return errors.Join(errs...)
}

// Source returns the declaration with the given name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// EnabledSources returns enabled declarations in priority order.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}
