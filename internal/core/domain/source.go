package domain

import (
	"errors"
	"fmt"
	"time"
)

// SyncMode selects how a source is pulled into the central index.
type SyncMode string

const (
	// SyncModeFull re-reads the whole source every cycle.
	SyncModeFull SyncMode = "full"

	// SyncModeIncremental reads only records past the stored cursor.
	SyncModeIncremental SyncMode = "incremental"
)

// Source types understood by the adapter factory.
const (
	SourceTypeSQL    = "sql"
	SourceTypeGitHub = "github"
	SourceTypeWiki   = "wiki"
	SourceTypeFiles  = "files"
	SourceTypeVector = "vector"
	SourceTypeIndex  = "index"
)

// Defaults applied when a declaration omits a field.
const (
	DefaultWeight    = 1.0
	DefaultBatchSize = 500
	DefaultTimeout   = 60 * time.Second
)

// TLSConfig holds transport security settings for network sources.
type TLSConfig struct {
	// Insecure skips certificate verification.
	Insecure bool

	// CAFile is an optional PEM bundle used to verify the server.
	CAFile string
}

// SourceConfig is the declaration of one federated source.
// It is immutable after load; a reload produces a new value.
type SourceConfig struct {
	// Name uniquely identifies the source.
	Name string

	// Type selects the adapter (sql, github, wiki, files, vector, index).
	Type string

	// Enabled sources take part in sync cycles and federated queries.
	Enabled bool

	// Endpoint is the connection address (DSN, URL, directory path).
	Endpoint string

	// CredentialsRef names the environment variable that holds the secret.
	// The secret itself never appears in configuration.
	CredentialsRef string

	// TLS holds transport security settings.
	TLS TLSConfig

	// SyncMode is full or incremental.
	SyncMode SyncMode

	// Weight scales this source's normalised scores during merge.
	Weight float64

	// TableFilter restricts which tables, repositories or globs are read.
	TableFilter []string

	// BatchSize caps records per stream batch and per index upsert.
	BatchSize int

	// Timeout bounds a single sync task or query against this source.
	Timeout time.Duration

	// Params carries adapter-specific options.
	Params map[string]string
}

// NewSourceConfig returns a declaration seeded with defaults.
// Decoders start from this value so absent fields keep their default.
func NewSourceConfig(name, sourceType string) SourceConfig {
	return SourceConfig{
		Name:      name,
		Type:      sourceType,
		Enabled:   true,
		SyncMode:  SyncModeIncremental,
		Weight:    DefaultWeight,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
	}
}

// Validate checks the declaration and reports every problem found.
func (c *SourceConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Type == "" {
		errs = append(errs, errors.New("type is required"))
	}
	if c.Weight < 0 {
		errs = append(errs, fmt.Errorf("weight must be >= 0, got %v", c.Weight))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0, got %v", c.Timeout))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be > 0, got %d", c.BatchSize))
	}
	switch c.SyncMode {
	case SyncModeFull, SyncModeIncremental:
	default:
		errs = append(errs, fmt.Errorf("unknown sync_mode %q", c.SyncMode))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: source %q: %w", ErrConfig, c.Name, errors.Join(errs...))
}

// Param returns an adapter parameter or the fallback when unset.
func (c *SourceConfig) Param(key, fallback string) string {
	if v, ok := c.Params[key]; ok && v != "" {
		return v
	}
	return fallback
}
