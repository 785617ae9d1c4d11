package sqlwarehouse

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// Defaults for optional params.
const (
	DefaultDriver       = "sqlite"
	DefaultChangeColumn = "updated_at"
	DefaultMaxConns     = 4
	DefaultPoolTimeout  = 5 * time.Second
)

// credentialsPlaceholder in the endpoint is replaced by the resolved secret.
const credentialsPlaceholder = "{credentials}"

// Config holds the parsed settings for a sql source.
type Config struct {
	Driver       string
	DSN          string
	ChangeColumn string
	MaxConns     int
	PoolTimeout  time.Duration

	// Tables are the table name patterns to read. Empty means every table.
	Tables []string

	// PageSize bounds the rows read per keyset query.
	PageSize int
}

// ParseConfig builds a Config from a source declaration. getenv resolves
// the CredentialsRef.
func ParseConfig(src domain.SourceConfig, getenv func(string) string) (*Config, error) {
	if src.Endpoint == "" {
		return nil, fmt.Errorf("%w: source %s: endpoint is required", domain.ErrConfig, src.Name)
	}
	cfg := &Config{
		Driver:       src.Param("driver", DefaultDriver),
		DSN:          src.Endpoint,
		ChangeColumn: src.Param("change_column", DefaultChangeColumn),
		MaxConns:     DefaultMaxConns,
		PoolTimeout:  DefaultPoolTimeout,
		Tables:       src.TableFilter,
		PageSize:     src.BatchSize,
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = domain.DefaultBatchSize
	}

	if v := src.Param("max_conns", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: source %s: invalid max_conns %q", domain.ErrConfig, src.Name, v)
		}
		cfg.MaxConns = n
	}
	if v := src.Param("pool_timeout", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: source %s: invalid pool_timeout %q", domain.ErrConfig, src.Name, v)
		}
		cfg.PoolTimeout = d
	}

	if src.CredentialsRef != "" {
		secret := getenv(src.CredentialsRef)
		if secret == "" {
			return nil, domain.NewSourceError(domain.ErrAuth, src.Name, "connect",
				fmt.Errorf("environment variable %s is empty", src.CredentialsRef))
		}
		cfg.DSN = strings.ReplaceAll(cfg.DSN, credentialsPlaceholder, secret)
	}
	return cfg, nil
}

// checkDatabaseFile rejects a SQLite path that does not exist, since
// opening it would silently create an empty database.
func (c *Config) checkDatabaseFile() error {
	if c.Driver != DefaultDriver || c.DSN == ":memory:" || strings.HasPrefix(c.DSN, "file:") {
		return nil
	}
	path, _, _ := strings.Cut(c.DSN, "?")
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: database %s: %w", domain.ErrConfig, path, err)
	}
	return nil
}
