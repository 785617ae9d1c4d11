package file

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// Format is a configuration file encoding.
type Format string

// Supported formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from a file extension. Unknown extensions
// are read as TOML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// fileConfig mirrors the on-disk layout. Pointer fields distinguish
// "absent" from an explicit zero so defaults survive.
type fileConfig struct {
	Engine  engineSection   `toml:"engine" yaml:"engine"`
	Sources []sourceSection `toml:"sources" yaml:"sources"`
}

type engineSection struct {
	MaxConcurrency *int   `toml:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	CycleInterval  string `toml:"cycle_interval,omitempty" yaml:"cycle_interval,omitempty"`
	BackoffBase    string `toml:"backoff_base,omitempty" yaml:"backoff_base,omitempty"`
	BackoffMax     string `toml:"backoff_max,omitempty" yaml:"backoff_max,omitempty"`
	SearchDeadline string `toml:"search_deadline,omitempty" yaml:"search_deadline,omitempty"`
	SearchMargin   string `toml:"search_margin,omitempty" yaml:"search_margin,omitempty"`
	StateBackend   string `toml:"state_backend,omitempty" yaml:"state_backend,omitempty"`
	DataDir        string `toml:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	IndexPath      string `toml:"index_path,omitempty" yaml:"index_path,omitempty"`
	HistoryLimit   *int   `toml:"history_limit,omitempty" yaml:"history_limit,omitempty"`
}

type tlsSection struct {
	Insecure bool   `toml:"insecure,omitempty" yaml:"insecure,omitempty"`
	CAFile   string `toml:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

type sourceSection struct {
	Name           string            `toml:"name" yaml:"name"`
	Type           string            `toml:"type" yaml:"type"`
	Enabled        *bool             `toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Endpoint       string            `toml:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	CredentialsRef string            `toml:"credentials_ref,omitempty" yaml:"credentials_ref,omitempty"`
	TLS            *tlsSection       `toml:"tls,omitempty" yaml:"tls,omitempty"`
	SyncMode       string            `toml:"sync_mode,omitempty" yaml:"sync_mode,omitempty"`
	Weight         *float64          `toml:"weight,omitempty" yaml:"weight,omitempty"`
	TableFilter    []string          `toml:"table_filter,omitempty" yaml:"table_filter,omitempty"`
	BatchSize      *int              `toml:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Timeout        string            `toml:"timeout,omitempty" yaml:"timeout,omitempty"`
	Params         map[string]string `toml:"params,omitempty" yaml:"params,omitempty"`
}

// Decode parses raw configuration bytes. Unknown keys are rejected.
// The result carries defaults for absent fields but is not validated.
func Decode(data []byte, format Format) (*domain.Config, error) {
	var fc fileConfig
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document decodes to defaults, like an empty TOML file.
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: yaml: %w", domain.ErrConfig, err)
		}
	default:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fc); err != nil {
			return nil, fmt.Errorf("%w: toml: %w", domain.ErrConfig, err)
		}
	}
	return fc.toDomain()
}

func (fc *fileConfig) toDomain() (*domain.Config, error) {
	var errs []error
	cfg := &domain.Config{Engine: domain.DefaultEngineSettings()}

	e := fc.Engine
	if e.MaxConcurrency != nil {
		cfg.Engine.MaxConcurrency = *e.MaxConcurrency
	}
	if e.HistoryLimit != nil {
		cfg.Engine.HistoryLimit = *e.HistoryLimit
	}
	parseDuration(&errs, "engine.cycle_interval", e.CycleInterval, &cfg.Engine.CycleInterval)
	parseDuration(&errs, "engine.backoff_base", e.BackoffBase, &cfg.Engine.BackoffBase)
	parseDuration(&errs, "engine.backoff_max", e.BackoffMax, &cfg.Engine.BackoffMax)
	parseDuration(&errs, "engine.search_deadline", e.SearchDeadline, &cfg.Engine.SearchDeadline)
	parseDuration(&errs, "engine.search_margin", e.SearchMargin, &cfg.Engine.SearchMargin)
	if e.StateBackend != "" {
		cfg.Engine.StateBackend = e.StateBackend
	}
	cfg.Engine.DataDir = e.DataDir
	cfg.Engine.IndexPath = e.IndexPath

	for i, s := range fc.Sources {
		src := domain.NewSourceConfig(s.Name, s.Type)
		if s.Enabled != nil {
			src.Enabled = *s.Enabled
		}
		src.Endpoint = s.Endpoint
		src.CredentialsRef = s.CredentialsRef
		if s.TLS != nil {
			src.TLS = domain.TLSConfig{Insecure: s.TLS.Insecure, CAFile: s.TLS.CAFile}
		}
		if s.SyncMode != "" {
			src.SyncMode = domain.SyncMode(s.SyncMode)
		}
		if s.Weight != nil {
			src.Weight = *s.Weight
		}
		src.TableFilter = s.TableFilter
		if s.BatchSize != nil {
			src.BatchSize = *s.BatchSize
		}
		src.Params = s.Params

		var srcErrs []error
		parseDuration(&srcErrs, fmt.Sprintf("sources[%d].timeout", i), s.Timeout, &src.Timeout)
		if len(srcErrs) > 0 {
			cfg.Reject(s.Name, errors.Join(srcErrs...))
			continue
		}
		cfg.Sources = append(cfg.Sources, src)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, errors.Join(errs...))
	}
	return cfg, nil
}

// Encode renders cfg in the given format. Defaults are written out
// explicitly so the result documents the effective configuration.
func Encode(cfg *domain.Config, format Format) ([]byte, error) {
	fc := fromDomain(cfg)
	if format == FormatYAML {
		return yaml.Marshal(fc)
	}
	return toml.Marshal(fc)
}

func fromDomain(cfg *domain.Config) fileConfig {
	e := cfg.Engine
	fc := fileConfig{Engine: engineSection{
		MaxConcurrency: &e.MaxConcurrency,
		CycleInterval:  e.CycleInterval.String(),
		BackoffBase:    e.BackoffBase.String(),
		BackoffMax:     e.BackoffMax.String(),
		SearchDeadline: e.SearchDeadline.String(),
		SearchMargin:   e.SearchMargin.String(),
		StateBackend:   e.StateBackend,
		DataDir:        e.DataDir,
		IndexPath:      e.IndexPath,
		HistoryLimit:   &e.HistoryLimit,
	}}
	for _, s := range cfg.Sources {
		sec := sourceSection{
			Name:           s.Name,
			Type:           s.Type,
			Enabled:        &s.Enabled,
			Endpoint:       s.Endpoint,
			CredentialsRef: s.CredentialsRef,
			SyncMode:       string(s.SyncMode),
			Weight:         &s.Weight,
			TableFilter:    s.TableFilter,
			BatchSize:      &s.BatchSize,
			Timeout:        s.Timeout.String(),
			Params:         s.Params,
		}
		if s.TLS != (domain.TLSConfig{}) {
			sec.TLS = &tlsSection{Insecure: s.TLS.Insecure, CAFile: s.TLS.CAFile}
		}
		fc.Sources = append(fc.Sources, sec)
	}
	return fc
}

func parseDuration(errs *[]error, field, raw string, dst *time.Duration) {
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", field, err))
		return
	}
	*dst = d
}
