package file

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

const sampleTOML = `
[engine]
max_concurrency = 8
cycle_interval = "5m"
search_deadline = "2s"
search_margin = "100ms"
state_backend = "bolt"

[[sources]]
name = "sales-db"
type = "sql"
endpoint = "file:sales.db"
credentials_ref = "SALES_DSN"
sync_mode = "incremental"
weight = 1.5
table_filter = ["orders", "customers"]
batch_size = 250
timeout = "30s"

[sources.params]
change_column = "modified_at"

[[sources]]
name = "issues"
type = "github"
enabled = false
table_filter = ["acme/api"]
`

const sampleYAML = `
engine:
  max_concurrency: 2
sources:
  - name: docs
    type: files
    endpoint: /srv/docs
    sync_mode: full
    weight: 0.5
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func envMap(vars map[string]string) LookupEnv {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestManager_LoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", sampleTOML)

	m, err := NewManager(path, WithLookupEnv(envMap(nil)))
	require.NoError(t, err)
	cfg := m.Current()

	assert.Equal(t, 8, cfg.Engine.MaxConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.Engine.CycleInterval)
	assert.Equal(t, 2*time.Second, cfg.Engine.SearchDeadline)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.SearchMargin)
	assert.Equal(t, domain.BackendBolt, cfg.Engine.StateBackend)
	assert.Equal(t, 30*time.Second, cfg.Engine.BackoffBase, "unset fields keep defaults")

	require.Len(t, cfg.Sources, 2)
	sales := cfg.Sources[0]
	assert.Equal(t, "sales-db", sales.Name)
	assert.Equal(t, domain.SourceTypeSQL, sales.Type)
	assert.True(t, sales.Enabled)
	assert.Equal(t, "SALES_DSN", sales.CredentialsRef)
	assert.Equal(t, 1.5, sales.Weight)
	assert.Equal(t, []string{"orders", "customers"}, sales.TableFilter)
	assert.Equal(t, 250, sales.BatchSize)
	assert.Equal(t, 30*time.Second, sales.Timeout)
	assert.Equal(t, "modified_at", sales.Param("change_column", ""))

	issues := cfg.Sources[1]
	assert.False(t, issues.Enabled)
	assert.Equal(t, domain.DefaultWeight, issues.Weight)
	assert.Equal(t, domain.DefaultTimeout, issues.Timeout)
	assert.Equal(t, domain.SyncModeIncremental, issues.SyncMode)
}

func TestManager_LoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", sampleYAML)

	m, err := NewManager(path, WithLookupEnv(envMap(nil)))
	require.NoError(t, err)
	cfg := m.Current()

	assert.Equal(t, 2, cfg.Engine.MaxConcurrency)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, domain.SyncModeFull, cfg.Sources[0].SyncMode)
	assert.Equal(t, 0.5, cfg.Sources[0].Weight)
	assert.Equal(t, "/srv/docs", cfg.Sources[0].Endpoint)
}

func TestManager_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.toml", sampleTOML)

	m, err := NewManager(path, WithLookupEnv(envMap(map[string]string{
		"DS_SALES_DB_ENDPOINT":        "postgres://replica",
		"DS_SALES_DB_WEIGHT":          "0.25",
		"DS_SALES_DB_TABLE_FILTER":    "orders, refunds ,",
		"DS_SALES_DB_TIMEOUT_SECONDS": "1.5",
		"DS_SALES_DB_SYNC_MODE":       "FULL",
		"DS_ISSUES_ENABLED":           "true",
		"DS_ISSUES_BATCH_SIZE":        "10",
	})))
	require.NoError(t, err)
	cfg := m.Current()

	sales, _ := cfg.Source("sales-db")
	assert.Equal(t, "postgres://replica", sales.Endpoint)
	assert.Equal(t, 0.25, sales.Weight)
	assert.Equal(t, []string{"orders", "refunds"}, sales.TableFilter)
	assert.Equal(t, 1500*time.Millisecond, sales.Timeout)
	assert.Equal(t, domain.SyncModeFull, sales.SyncMode)

	issues, _ := cfg.Source("issues")
	assert.True(t, issues.Enabled)
	assert.Equal(t, 10, issues.BatchSize)
}

func TestManager_EnvOverrideMalformed(t *testing.T) {
	path := writeConfig(t, "config.toml", sampleTOML)

	_, err := NewManager(path, WithLookupEnv(envMap(map[string]string{
		"DS_SALES_DB_WEIGHT":    "heavy",
		"DS_ISSUES_BATCH_SIZE":  "lots",
		"DS_SALES_DB_ENDPOINT":  "ok",
		"DS_UNRELATED_ENDPOINT": "ignored",
	})))

	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "DS_SALES_DB_WEIGHT")
	assert.Contains(t, err.Error(), "DS_ISSUES_BATCH_SIZE")
}

func TestManager_InvalidConfigIsFatal(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative weight", "[[sources]]\nname = \"a\"\ntype = \"sql\"\nweight = -1\n"},
		{"bad sync mode", "[[sources]]\nname = \"a\"\ntype = \"sql\"\nsync_mode = \"hourly\"\n"},
		{"bad engine", "[engine]\nstate_backend = \"redis\"\n[[sources]]\nname = \"a\"\ntype = \"sql\"\n"},
		{"no enabled sources", "[[sources]]\nname = \"a\"\ntype = \"sql\"\nenabled = false\n"},
		{"bad duration", "[[sources]]\nname = \"a\"\ntype = \"sql\"\ntimeout = \"soon\"\n"},
		{"unknown key", "[[sources]]\nname = \"a\"\ntype = \"sql\"\ncolour = \"blue\"\n"},
		{"not toml", "this is = = not toml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.toml", tt.body)
			_, err := NewManager(path, WithLookupEnv(envMap(nil)))
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

const mixedSources = `
[[sources]]
name = "good"
type = "files"
endpoint = "/srv/docs"

[[sources]]
name = "bad"
type = "sql"
weight = -1

[[sources]]
name = "late"
type = "sql"
timeout = "soon"

[[sources]]
name = "good"
type = "sql"

[[sources]]
name = "wiki"
type = "wiki"
table_filter = ["acme/api"]
`

func TestManager_InvalidSourceIsSkipped(t *testing.T) {
	path := writeConfig(t, "config.toml", mixedSources)

	m, err := NewManager(path, WithLookupEnv(envMap(nil)))
	require.NoError(t, err)
	cfg := m.Current()

	var names []string
	for _, s := range cfg.Sources {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"good", "wiki"}, names)
	good, _ := cfg.Source("good")
	assert.Equal(t, domain.SourceTypeFiles, good.Type)

	var rejected []string
	for _, r := range cfg.Rejected {
		rejected = append(rejected, r.Name)
		assert.ErrorIs(t, r.Err, domain.ErrConfig)
	}
	assert.Equal(t, []string{"late", "bad", "good"}, rejected)
	assert.ErrorIs(t, cfg.RejectedError(), domain.ErrConfig)
	assert.Contains(t, cfg.RejectedError().Error(), "weight must be >= 0")
}

func TestManager_EnvOverrideMalformedSkipsOnlyThatSource(t *testing.T) {
	path := writeConfig(t, "config.toml", sampleTOML)

	m, err := NewManager(path, WithLookupEnv(envMap(map[string]string{
		"DS_ISSUES_ENABLED":    "true",
		"DS_ISSUES_BATCH_SIZE": "lots",
	})))
	require.NoError(t, err)

	_, ok := m.Current().Source("issues")
	assert.False(t, ok)
	_, ok = m.Current().Source("sales-db")
	assert.True(t, ok)
	require.Len(t, m.Current().Rejected, 1)
	assert.Contains(t, m.Current().Rejected[0].Err.Error(), "DS_ISSUES_BATCH_SIZE")
}

func TestManager_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))

	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestManager_ReloadIsAllOrNothing(t *testing.T) {
	path := writeConfig(t, "config.toml", sampleTOML)
	m, err := NewManager(path, WithLookupEnv(envMap(nil)))
	require.NoError(t, err)
	before := m.Current()

	require.NoError(t, os.WriteFile(path, []byte("[[sources]]\nname = \"a\"\ntype = \"sql\"\nweight = -3\n"), 0600))
	_, err = m.Reload()
	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Same(t, before, m.Current())

	require.NoError(t, os.WriteFile(path, []byte(sampleSingleSource), 0600))
	cfg, err := m.Reload()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Current())
	assert.Len(t, cfg.Sources, 1)
}

const sampleSingleSource = `
[[sources]]
name = "docs"
type = "files"
endpoint = "/srv/docs"
`

func TestManager_Override(t *testing.T) {
	path := writeConfig(t, "config.toml", sampleTOML)

	m, err := NewManager(path,
		WithLookupEnv(envMap(nil)),
		WithOverride(func(c *domain.Config) { c.Engine.DataDir = "/tmp/state" }),
	)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/state", m.Current().Engine.DataDir)
}

func TestEncode_RoundTrip(t *testing.T) {
	path := writeConfig(t, "config.toml", sampleTOML)
	m, err := NewManager(path, WithLookupEnv(envMap(nil)))
	require.NoError(t, err)

	for _, format := range []Format{FormatTOML, FormatYAML} {
		data, err := Encode(m.Current(), format)
		require.NoError(t, err)
		got, err := Decode(data, format)
		require.NoError(t, err, string(data))
		assert.Equal(t, m.Current(), got, string(format))
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "DS_SALES_DB_ENDPOINT", EnvKey("sales-db", "ENDPOINT"))
	assert.Equal(t, "DS_WIKI_V2_WEIGHT", EnvKey("wiki.v2", "WEIGHT"))
	assert.Equal(t, "DS_CAF__TYPE", EnvKey("café", "TYPE"))
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("a/b.yml"))
	assert.Equal(t, FormatYAML, FormatFor("B.YAML"))
	assert.Equal(t, FormatTOML, FormatFor("config.toml"))
	assert.Equal(t, FormatTOML, FormatFor("config"))
}

func TestManager_WatchReloads(t *testing.T) {
	path := writeConfig(t, "config.toml", sampleTOML)
	m, err := NewManager(path, WithLookupEnv(envMap(nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var reloads atomic.Int32
	require.NoError(t, m.Watch(ctx, func(*domain.Config) { reloads.Add(1) }))

	require.NoError(t, os.WriteFile(path, []byte(sampleSingleSource), 0600))

	assert.Eventually(t, func() bool { return reloads.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Len(t, m.Current().Sources, 1)
}
