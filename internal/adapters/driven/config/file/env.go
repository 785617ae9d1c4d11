package file

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// EnvPrefix starts every per-source override variable.
const EnvPrefix = "DS_"

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// EnvKey returns the override variable for a source field,
// e.g. EnvKey("sales-db", "ENDPOINT") is DS_SALES_DB_ENDPOINT.
func EnvKey(source, field string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for _, r := range source {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteByte('_')
	b.WriteString(field)
	return b.String()
}

// applyEnv overlays DS_<SOURCE>_<FIELD> variables onto each source.
// A source with a malformed value is moved to cfg.Rejected with every
// bad variable listed; the other sources are unaffected.
func applyEnv(cfg *domain.Config, lookup LookupEnv) {
	if lookup == nil {
		return
	}
	kept := cfg.Sources[:0]
	for _, src := range cfg.Sources {
		if err := overlayEnv(&src, lookup); err != nil {
			cfg.Reject(src.Name, err)
			continue
		}
		kept = append(kept, src)
	}
	cfg.Sources = kept
}

//nolint:gocyclo // One case per overridable field
func overlayEnv(src *domain.SourceConfig, lookup LookupEnv) error {
	var errs []error
	get := func(field string) (string, bool) {
		return lookup(EnvKey(src.Name, field))
	}
	bad := func(field, v string, err error) {
		errs = append(errs, fmt.Errorf("%s=%q: %w", EnvKey(src.Name, field), v, err))
	}

	if v, ok := get("ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			bad("ENABLED", v, err)
		} else {
			src.Enabled = b
		}
	}
	if v, ok := get("TYPE"); ok {
		src.Type = v
	}
	if v, ok := get("ENDPOINT"); ok {
		src.Endpoint = v
	}
	if v, ok := get("CREDENTIALS_REF"); ok {
		src.CredentialsRef = v
	}
	if v, ok := get("SYNC_MODE"); ok {
		src.SyncMode = domain.SyncMode(strings.ToLower(v))
	}
	if v, ok := get("WEIGHT"); ok {
		w, err := strconv.ParseFloat(v, 64)
		if err != nil {
			bad("WEIGHT", v, err)
		} else {
			src.Weight = w
		}
	}
	if v, ok := get("TABLE_FILTER"); ok {
		src.TableFilter = splitList(v)
	}
	if v, ok := get("BATCH_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			bad("BATCH_SIZE", v, err)
		} else {
			src.BatchSize = n
		}
	}
	if v, ok := get("TIMEOUT_SECONDS"); ok {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			bad("TIMEOUT_SECONDS", v, err)
		} else {
			src.Timeout = time.Duration(n * float64(time.Second))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: source %q: environment: %w", domain.ErrConfig, src.Name, errors.Join(errs...))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
