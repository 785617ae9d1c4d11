package github

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// Repo identifies a repository.
type Repo struct {
	Owner string
	Name  string
}

// FullName returns owner/name.
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// Config holds the parsed settings for a GitHub source.
type Config struct {
	// Repos are the repositories to read, in declaration order.
	Repos []Repo

	// Token is the resolved access token. Empty means unauthenticated.
	Token string

	// BaseURL is the API base URL. Empty means api.github.com.
	BaseURL string

	// RequestsPerSecond is the proactive throttle rate.
	RequestsPerSecond float64

	// IncludePulls indexes pull requests as their own table.
	IncludePulls bool

	// WikiBranch is the wiki branch to read.
	WikiBranch string
}

// ParseConfig builds a Config from a source declaration. getenv resolves
// the CredentialsRef.
func ParseConfig(src domain.SourceConfig, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		BaseURL:           src.Endpoint,
		RequestsPerSecond: ProactiveRate,
		WikiBranch:        src.Param("wiki_branch", "master"),
	}

	if len(src.TableFilter) == 0 {
		return nil, fmt.Errorf("%w: source %s: table_filter must list owner/repo entries", domain.ErrConfig, src.Name)
	}
	for _, entry := range src.TableFilter {
		repo, err := parseRepo(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: source %s: %w", domain.ErrConfig, src.Name, err)
		}
		cfg.Repos = append(cfg.Repos, repo)
	}

	if src.CredentialsRef != "" {
		cfg.Token = getenv(src.CredentialsRef)
		if cfg.Token == "" {
			return nil, domain.NewSourceError(domain.ErrAuth, src.Name, "connect",
				fmt.Errorf("environment variable %s is empty", src.CredentialsRef))
		}
	}

	if v := src.Param("requests_per_second", ""); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			return nil, fmt.Errorf("%w: source %s: invalid requests_per_second %q", domain.ErrConfig, src.Name, v)
		}
		cfg.RequestsPerSecond = rps
	}

	if v := src.Param("include_pulls", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: source %s: invalid include_pulls %q", domain.ErrConfig, src.Name, v)
		}
		cfg.IncludePulls = b
	}

	return cfg, nil
}

func parseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository %q, want owner/repo", s)
	}
	return Repo{Owner: owner, Name: name}, nil
}
