package github

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	gh "github.com/google/go-github/v80/github"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// base holds what both GitHub adapters share: the declaration, the
// parsed settings and the client created on Connect.
type base struct {
	src domain.SourceConfig
	cfg *Config

	mu     sync.Mutex
	client *Client
	closed bool
}

func newBase(src domain.SourceConfig) (*base, error) {
	cfg, err := ParseConfig(src, os.Getenv)
	if err != nil {
		return nil, err
	}
	return &base{src: src, cfg: cfg}, nil
}

// Name returns the source name.
func (b *base) Name() string {
	return b.src.Name
}

// connect creates the client and checks every repository is reachable.
// check may reject a repository, e.g. one without a wiki.
func (b *base) connect(ctx context.Context, check func(*gh.Repository) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.ErrAdapterClosed
	}
	if b.client != nil {
		return nil
	}

	client, err := NewClient(ctx, b.cfg, b.src.TLS)
	if err != nil {
		return translate(b.src.Name, "connect", err)
	}
	for _, repo := range b.cfg.Repos {
		r, err := client.GetRepository(ctx, repo)
		if err != nil {
			if IsNotFound(err) {
				return domain.NewSourceError(domain.ErrConfig, b.src.Name, "connect",
					fmt.Errorf("repository %s not found or not accessible", repo.FullName()))
			}
			return translate(b.src.Name, "connect", err)
		}
		if check != nil {
			if err := check(r); err != nil {
				return domain.NewSourceError(domain.ErrConfig, b.src.Name, "connect",
					fmt.Errorf("%s: %w", repo.FullName(), err))
			}
		}
	}
	b.client = client
	return nil
}

// conn returns the connected client.
func (b *base) conn() (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, domain.ErrAdapterClosed
	}
	if b.client == nil {
		return nil, domain.NewSourceError(domain.ErrConnection, b.src.Name, "query", fmt.Errorf("not connected"))
	}
	return b.client, nil
}

// Close releases the client.
func (b *base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.client = nil
	return nil
}

// repoQualifiers restricts a search query to the configured repositories.
func (b *base) repoQualifiers() string {
	parts := make([]string, len(b.cfg.Repos))
	for i, r := range b.cfg.Repos {
		parts[i] = "repo:" + r.FullName()
	}
	return strings.Join(parts, " ")
}
