package github

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// DefaultTimeout is the HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// Client wraps the go-github client with rate limiting.
type Client struct {
	gh          *gh.Client
	rateLimiter *RateLimiter
}

// NewClient creates a client for cfg. tlsCfg applies to enterprise hosts.
func NewClient(ctx context.Context, cfg *Config, tlsCfg domain.TLSConfig) (*Client, error) {
	base, err := transport(tlsCfg)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Transport: base, Timeout: DefaultTimeout}
	if cfg.Token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		hc = oauth2.NewClient(ctx, ts)
		hc.Timeout = DefaultTimeout
	}

	c := &Client{
		gh:          gh.NewClient(hc),
		rateLimiter: NewRateLimiter(cfg.RequestsPerSecond),
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("%w: invalid endpoint %q: %w", domain.ErrConfig, cfg.BaseURL, err)
		}
		c.gh.BaseURL = u
	}
	return c, nil
}

// transport builds the HTTP transport for the TLS settings.
func transport(cfg domain.TLSConfig) (http.RoundTripper, error) {
	if !cfg.Insecure && cfg.CAFile == "" {
		return http.DefaultTransport, nil
	}
	tc := &tls.Config{InsecureSkipVerify: cfg.Insecure} //nolint:gosec // opt-in per source
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read ca_file: %w", domain.ErrConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: ca_file %s has no certificates", domain.ErrConfig, cfg.CAFile)
		}
		tc.RootCAs = pool
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = tc
	return t, nil
}

// RateLimiter returns the client's limiter.
func (c *Client) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

func (c *Client) observe(resp *gh.Response) {
	if resp != nil {
		c.rateLimiter.Observe(resp.Response)
	}
}

// GetRepository fetches a single repository. Used to check access.
func (c *Client) GetRepository(ctx context.Context, repo Repo) (*gh.Repository, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	r, resp, err := c.gh.Repositories.Get(ctx, repo.Owner, repo.Name)
	c.observe(resp)
	if err != nil {
		return nil, wrapError(err, "get repo")
	}
	return r, nil
}

// ListIssues pages through a repository's issues (and pull requests)
// updated at or after since, oldest update first. fn sees each page.
func (c *Client) ListIssues(ctx context.Context, repo Repo, since time.Time, fn func([]*gh.Issue) error) error {
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "asc",
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		issues, resp, err := c.gh.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
		c.observe(resp)
		if err != nil {
			return wrapError(err, "list issues")
		}
		if err := fn(issues); err != nil {
			return err
		}

		if resp.NextPage == 0 {
			return nil
		}
		opts.ListOptions.Page = resp.NextPage
	}
}

// SearchIssues runs an issue search, best match first.
func (c *Client) SearchIssues(ctx context.Context, query string, limit int) ([]*gh.Issue, error) {
	perPage := min(max(limit, 1), 100)
	opts := &gh.SearchOptions{ListOptions: gh.ListOptions{PerPage: perPage}}

	var out []*gh.Issue
	for len(out) < limit {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		res, resp, err := c.gh.Search.Issues(ctx, query, opts)
		c.observe(resp)
		if err != nil {
			return nil, wrapError(err, "search issues")
		}
		out = append(out, res.Issues...)
		if resp.NextPage == 0 || len(res.Issues) == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetTree fetches a tree recursively.
func (c *Client) GetTree(ctx context.Context, repo Repo, ref string) (*gh.Tree, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	tree, resp, err := c.gh.Git.GetTree(ctx, repo.Owner, repo.Name, ref, true)
	c.observe(resp)
	if err != nil {
		return nil, wrapError(err, "get tree")
	}
	return tree, nil
}

// GetBlobContent fetches and decodes a blob.
func (c *Client) GetBlobContent(ctx context.Context, repo Repo, sha string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	blob, resp, err := c.gh.Git.GetBlob(ctx, repo.Owner, repo.Name, sha)
	c.observe(resp)
	if err != nil {
		return nil, wrapError(err, "get blob")
	}

	if blob.GetEncoding() == "base64" {
		content := strings.NewReplacer("\n", "", "\r", "").Replace(blob.GetContent())
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("%w: blob %s: %w", domain.ErrParse, sha, err)
		}
		return data, nil
	}
	return []byte(blob.GetContent()), nil
}
