package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	gh "github.com/google/go-github/v80/github"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/custodia-labs/sercha-federation/internal/connectors/batch"
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/normalisers"
)

// Ensure WikiAdapter implements the interface.
var _ driven.SourceAdapter = (*WikiAdapter)(nil)

// TableWiki is the single table exposed by the wiki adapter.
const TableWiki = "wiki"

// pageCacheSize bounds the decoded page cache, keyed by blob SHA.
const pageCacheSize = 512

var wikiColumns = []domain.Column{
	{Name: "id", Type: "TEXT"},
	{Name: "repo", Type: "TEXT"},
	{Name: "path", Type: "TEXT"},
	{Name: "title", Type: "TEXT"},
	{Name: "sha", Type: "TEXT"},
	{Name: "html_url", Type: "TEXT"},
}

// WikiAdapter exposes the markdown pages of repository wikis.
// A wiki has no per-page timestamps, so progress is tracked by tree SHA:
// when a wiki's tree moves, every page of that wiki is re-read.
type WikiAdapter struct {
	*base
	pages *lru.Cache[string, string]
}

type wikiPage struct {
	path string
	sha  string
}

// NewWikiAdapter creates a wiki adapter.
func NewWikiAdapter(src domain.SourceConfig) (driven.SourceAdapter, error) {
	b, err := newBase(src)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, string](pageCacheSize)
	if err != nil {
		return nil, err
	}
	return &WikiAdapter{base: b, pages: cache}, nil
}

// Type returns the source type.
func (a *WikiAdapter) Type() string { return domain.SourceTypeWiki }

// Capabilities returns the adapter's capabilities.
func (a *WikiAdapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{
		SupportsIncremental:  true,
		SupportsRateLimiting: true,
		RequiresAuth:         a.cfg.Token != "",
	}
}

// Connect checks every repository is reachable and has its wiki enabled.
func (a *WikiAdapter) Connect(ctx context.Context) error {
	return a.connect(ctx, func(r *gh.Repository) error {
		if !r.GetHasWiki() {
			return ErrWikiDisabled
		}
		return nil
	})
}

// GetSchema returns the fixed wiki schema.
func (a *WikiAdapter) GetSchema(_ context.Context) (*domain.SourceSchema, error) {
	return (&domain.SourceSchema{
		Source: a.Name(),
		Tables: []domain.TableSchema{{Name: TableWiki, Columns: wikiColumns, PrimaryKey: []string{"id"}}},
	}).Seal(), nil
}

// Query lists pages whose path matches the glob in text.
// An empty text matches every page.
func (a *WikiAdapter) Query(ctx context.Context, text string, _ map[string]any) (*domain.QueryResult, error) {
	if _, err := path.Match(text, ""); err != nil {
		return nil, domain.NewSourceError(domain.ErrParse, a.Name(), "query", err)
	}
	res := &domain.QueryResult{Columns: columnNames(wikiColumns)}
	err := a.each(ctx, "query", text, func(r domain.Record) error {
		res.Records = append(res.Records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Stream reads every page matching the glob in text.
func (a *WikiAdapter) Stream(ctx context.Context, text string, batchSize int) (<-chan domain.Batch, <-chan error) {
	return batch.Stream(ctx, batchSize, func(ctx context.Context, yield batch.Yield) error {
		return a.each(ctx, "stream", text, yield)
	})
}

// each yields the matching pages of every wiki in path order.
func (a *WikiAdapter) each(ctx context.Context, op, glob string, yield batch.Yield) error {
	for _, repo := range a.cfg.Repos {
		pages, _, err := a.tree(ctx, repo)
		if err != nil {
			return translate(a.Name(), op, err)
		}
		for _, p := range pages {
			if glob != "" {
				if ok, _ := path.Match(glob, p.path); !ok {
					continue
				}
			}
			r, err := a.load(ctx, repo, p)
			if err != nil {
				return translate(a.Name(), op, err)
			}
			if err := yield(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// FetchChanges re-reads every page of each wiki whose tree moved since
// the cursor. The cursor of a wiki only advances with its last page.
func (a *WikiAdapter) FetchChanges(ctx context.Context, since domain.SyncCursor) ([]domain.Record, error) {
	cursor, err := DecodeCursor(since.Token)
	if err != nil {
		return nil, translate(a.Name(), "fetch_changes", err)
	}
	cur := cursor.Clone()

	var out []domain.Record
	for _, repo := range a.cfg.Repos {
		pages, sha, err := a.tree(ctx, repo)
		if err != nil {
			return nil, translate(a.Name(), "fetch_changes", err)
		}
		if sha == cur.Get(repo).TreeSHA {
			continue
		}
		if len(pages) == 0 {
			cur.Set(repo, RepoCursor{TreeSHA: sha})
			continue
		}
		for i, p := range pages {
			r, err := a.load(ctx, repo, p)
			if err != nil {
				return nil, translate(a.Name(), "fetch_changes", err)
			}
			if i == len(pages)-1 {
				cur.Set(repo, RepoCursor{TreeSHA: sha})
			}
			r.Position = cur.Encode()
			out = append(out, r)
		}
	}
	return out, nil
}

// Search scores every page by query term frequency.
func (a *WikiAdapter) Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error) {
	var out []domain.Candidate
	err := a.each(ctx, "search", "", func(r domain.Record) error {
		score := domain.TermScore(r.Title+"\n"+r.Content, query)
		if score <= 0 {
			return nil
		}
		out = append(out, domain.Candidate{
			DocumentID:  r.ID,
			Source:      a.Name(),
			RawScore:    score,
			Snippet:     domain.Snippet(r.Content, query),
			ContentRef:  fmt.Sprint(r.Fields["html_url"]),
			ContentHash: domain.HashContent(r.Content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].RawScore > out[j].RawScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tree lists the markdown pages of a wiki, ordered by path, with the tree
// SHA. An empty or missing wiki has no pages and an empty SHA.
func (a *WikiAdapter) tree(ctx context.Context, repo Repo) ([]wikiPage, string, error) {
	client, err := a.conn()
	if err != nil {
		return nil, "", err
	}
	wiki := Repo{Owner: repo.Owner, Name: repo.Name + ".wiki"}
	tree, err := client.GetTree(ctx, wiki, a.cfg.WikiBranch)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusConflict) {
			return nil, "", nil
		}
		return nil, "", err
	}

	var pages []wikiPage
	for _, e := range tree.Entries {
		if e.GetType() != "blob" || !strings.HasSuffix(e.GetPath(), ".md") {
			continue
		}
		pages = append(pages, wikiPage{path: e.GetPath(), sha: e.GetSHA()})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].path < pages[j].path })
	return pages, tree.GetSHA(), nil
}

// load builds the record for a page, fetching its content unless cached.
func (a *WikiAdapter) load(ctx context.Context, repo Repo, p wikiPage) (domain.Record, error) {
	content, ok := a.pages.Get(p.sha)
	if !ok {
		client, err := a.conn()
		if err != nil {
			return domain.Record{}, err
		}
		data, err := client.GetBlobContent(ctx, Repo{Owner: repo.Owner, Name: repo.Name + ".wiki"}, p.sha)
		if err != nil {
			return domain.Record{}, err
		}
		content = string(data)
		a.pages.Add(p.sha, content)
	}

	title := strings.TrimSuffix(path.Base(p.path), ".md")
	id := repo.FullName() + "/wiki/" + strings.TrimSuffix(p.path, ".md")
	htmlURL := fmt.Sprintf("https://github.com/%s/wiki/%s", repo.FullName(), title)
	return domain.Record{
		ID:      id,
		Table:   TableWiki,
		Title:   title,
		Content: normalisers.Markdown(content),
		Fields: map[string]any{
			"id":       id,
			"repo":     repo.FullName(),
			"path":     p.path,
			"title":    title,
			"sha":      p.sha,
			"html_url": htmlURL,
		},
	}, nil
}
