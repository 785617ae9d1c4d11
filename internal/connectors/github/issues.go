package github

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/custodia-labs/sercha-federation/internal/connectors/batch"
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/normalisers"
)

// Ensure IssuesAdapter implements the interface.
var _ driven.SourceAdapter = (*IssuesAdapter)(nil)

// Tables exposed by the issue tracker.
const (
	TableIssues = "issues"
	TablePulls  = "pulls"
)

// issueColumns is the fixed schema of both tables.
var issueColumns = []domain.Column{
	{Name: "id", Type: "TEXT"},
	{Name: "repo", Type: "TEXT"},
	{Name: "number", Type: "INTEGER"},
	{Name: "title", Type: "TEXT"},
	{Name: "body", Type: "TEXT"},
	{Name: "state", Type: "TEXT"},
	{Name: "author", Type: "TEXT"},
	{Name: "labels", Type: "TEXT"},
	{Name: "html_url", Type: "TEXT"},
	{Name: "updated_at", Type: "TIMESTAMP"},
}

// IssuesAdapter exposes repository issues as a source.
type IssuesAdapter struct {
	*base
}

// NewIssuesAdapter creates an issue tracker adapter.
func NewIssuesAdapter(src domain.SourceConfig) (driven.SourceAdapter, error) {
	b, err := newBase(src)
	if err != nil {
		return nil, err
	}
	return &IssuesAdapter{base: b}, nil
}

// Type returns the source type.
func (a *IssuesAdapter) Type() string { return domain.SourceTypeGitHub }

// Capabilities returns the adapter's capabilities.
func (a *IssuesAdapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{
		SupportsIncremental:  true,
		SupportsRateLimiting: true,
		RequiresAuth:         a.cfg.Token != "",
	}
}

// Connect checks every configured repository is reachable.
func (a *IssuesAdapter) Connect(ctx context.Context) error {
	return a.connect(ctx, nil)
}

// GetSchema returns the fixed issue schema.
func (a *IssuesAdapter) GetSchema(_ context.Context) (*domain.SourceSchema, error) {
	tables := []domain.TableSchema{{Name: TableIssues, Columns: issueColumns, PrimaryKey: []string{"id"}}}
	if a.cfg.IncludePulls {
		tables = append(tables, domain.TableSchema{Name: TablePulls, Columns: issueColumns, PrimaryKey: []string{"id"}})
	}
	return (&domain.SourceSchema{Source: a.Name(), Tables: tables, DetectedAt: time.Now()}).Seal(), nil
}

// Query runs a GitHub issue search restricted to the configured
// repositories. params may set "limit" (default 100).
func (a *IssuesAdapter) Query(ctx context.Context, text string, params map[string]any) (*domain.QueryResult, error) {
	limit := 100
	if v, ok := params["limit"]; ok {
		n, err := toInt(v)
		if err != nil {
			return nil, domain.NewSourceError(domain.ErrParse, a.Name(), "query", err)
		}
		limit = n
	}
	client, err := a.conn()
	if err != nil {
		return nil, err
	}
	issues, err := client.SearchIssues(ctx, a.searchQuery(text), limit)
	if err != nil {
		return nil, translate(a.Name(), "query", err)
	}

	res := &domain.QueryResult{Columns: columnNames(issueColumns)}
	for _, issue := range issues {
		repo, ok := a.repoOf(issue)
		if !ok {
			continue
		}
		res.Records = append(res.Records, a.record(repo, issue))
	}
	return res, nil
}

// Stream lists every issue of every repository. A non-empty text streams
// search results instead.
func (a *IssuesAdapter) Stream(ctx context.Context, text string, batchSize int) (<-chan domain.Batch, <-chan error) {
	return batch.Stream(ctx, batchSize, func(ctx context.Context, yield batch.Yield) error {
		if text != "" {
			res, err := a.Query(ctx, text, map[string]any{"limit": 1000})
			if err != nil {
				return err
			}
			for _, r := range res.Records {
				if err := yield(r); err != nil {
					return err
				}
			}
			return nil
		}
		return a.changes(ctx, NewCursor(), yield)
	})
}

// FetchChanges returns issues past the cursor in (repo, updated_at, number) order.
func (a *IssuesAdapter) FetchChanges(ctx context.Context, since domain.SyncCursor) ([]domain.Record, error) {
	cursor, err := DecodeCursor(since.Token)
	if err != nil {
		return nil, translate(a.Name(), "fetch_changes", err)
	}
	var out []domain.Record
	err = a.changes(ctx, cursor, func(r domain.Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// changes yields every issue after cursor, repository by repository.
// Each record's Position is the cursor including that record.
func (a *IssuesAdapter) changes(ctx context.Context, cursor *Cursor, yield batch.Yield) error {
	client, err := a.conn()
	if err != nil {
		return err
	}
	cur := cursor.Clone()

	for _, repo := range a.cfg.Repos {
		mark := cur.Get(repo)
		var pending []*gh.Issue
		err := client.ListIssues(ctx, repo, mark.UpdatedAt, func(page []*gh.Issue) error {
			for _, issue := range page {
				if issue.IsPullRequest() && !a.cfg.IncludePulls {
					continue
				}
				if mark.After(issue.GetUpdatedAt().Time, issue.GetNumber()) {
					pending = append(pending, issue)
				}
			}
			return nil
		})
		if err != nil {
			return translate(a.Name(), "fetch_changes", err)
		}

		// The API orders by updated_at only; ties need the number.
		sort.SliceStable(pending, func(i, j int) bool {
			ti, tj := pending[i].GetUpdatedAt().Time, pending[j].GetUpdatedAt().Time
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return pending[i].GetNumber() < pending[j].GetNumber()
		})

		for _, issue := range pending {
			cur.Set(repo, RepoCursor{UpdatedAt: issue.GetUpdatedAt().Time, Number: issue.GetNumber()})
			r := a.record(repo, issue)
			r.Position = cur.Encode()
			if err := yield(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// Search runs a GitHub issue search. GitHub returns best match first;
// the raw score decays with rank.
func (a *IssuesAdapter) Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error) {
	client, err := a.conn()
	if err != nil {
		return nil, err
	}
	issues, err := client.SearchIssues(ctx, a.searchQuery(query), limit)
	if err != nil {
		return nil, translate(a.Name(), "search", err)
	}

	out := make([]domain.Candidate, 0, len(issues))
	for i, issue := range issues {
		repo, ok := a.repoOf(issue)
		if !ok {
			continue
		}
		r := a.record(repo, issue)
		out = append(out, domain.Candidate{
			DocumentID:  r.ID,
			Source:      a.Name(),
			RawScore:    1 / float64(i+1),
			Snippet:     domain.Snippet(r.Content, query),
			ContentRef:  issue.GetHTMLURL(),
			ContentHash: domain.HashContent(r.Content),
		})
	}
	return out, nil
}

func (a *IssuesAdapter) searchQuery(text string) string {
	q := strings.TrimSpace(text + " " + a.repoQualifiers())
	if !a.cfg.IncludePulls {
		q += " is:issue"
	}
	return q
}

// repoOf finds the configured repository a search hit belongs to.
func (a *IssuesAdapter) repoOf(issue *gh.Issue) (Repo, bool) {
	url := issue.GetRepositoryURL()
	for _, r := range a.cfg.Repos {
		if strings.HasSuffix(url, "/repos/"+r.FullName()) {
			return r, true
		}
	}
	if len(a.cfg.Repos) == 1 {
		return a.cfg.Repos[0], true
	}
	return Repo{}, false
}

func (a *IssuesAdapter) record(repo Repo, issue *gh.Issue) domain.Record {
	table := TableIssues
	if issue.IsPullRequest() {
		table = TablePulls
	}
	labels := make([]string, len(issue.Labels))
	for i, l := range issue.Labels {
		labels[i] = l.GetName()
	}
	updated := issue.GetUpdatedAt().Time
	id := fmt.Sprintf("%s#%d", repo.FullName(), issue.GetNumber())

	return domain.Record{
		ID:      id,
		Table:   table,
		Title:   issue.GetTitle(),
		Content: strings.TrimSpace(issue.GetTitle() + "\n\n" + normalisers.Markdown(issue.GetBody())),
		Fields: map[string]any{
			"id":         id,
			"repo":       repo.FullName(),
			"number":     issue.GetNumber(),
			"title":      issue.GetTitle(),
			"body":       issue.GetBody(),
			"state":      issue.GetState(),
			"author":     issue.GetUser().GetLogin(),
			"labels":     strings.Join(labels, ","),
			"html_url":   issue.GetHTMLURL(),
			"updated_at": updated,
		},
		UpdatedAt: updated,
	}
}

func columnNames(cols []domain.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}
