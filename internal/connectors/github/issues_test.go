package github

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func connectedIssues(t *testing.T, f *fakeGitHub, src domain.SourceConfig) *IssuesAdapter {
	t.Helper()
	a, err := NewIssuesAdapter(src)
	require.NoError(t, err)
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a.(*IssuesAdapter)
}

func recordIDs(records []domain.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestIssuesAdapter_FetchChanges(t *testing.T) {
	ctx := context.Background()

	t.Run("first sync returns every issue in change order", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api",
			fakeIssue{Number: 3, Title: "third", Updated: t0.Add(2 * time.Hour)},
			fakeIssue{Number: 1, Title: "first", Updated: t0},
			fakeIssue{Number: 2, Title: "second", Updated: t0.Add(time.Hour)},
			fakeIssue{Number: 4, Title: "a pull", Updated: t0.Add(time.Hour), PR: true},
		)
		a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))

		records, err := a.FetchChanges(ctx, domain.SyncCursor{})
		require.NoError(t, err)
		assert.Equal(t, []string{"acme/api#1", "acme/api#2", "acme/api#3"}, recordIDs(records))

		r := records[0]
		assert.Equal(t, TableIssues, r.Table)
		assert.Equal(t, "first", r.Title)
		assert.Equal(t, "octocat", r.Fields["author"])
		assert.Equal(t, "bug", r.Fields["labels"])
		assert.True(t, r.UpdatedAt.Equal(t0))
	})

	t.Run("resuming from a position returns only later changes", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api",
			fakeIssue{Number: 1, Title: "one", Updated: t0},
			fakeIssue{Number: 2, Title: "two", Updated: t0.Add(time.Hour)},
		)
		a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))

		first, err := a.FetchChanges(ctx, domain.SyncCursor{})
		require.NoError(t, err)
		require.Len(t, first, 2)
		mark := domain.SyncCursor{Token: first[len(first)-1].Position}

		again, err := a.FetchChanges(ctx, mark)
		require.NoError(t, err)
		assert.Empty(t, again)

		f.addIssues("acme/api", fakeIssue{Number: 7, Title: "seven", Updated: t0.Add(3 * time.Hour)})
		next, err := a.FetchChanges(ctx, mark)
		require.NoError(t, err)
		assert.Equal(t, []string{"acme/api#7"}, recordIDs(next))
	})

	t.Run("issues sharing a timestamp are ordered by number", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api",
			fakeIssue{Number: 5, Title: "five", Updated: t0},
			fakeIssue{Number: 3, Title: "three", Updated: t0},
			fakeIssue{Number: 9, Title: "nine", Updated: t0},
		)
		a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))

		records, err := a.FetchChanges(ctx, domain.SyncCursor{})
		require.NoError(t, err)
		assert.Equal(t, []string{"acme/api#3", "acme/api#5", "acme/api#9"}, recordIDs(records))

		rest, err := a.FetchChanges(ctx, domain.SyncCursor{Token: records[0].Position})
		require.NoError(t, err)
		assert.Equal(t, []string{"acme/api#5", "acme/api#9"}, recordIDs(rest))
	})

	t.Run("tracks each repository separately", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api", fakeIssue{Number: 1, Title: "api", Updated: t0})
		f.addIssues("acme/web", fakeIssue{Number: 1, Title: "web", Updated: t0.Add(-time.Hour)})
		a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api", "acme/web"))

		records, err := a.FetchChanges(ctx, domain.SyncCursor{})
		require.NoError(t, err)
		assert.Equal(t, []string{"acme/api#1", "acme/web#1"}, recordIDs(records))

		cursor, err := DecodeCursor(records[1].Position)
		require.NoError(t, err)
		assert.Equal(t, 1, cursor.Repos["acme/api"].Number)
		assert.Equal(t, 1, cursor.Repos["acme/web"].Number)
	})

	t.Run("invalid cursor is a parse error", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api")
		a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))

		_, err := a.FetchChanges(ctx, domain.SyncCursor{Token: "%%%"})
		assert.ErrorIs(t, err, domain.ErrParse)
	})

	t.Run("unauthorised is an auth error", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api")
		a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))
		f.setFail(http.StatusUnauthorized)

		_, err := a.FetchChanges(ctx, domain.SyncCursor{})
		assert.ErrorIs(t, err, domain.ErrAuth)
		var se *domain.SourceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "issues", se.Source)
	})
}

func TestIssuesAdapter_IncludePulls(t *testing.T) {
	f := newFakeGitHub(t)
	f.addIssues("acme/api",
		fakeIssue{Number: 1, Title: "bug", Updated: t0},
		fakeIssue{Number: 2, Title: "fix", Updated: t0.Add(time.Minute), PR: true},
	)
	src := f.source("issues", domain.SourceTypeGitHub, "acme/api")
	src.Params["include_pulls"] = "true"
	a := connectedIssues(t, f, src)

	records, err := a.FetchChanges(context.Background(), domain.SyncCursor{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, TableIssues, records[0].Table)
	assert.Equal(t, TablePulls, records[1].Table)

	schema, err := a.GetSchema(context.Background())
	require.NoError(t, err)
	assert.Len(t, schema.Tables, 2)
}

func TestIssuesAdapter_Stream(t *testing.T) {
	f := newFakeGitHub(t)
	f.addIssues("acme/api",
		fakeIssue{Number: 1, Title: "one", Updated: t0},
		fakeIssue{Number: 2, Title: "two", Updated: t0.Add(time.Minute)},
		fakeIssue{Number: 3, Title: "three", Updated: t0.Add(2 * time.Minute)},
	)
	a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))

	batches, errs := a.Stream(context.Background(), "", 2)
	var sizes []int
	var last domain.Batch
	for b := range batches {
		sizes = append(sizes, len(b.Records))
		assert.Equal(t, b.Records[len(b.Records)-1].Position, b.Position)
		last = b
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []int{2, 1}, sizes)

	rest, err := a.FetchChanges(context.Background(), domain.SyncCursor{Token: last.Position})
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestIssuesAdapter_Search(t *testing.T) {
	f := newFakeGitHub(t)
	f.addIssues("acme/api",
		fakeIssue{Number: 1, Title: "Login fails", Body: "The login page crashes.", Updated: t0},
		fakeIssue{Number: 2, Title: "Dark mode", Body: "Please add it.", Updated: t0},
		fakeIssue{Number: 3, Title: "Login is slow", Body: "Takes ages.", Updated: t0},
	)
	a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))

	cands, err := a.Search(context.Background(), "login", 10)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, "login repo:acme/api is:issue", f.lastQuery())
	assert.Equal(t, "acme/api#1", cands[0].DocumentID)
	assert.Equal(t, "issues", cands[0].Source)
	assert.Greater(t, cands[0].RawScore, cands[1].RawScore)
	assert.Equal(t, "Login fails", cands[0].Snippet)
	assert.Equal(t, "https://github.com/acme/api/issues/1", cands[0].ContentRef)
	assert.NotEmpty(t, cands[0].ContentHash)

	limited, err := a.Search(context.Background(), "login", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestIssuesAdapter_Query(t *testing.T) {
	f := newFakeGitHub(t)
	f.addIssues("acme/api", fakeIssue{Number: 1, Title: "crash on start", Updated: t0})
	a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))

	res, err := a.Query(context.Background(), "crash", map[string]any{"limit": "5"})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Contains(t, res.Columns, "updated_at")

	_, err = a.Query(context.Background(), "crash", map[string]any{"limit": "many"})
	assert.ErrorIs(t, err, domain.ErrParse)
}

func TestIssuesAdapter_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown repository is a config error", func(t *testing.T) {
		f := newFakeGitHub(t)
		a, err := NewIssuesAdapter(f.source("issues", domain.SourceTypeGitHub, "acme/missing"))
		require.NoError(t, err)
		assert.ErrorIs(t, a.Connect(ctx), domain.ErrConfig)
	})

	t.Run("forbidden is an auth error", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api")
		f.setFail(http.StatusForbidden)
		a, err := NewIssuesAdapter(f.source("issues", domain.SourceTypeGitHub, "acme/api"))
		require.NoError(t, err)
		assert.ErrorIs(t, a.Connect(ctx), domain.ErrAuth)
	})

	t.Run("sends the token from the credentials reference", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api")
		t.Setenv("TEST_GH_TOKEN", "s3cret")
		src := f.source("issues", domain.SourceTypeGitHub, "acme/api")
		src.CredentialsRef = "TEST_GH_TOKEN"

		a := connectedIssues(t, f, src)
		assert.True(t, a.Capabilities().RequiresAuth)
		f.mu.Lock()
		defer f.mu.Unlock()
		assert.Equal(t, "Bearer s3cret", f.auth)
	})

	t.Run("calls before connect fail", func(t *testing.T) {
		f := newFakeGitHub(t)
		a, err := NewIssuesAdapter(f.source("issues", domain.SourceTypeGitHub, "acme/api"))
		require.NoError(t, err)
		_, err = a.FetchChanges(ctx, domain.SyncCursor{})
		assert.ErrorIs(t, err, domain.ErrConnection)
	})

	t.Run("calls after close fail", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api")
		a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))
		require.NoError(t, a.Close())
		require.NoError(t, a.Close())

		_, err := a.Search(ctx, "x", 1)
		assert.ErrorIs(t, err, domain.ErrAdapterClosed)
		assert.ErrorIs(t, a.Connect(ctx), domain.ErrAdapterClosed)
	})

	t.Run("connect is idempotent", func(t *testing.T) {
		f := newFakeGitHub(t)
		f.addIssues("acme/api")
		a := connectedIssues(t, f, f.source("issues", domain.SourceTypeGitHub, "acme/api"))
		f.setFail(http.StatusInternalServerError)
		assert.NoError(t, a.Connect(ctx))
	})
}

func TestIssuesAdapter_Schema(t *testing.T) {
	f := newFakeGitHub(t)
	a, err := NewIssuesAdapter(f.source("issues", domain.SourceTypeGitHub, "acme/api"))
	require.NoError(t, err)

	s1, err := a.GetSchema(context.Background())
	require.NoError(t, err)
	s2, err := a.GetSchema(context.Background())
	require.NoError(t, err)

	require.Len(t, s1.Tables, 1)
	assert.Equal(t, TableIssues, s1.Tables[0].Name)
	assert.Equal(t, s1.Fingerprint, s2.Fingerprint)
	assert.Equal(t, "github", a.Type())
	assert.Equal(t, "issues", a.Name())
}
