package github

import (
	"crypto/sha1" //nolint:gosec // fake blob ids
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// fakePageSize is the page size the fake serves, whatever per_page asks.
const fakePageSize = 2

type fakeIssue struct {
	Number  int
	Title   string
	Body    string
	Updated time.Time
	PR      bool
}

type fakeRepo struct {
	hasWiki bool
	issues  []fakeIssue
	pages   map[string]string // wiki path -> markdown
}

// fakeGitHub serves the subset of the REST API the adapters use.
type fakeGitHub struct {
	srv *httptest.Server

	mu        sync.Mutex
	repos     map[string]*fakeRepo
	fail      int // when non-zero every request fails with this status
	auth      string
	queries   []string
	blobReads int
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{repos: make(map[string]*fakeRepo)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}", f.handleRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}/issues", f.handleIssues)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/trees/{ref}", f.handleTree)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/blobs/{sha}", f.handleBlob)
	mux.HandleFunc("GET /search/issues", f.handleSearch)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		fail := f.fail
		f.mu.Unlock()
		if fail != 0 {
			writeJSON(w, fail, map[string]string{"message": http.StatusText(fail)})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitHub) repo(fullName string) *fakeRepo {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[fullName]
	if !ok {
		r = &fakeRepo{hasWiki: true, pages: make(map[string]string)}
		f.repos[fullName] = r
	}
	return r
}

func (f *fakeGitHub) addIssues(fullName string, issues ...fakeIssue) {
	r := f.repo(fullName)
	f.mu.Lock()
	defer f.mu.Unlock()
	r.issues = append(r.issues, issues...)
}

func (f *fakeGitHub) setPage(fullName, path, content string) {
	r := f.repo(fullName)
	f.mu.Lock()
	defer f.mu.Unlock()
	r.pages[path] = content
}

func (f *fakeGitHub) setFail(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = status
}

func (f *fakeGitHub) lookup(r *http.Request) (*fakeRepo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := strings.TrimSuffix(r.PathValue("repo"), ".wiki")
	repo, ok := f.repos[r.PathValue("owner")+"/"+name]
	return repo, ok
}

func (f *fakeGitHub) handleRepo(w http.ResponseWriter, r *http.Request) {
	repo, ok := f.lookup(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      r.PathValue("repo"),
		"full_name": r.PathValue("owner") + "/" + r.PathValue("repo"),
		"has_wiki":  repo.hasWiki,
	})
}

func (f *fakeGitHub) handleIssues(w http.ResponseWriter, r *http.Request) {
	repo, ok := f.lookup(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		since, _ = time.Parse(time.RFC3339, s)
	}

	f.mu.Lock()
	var matched []fakeIssue
	for _, is := range repo.issues {
		if !is.Updated.Before(since) {
			matched = append(matched, is)
		}
	}
	f.mu.Unlock()
	// Newer numbers first within the same timestamp, as the API does not
	// promise an order there.
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Updated.Equal(matched[j].Updated) {
			return matched[i].Updated.Before(matched[j].Updated)
		}
		return matched[i].Number > matched[j].Number
	})

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	start := (page - 1) * fakePageSize
	end := min(start+fakePageSize, len(matched))
	if start > len(matched) {
		start = end
	}
	if end < len(matched) {
		next := *r.URL
		q := next.Query()
		q.Set("page", strconv.Itoa(page+1))
		next.RawQuery = q.Encode()
		w.Header().Set("Link", fmt.Sprintf(`<%s%s>; rel="next"`, f.srv.URL, next.RequestURI()))
	}

	owner, name := r.PathValue("owner"), r.PathValue("repo")
	out := make([]map[string]any, 0, end-start)
	for _, is := range matched[start:end] {
		out = append(out, f.issueJSON(owner+"/"+name, is))
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeGitHub) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	var terms, repos []string
	issuesOnly := false
	for _, word := range strings.Fields(q) {
		switch {
		case strings.HasPrefix(word, "repo:"):
			repos = append(repos, strings.TrimPrefix(word, "repo:"))
		case word == "is:issue":
			issuesOnly = true
		default:
			terms = append(terms, strings.ToLower(word))
		}
	}

	items := []map[string]any{}
	for _, full := range repos {
		f.mu.Lock()
		repo, ok := f.repos[full]
		var issues []fakeIssue
		if ok {
			issues = append(issues, repo.issues...)
		}
		f.mu.Unlock()
		for _, is := range issues {
			if issuesOnly && is.PR {
				continue
			}
			text := strings.ToLower(is.Title + " " + is.Body)
			match := true
			for _, term := range terms {
				if !strings.Contains(text, term) {
					match = false
				}
			}
			if match {
				items = append(items, f.issueJSON(full, is))
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_count": len(items), "items": items})
}

func (f *fakeGitHub) issueJSON(fullName string, is fakeIssue) map[string]any {
	out := map[string]any{
		"number":         is.Number,
		"title":          is.Title,
		"body":           is.Body,
		"state":          "open",
		"updated_at":     is.Updated.UTC().Format(time.RFC3339),
		"html_url":       fmt.Sprintf("https://github.com/%s/issues/%d", fullName, is.Number),
		"repository_url": f.srv.URL + "/repos/" + fullName,
		"user":           map[string]string{"login": "octocat"},
		"labels":         []map[string]string{{"name": "bug"}},
	}
	if is.PR {
		out["pull_request"] = map[string]string{"url": "pr"}
	}
	return out
}

func blobSHA(path, content string) string {
	sum := sha1.Sum([]byte(path + "\x00" + content)) //nolint:gosec // fake blob ids
	return hex.EncodeToString(sum[:])
}

func (f *fakeGitHub) handleTree(w http.ResponseWriter, r *http.Request) {
	repo, ok := f.lookup(r)
	if !ok || !strings.HasSuffix(r.PathValue("repo"), ".wiki") {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(repo.pages) == 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Git Repository is empty."})
		return
	}

	paths := make([]string, 0, len(repo.pages))
	for p := range repo.pages {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	entries := []map[string]string{{"path": "images", "type": "tree", "sha": "dir"}}
	var all strings.Builder
	for _, p := range paths {
		sha := blobSHA(p, repo.pages[p])
		all.WriteString(sha)
		entries = append(entries, map[string]string{"path": p, "type": "blob", "sha": sha})
	}
	entries = append(entries, map[string]string{"path": "images/logo.png", "type": "blob", "sha": "png"})
	writeJSON(w, http.StatusOK, map[string]any{"sha": blobSHA("tree", all.String()), "tree": entries})
}

func (f *fakeGitHub) handleBlob(w http.ResponseWriter, r *http.Request) {
	repo, ok := f.lookup(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobReads++
	for p, content := range repo.pages {
		if blobSHA(p, content) == r.PathValue("sha") {
			encoded := base64.StdEncoding.EncodeToString([]byte(content))
			writeJSON(w, http.StatusOK, map[string]string{"sha": r.PathValue("sha"), "content": encoded, "encoding": "base64"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func (f *fakeGitHub) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

func (f *fakeGitHub) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blobReads
}

// source declares a source against the fake with the throttle opened up.
func (f *fakeGitHub) source(name, sourceType string, repos ...string) domain.SourceConfig {
	src := domain.NewSourceConfig(name, sourceType)
	src.Endpoint = f.srv.URL
	src.TableFilter = repos
	src.Params = map[string]string{"requests_per_second": "1000"}
	return src
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
