package files

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-federation/internal/connectors/batch"
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/normalisers"
)

// Ensure Adapter implements the interfaces.
var (
	_ driven.SourceAdapter = (*Adapter)(nil)
	_ driven.Watcher       = (*Adapter)(nil)
)

// TableFiles is the single table exposed by the adapter.
const TableFiles = "files"

// DefaultMaxFileSize caps the content read from one file.
const DefaultMaxFileSize = 1 << 20

// ErrInvalidCursor indicates a cursor token that cannot be decoded.
var ErrInvalidCursor = errors.New("files: invalid cursor format")

var fileColumns = []domain.Column{
	{Name: "path", Type: "TEXT"},
	{Name: "name", Type: "TEXT"},
	{Name: "size", Type: "INTEGER"},
	{Name: "mime", Type: "TEXT"},
	{Name: "modified", Type: "TIMESTAMP"},
}

// Adapter reads files under a root directory.
type Adapter struct {
	src      domain.SourceConfig
	root     string
	patterns []string
	maxSize  int64

	mu        sync.Mutex
	connected bool
	closed    bool
}

type entry struct {
	rel  string
	abs  string
	info fs.FileInfo
}

// cursor is the (modification time, path) of the last file read.
type cursor struct {
	Version  int    `json:"v"`
	Modified int64  `json:"t"`
	Path     string `json:"p"`
}

// New creates an unconnected adapter.
func New(src domain.SourceConfig) (driven.SourceAdapter, error) {
	if src.Endpoint == "" {
		return nil, fmt.Errorf("%w: source %s: endpoint must name a directory", domain.ErrConfig, src.Name)
	}
	a := &Adapter{
		src:      src,
		root:     filepath.Clean(src.Endpoint),
		patterns: src.TableFilter,
		maxSize:  DefaultMaxFileSize,
	}
	for _, p := range a.patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("%w: source %s: pattern %q: %w", domain.ErrConfig, src.Name, p, err)
		}
	}
	if v := src.Param("max_file_size", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: source %s: invalid max_file_size %q", domain.ErrConfig, src.Name, v)
		}
		a.maxSize = n
	}
	return a, nil
}

// Name returns the source name.
func (a *Adapter) Name() string { return a.src.Name }

// Type returns the source type.
func (a *Adapter) Type() string { return domain.SourceTypeFiles }

// Capabilities returns the adapter's capabilities.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{
		SupportsIncremental: true,
		SupportsWatch:       true,
	}
}

// Connect checks the root is a readable directory.
func (a *Adapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return domain.ErrAdapterClosed
	}
	if err := a.checkRoot(); err != nil {
		return err
	}
	a.connected = true
	return nil
}

func (a *Adapter) checkRoot() error {
	info, err := os.Stat(a.root)
	if err != nil {
		return domain.NewSourceError(domain.ErrConfig, a.Name(), "connect", fmt.Errorf("root path error: %w", err))
	}
	if !info.IsDir() {
		return domain.NewSourceError(domain.ErrConfig, a.Name(), "connect", fmt.Errorf("root path error: %s is not a directory", a.root))
	}
	return nil
}

// Close marks the adapter closed. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.connected = false
	return nil
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return domain.ErrAdapterClosed
	}
	if !a.connected {
		return domain.NewSourceError(domain.ErrConnection, a.Name(), "read", errors.New("not connected"))
	}
	return nil
}

// GetSchema returns the fixed file schema.
func (a *Adapter) GetSchema(_ context.Context) (*domain.SourceSchema, error) {
	return (&domain.SourceSchema{
		Source:     a.Name(),
		Tables:     []domain.TableSchema{{Name: TableFiles, Columns: fileColumns, PrimaryKey: []string{"path"}}},
		DetectedAt: time.Now(),
	}).Seal(), nil
}

// Query lists files whose relative path matches the glob in text.
func (a *Adapter) Query(ctx context.Context, text string, _ map[string]any) (*domain.QueryResult, error) {
	if _, err := path.Match(text, ""); err != nil {
		return nil, domain.NewSourceError(domain.ErrParse, a.Name(), "query", err)
	}
	entries, err := a.list(ctx, "query")
	if err != nil {
		return nil, err
	}
	res := &domain.QueryResult{Columns: []string{"path", "name", "size", "mime", "modified"}}
	for _, e := range entries {
		if text != "" {
			if ok, _ := path.Match(text, e.rel); !ok {
				continue
			}
		}
		r, err := a.record(e)
		if err != nil {
			return nil, domain.Translate(a.Name(), "query", err)
		}
		res.Records = append(res.Records, r)
	}
	return res, nil
}

// Stream reads every file, oldest change first. A non-empty text is a
// glob restricting the paths.
func (a *Adapter) Stream(ctx context.Context, text string, batchSize int) (<-chan domain.Batch, <-chan error) {
	return batch.Stream(ctx, batchSize, func(ctx context.Context, yield batch.Yield) error {
		entries, err := a.list(ctx, "stream")
		if err != nil {
			return err
		}
		for _, e := range entries {
			if text != "" {
				if ok, _ := path.Match(text, e.rel); !ok {
					continue
				}
			}
			r, err := a.record(e)
			if err != nil {
				return domain.Translate(a.Name(), "stream", err)
			}
			if err := yield(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchChanges returns files modified after the cursor in
// (modification time, path) order.
func (a *Adapter) FetchChanges(ctx context.Context, since domain.SyncCursor) ([]domain.Record, error) {
	mark, err := decodeCursor(since.Token)
	if err != nil {
		return nil, domain.NewSourceError(domain.ErrParse, a.Name(), "fetch_changes", err)
	}
	entries, err := a.list(ctx, "fetch_changes")
	if err != nil {
		return nil, err
	}

	var out []domain.Record
	for _, e := range entries {
		if !mark.before(e) {
			continue
		}
		r, err := a.record(e)
		if err != nil {
			return nil, domain.Translate(a.Name(), "fetch_changes", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Search scores text files by query term frequency in name and content.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error) {
	entries, err := a.list(ctx, "search")
	if err != nil {
		return nil, err
	}

	var out []domain.Candidate
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, domain.Translate(a.Name(), "search", err)
		}
		r, err := a.record(e)
		if err != nil {
			return nil, domain.Translate(a.Name(), "search", err)
		}
		score := domain.TermScore(r.Title+"\n"+r.Content, query)
		if score <= 0 {
			continue
		}
		out = append(out, domain.Candidate{
			DocumentID:  r.ID,
			Source:      a.Name(),
			RawScore:    score,
			Snippet:     domain.Snippet(r.Content, query),
			ContentRef:  "file://" + e.abs,
			ContentHash: domain.HashContent(r.Content),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RawScore != out[j].RawScore {
			return out[i].RawScore > out[j].RawScore
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// list walks the root and returns the matching files in change order.
func (a *Adapter) list(ctx context.Context, op string) ([]entry, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}

	var entries []entry
	err := filepath.WalkDir(a.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(a.root, p)
		if err != nil {
			return err
		}
		if rel != "." && isHidden(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !a.matches(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Removed while walking.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		entries = append(entries, entry{rel: rel, abs: p, info: info})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewSourceError(domain.ErrConnection, a.Name(), op, fmt.Errorf("root path error: %w", err))
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, domain.NewSourceError(domain.ErrAuth, a.Name(), op, err)
		}
		return nil, domain.Translate(a.Name(), op, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].info.ModTime(), entries[j].info.ModTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return entries[i].rel < entries[j].rel
	})
	return entries, nil
}

// matches applies the patterns to the relative path, or to the base name
// for patterns without a slash.
func (a *Adapter) matches(rel string) bool {
	if len(a.patterns) == 0 {
		return true
	}
	for _, p := range a.patterns {
		target := rel
		if !strings.Contains(p, "/") {
			target = path.Base(rel)
		}
		if ok, _ := path.Match(p, target); ok {
			return true
		}
	}
	return false
}

// record reads one file. Binary, oversized and non-UTF-8 files are listed
// without content. Markdown and HTML are reduced to plain text.
func (a *Adapter) record(e entry) (domain.Record, error) {
	mimeType := detectMIMEType(e.rel)
	var text string
	if isText(mimeType) && e.info.Size() <= a.maxSize {
		data, err := os.ReadFile(e.abs)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return domain.Record{}, err
		}
		if utf8.Valid(data) {
			text = string(data)
		}
	}
	title := path.Base(e.rel)
	if text != "" && normalisers.Supports(mimeType) {
		var heading string
		heading, text = normalisers.Normalise(mimeType, text)
		if heading != "" {
			title = heading
		}
	}

	modified := e.info.ModTime()
	c := cursor{Version: 1, Modified: modified.UnixNano(), Path: e.rel}
	return domain.Record{
		ID:      e.rel,
		Table:   TableFiles,
		Title:   title,
		Content: text,
		Fields: map[string]any{
			"path":     e.rel,
			"name":     path.Base(e.rel),
			"size":     e.info.Size(),
			"mime":     mimeType,
			"modified": modified,
		},
		UpdatedAt: modified,
		Position:  c.encode(),
	}, nil
}

func (c cursor) encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func decodeCursor(s string) (cursor, error) {
	if s == "" {
		return cursor{}, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, ErrInvalidCursor
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return cursor{}, ErrInvalidCursor
	}
	return c, nil
}

// before reports whether e sorts after the mark.
func (c cursor) before(e entry) bool {
	if c.Version == 0 && c.Path == "" {
		return true
	}
	mod := e.info.ModTime().UnixNano()
	if mod != c.Modified {
		return mod > c.Modified
	}
	return e.rel > c.Path
}
