package index

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/custodia-labs/sercha-federation/internal/connectors/batch"
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure Adapter implements the interface.
var _ driven.SourceAdapter = (*Adapter)(nil)

// TableDocuments is the single table exposed by the adapter.
const TableDocuments = "documents"

// DefaultLimit caps Query results when no "limit" param is given.
const DefaultLimit = 100

// ErrInvalidCursor indicates a cursor token that cannot be decoded.
var ErrInvalidCursor = errors.New("index: invalid cursor format")

var documentColumns = []domain.Column{
	{Name: FieldSource, Type: "TEXT"},
	{Name: FieldRecordID, Type: "TEXT"},
	{Name: FieldTable, Type: "TEXT"},
	{Name: FieldTitle, Type: "TEXT"},
	{Name: FieldContent, Type: "TEXT"},
	{Name: FieldUpdatedAt, Type: "TIMESTAMP"},
	{Name: FieldContentHash, Type: "TEXT"},
}

var changeOrder = []string{FieldUpdatedAt, "_id"}

// Adapter searches a bleve index as a source. Documents written under
// the adapter's own source name are never returned, so the central index
// can be declared as a source without feeding back into itself.
// TableFilter, when set, restricts results to the named origin sources.
type Adapter struct {
	src    domain.SourceConfig
	shared *Store

	mu     sync.Mutex
	store  *Store
	owned  bool
	closed bool
}

// cursor holds the sort key of the last document read.
type cursor struct {
	Version int      `json:"v"`
	After   [][]byte `json:"s"`
}

// NewAdapter creates an unconnected adapter. When shared is non-nil and
// the source endpoint is empty or names the shared store's path, the
// adapter reads the shared store instead of opening its own.
func NewAdapter(src domain.SourceConfig, shared *Store) (driven.SourceAdapter, error) {
	if src.Endpoint == "" && shared == nil {
		return nil, fmt.Errorf("%w: source %s: endpoint must name an index directory", domain.ErrConfig, src.Name)
	}
	return &Adapter{src: src, shared: shared}, nil
}

// Name returns the source name.
func (a *Adapter) Name() string { return a.src.Name }

// Type returns the source type.
func (a *Adapter) Type() string { return domain.SourceTypeIndex }

// Capabilities returns the adapter's capabilities.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{SupportsIncremental: true}
}

func (a *Adapter) usesShared() bool {
	if a.shared == nil {
		return false
	}
	if a.src.Endpoint == "" {
		return true
	}
	return a.shared.Path() != "" && filepath.Clean(a.shared.Path()) == filepath.Clean(a.src.Endpoint)
}

// Connect opens the index.
func (a *Adapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return domain.ErrAdapterClosed
	}
	if a.store != nil {
		return nil
	}
	if a.usesShared() {
		a.store = a.shared
		return nil
	}
	s, err := Open(a.src.Endpoint)
	if err != nil {
		return domain.NewSourceError(domain.ErrConfig, a.Name(), "connect", err)
	}
	a.store, a.owned = s, true
	return nil
}

// Close releases an index the adapter opened itself. Safe to call more
// than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	s, owned := a.store, a.owned
	a.store = nil
	if s == nil || !owned {
		return nil
	}
	return s.Close()
}

func (a *Adapter) handle() (*Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, domain.ErrAdapterClosed
	}
	if a.store == nil {
		return nil, domain.NewSourceError(domain.ErrConnection, a.Name(), "read", errors.New("not connected"))
	}
	return a.store, nil
}

// GetSchema returns the fixed document schema.
func (a *Adapter) GetSchema(_ context.Context) (*domain.SourceSchema, error) {
	if _, err := a.handle(); err != nil {
		return nil, err
	}
	return (&domain.SourceSchema{
		Source:     a.Name(),
		Tables:     []domain.TableSchema{{Name: TableDocuments, Columns: documentColumns, PrimaryKey: []string{FieldSource, FieldRecordID}}},
		DetectedAt: time.Now(),
	}).Seal(), nil
}

// Query runs a bleve query-string query. The "limit" param caps the
// result.
func (a *Adapter) Query(ctx context.Context, text string, params map[string]any) (*domain.QueryResult, error) {
	limit := DefaultLimit
	if v, ok := params["limit"]; ok {
		n, err := toInt(v)
		if err != nil || n <= 0 {
			return nil, domain.NewSourceError(domain.ErrParse, a.Name(), "query", fmt.Errorf("invalid limit %v", v))
		}
		limit = n
	}
	var q query.Query = bleve.NewMatchAllQuery()
	if strings.TrimSpace(text) != "" {
		parsed, err := bleve.NewQueryStringQuery(text).Parse()
		if err != nil {
			return nil, domain.NewSourceError(domain.ErrParse, a.Name(), "query", err)
		}
		q = parsed
	}
	req := bleve.NewSearchRequestOptions(a.scope(q), limit, 0, false)
	req.Fields = []string{"*"}
	hits, err := a.run(ctx, "query", req)
	if err != nil {
		return nil, err
	}
	res := &domain.QueryResult{}
	for _, c := range documentColumns {
		res.Columns = append(res.Columns, c.Name)
	}
	for _, h := range hits {
		res.Records = append(res.Records, toRecord(h, ""))
	}
	return res, nil
}

// Stream reads every document in change order, or the documents matching
// a non-empty query string.
func (a *Adapter) Stream(ctx context.Context, text string, batchSize int) (<-chan domain.Batch, <-chan error) {
	return batch.Stream(ctx, batchSize, func(ctx context.Context, yield batch.Yield) error {
		if text == "" {
			return a.changes(ctx, "stream", cursor{}, batchSize, yield)
		}
		res, err := a.Query(ctx, text, nil)
		if err != nil {
			return err
		}
		for _, r := range res.Records {
			if err := yield(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchChanges returns documents after the cursor in (updated_at, id) order.
func (a *Adapter) FetchChanges(ctx context.Context, since domain.SyncCursor) ([]domain.Record, error) {
	mark, err := decodeCursor(since.Token)
	if err != nil {
		return nil, domain.NewSourceError(domain.ErrParse, a.Name(), "fetch_changes", err)
	}
	var out []domain.Record
	err = a.changes(ctx, "fetch_changes", mark, a.src.BatchSize, func(r domain.Record) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Search runs a BM25 match query over title and content.
func (a *Adapter) Search(ctx context.Context, text string, limit int) ([]domain.Candidate, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if strings.TrimSpace(text) == "" {
		if _, err := a.handle(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	content := bleve.NewMatchQuery(text)
	content.SetField(FieldContent)
	title := bleve.NewMatchQuery(text)
	title.SetField(FieldTitle)
	title.SetBoost(2)

	req := bleve.NewSearchRequestOptions(a.scope(bleve.NewDisjunctionQuery(content, title)), limit, 0, false)
	req.Fields = []string{"*"}
	hits, err := a.run(ctx, "search", req)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(hits))
	for _, h := range hits {
		r := toRecord(h, "")
		hash := fieldString(h, FieldContentHash)
		if hash == "" {
			hash = domain.HashContent(r.Content)
		}
		out = append(out, domain.Candidate{
			DocumentID:  h.ID,
			Source:      a.Name(),
			RawScore:    h.Score,
			Snippet:     domain.Snippet(r.Content, text),
			ContentRef:  h.ID,
			ContentHash: hash,
		})
	}
	return out, nil
}

// changes pages through documents sorted by (updated_at, _id).
func (a *Adapter) changes(ctx context.Context, op string, mark cursor, pageSize int, yield batch.Yield) error {
	if pageSize <= 0 {
		pageSize = domain.DefaultBatchSize
	}
	for {
		req := bleve.NewSearchRequestOptions(a.scope(bleve.NewMatchAllQuery()), pageSize, 0, false)
		req.Fields = []string{"*"}
		req.SortBy(changeOrder)
		if len(mark.After) > 0 {
			req.SearchAfter = mark.strings()
		}
		hits, err := a.run(ctx, op, req)
		if err != nil {
			return err
		}
		for _, h := range hits {
			mark = cursor{Version: 1, After: toBytes(h.Sort)}
			if err := yield(toRecord(h, mark.encode())); err != nil {
				return err
			}
		}
		if len(hits) < pageSize {
			return nil
		}
	}
}

// scope excludes the adapter's own documents and applies TableFilter.
func (a *Adapter) scope(q query.Query) query.Query {
	scoped := bleve.NewBooleanQuery()
	scoped.AddMust(q)
	scoped.AddMustNot(termQuery(FieldSource, a.Name()))
	if len(a.src.TableFilter) > 0 {
		var origins []query.Query
		for _, s := range a.src.TableFilter {
			origins = append(origins, termQuery(FieldSource, s))
		}
		scoped.AddMust(bleve.NewDisjunctionQuery(origins...))
	}
	return scoped
}

func (a *Adapter) run(ctx context.Context, op string, req *bleve.SearchRequest) (search.DocumentMatchCollection, error) {
	s, err := a.handle()
	if err != nil {
		return nil, err
	}
	res, err := s.search(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.Translate(a.Name(), op, ctxErr)
		}
		if errors.Is(err, ErrStoreClosed) {
			return nil, domain.NewSourceError(domain.ErrConnection, a.Name(), op, err)
		}
		return nil, domain.Translate(a.Name(), op, err)
	}
	return res.Hits, nil
}

// toRecord converts a hit to a record keyed by the index document ID.
func toRecord(h *search.DocumentMatch, position string) domain.Record {
	updated := fieldTime(h, FieldUpdatedAt)
	r := domain.Record{
		ID:        h.ID,
		Table:     TableDocuments,
		Title:     fieldString(h, FieldTitle),
		Content:   fieldString(h, FieldContent),
		UpdatedAt: updated,
		Position:  position,
		Fields:    make(map[string]any, len(documentColumns)),
	}
	for _, c := range documentColumns {
		if c.Name == FieldUpdatedAt {
			r.Fields[c.Name] = updated
			continue
		}
		r.Fields[c.Name] = fieldString(h, c.Name)
	}
	return r
}

func fieldString(h *search.DocumentMatch, name string) string {
	if s, ok := h.Fields[name].(string); ok {
		return s
	}
	return ""
}

func fieldTime(h *search.DocumentMatch, name string) time.Time {
	switch v := h.Fields[name].(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (c cursor) strings() []string {
	out := make([]string, len(c.After))
	for i, b := range c.After {
		out[i] = string(b)
	}
	return out
}

func toBytes(sort []string) [][]byte {
	out := make([][]byte, len(sort))
	for i, s := range sort {
		out[i] = []byte(s)
	}
	return out
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
	if len(c.After) != 0 && len(c.After) != len(changeOrder) {
		return cursor{}, ErrInvalidCursor
	}
	return c, nil
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
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
