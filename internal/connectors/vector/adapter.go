package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/sercha-federation/internal/connectors/batch"
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// Ensure Adapter implements the interface.
var _ driven.SourceAdapter = (*Adapter)(nil)

// Defaults.
const (
	DefaultTable = "embeddings"
	DefaultK     = 10

	titleRunes = 80
)

var requiredColumns = []string{"id", "content", "embedding", "updated_at"}

var resultColumns = []string{"id", "content", "updated_at", "score"}

// Adapter serves nearest-neighbour search over an embedding table.
type Adapter struct {
	src      domain.SourceConfig
	table    string
	embedder driven.Embedder

	mu     sync.Mutex
	db     *sql.DB
	closed bool
	schema *domain.SourceSchema

	// loadMu serialises graph refreshes; mark is the last row loaded.
	loadMu sync.Mutex
	mark   cursor
	graph  *graph
}

// New creates an unconnected adapter that embeds queries with embedder.
func New(src domain.SourceConfig, embedder driven.Embedder) (driven.SourceAdapter, error) {
	if src.Endpoint == "" {
		return nil, fmt.Errorf("%w: source %s: endpoint must name a database file", domain.ErrConfig, src.Name)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: source %s: no embedder", domain.ErrConfig, src.Name)
	}
	return &Adapter{
		src:      src,
		table:    src.Param("table", DefaultTable),
		embedder: embedder,
	}, nil
}

// Name returns the source name.
func (a *Adapter) Name() string { return a.src.Name }

// Type returns the source type.
func (a *Adapter) Type() string { return domain.SourceTypeVector }

// Capabilities returns the adapter's capabilities.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{SupportsIncremental: true}
}

// Connect opens the database, checks the table and builds the graph.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return domain.ErrAdapterClosed
	}
	if a.db != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if _, err := os.Stat(a.src.Endpoint); err != nil {
		return domain.NewSourceError(domain.ErrConfig, a.Name(), "connect", err)
	}
	db, err := sql.Open("sqlite", a.src.Endpoint)
	if err != nil {
		return domain.NewSourceError(domain.ErrConfig, a.Name(), "connect", err)
	}
	db.SetMaxOpenConns(2)

	schema, err := a.describe(ctx, db)
	if err != nil {
		db.Close()
		return err
	}

	a.loadMu.Lock()
	a.graph = newGraph(a.embedder.Dimensions())
	a.mark = cursor{}
	err = a.refresh(ctx, db)
	a.loadMu.Unlock()
	if err != nil {
		db.Close()
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		db.Close()
		return domain.ErrAdapterClosed
	}
	if a.db != nil {
		// Lost a race with a concurrent Connect.
		db.Close()
		return nil
	}
	a.db = db
	a.schema = schema
	logger.Debug("vector %s: loaded %d vectors", a.Name(), a.graph.size())
	return nil
}

// describe checks the store table has the required columns.
func (a *Adapter) describe(ctx context.Context, db *sql.DB) (*domain.SourceSchema, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(a.table)))
	if err != nil {
		return nil, a.fail(ctx, "connect", err)
	}
	defer rows.Close()

	ts := domain.TableSchema{Name: a.table}
	have := map[string]bool{}
	for rows.Next() {
		var (
			cid      int
			col, typ string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, a.fail(ctx, "connect", err)
		}
		ts.Columns = append(ts.Columns, domain.Column{Name: col, Type: typ})
		if pk > 0 {
			ts.PrimaryKey = append(ts.PrimaryKey, col)
		}
		have[strings.ToLower(col)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, a.fail(ctx, "connect", err)
	}
	if len(ts.Columns) == 0 {
		return nil, domain.NewSourceError(domain.ErrConfig, a.Name(), "connect",
			fmt.Errorf("table %s not found", a.table))
	}
	var missing []string
	for _, c := range requiredColumns {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewSourceError(domain.ErrConfig, a.Name(), "connect",
			fmt.Errorf("table %s lacks columns: %s", a.table, strings.Join(missing, ", ")))
	}
	return (&domain.SourceSchema{Source: a.Name(), Tables: []domain.TableSchema{ts}}).Seal(), nil
}

// Close releases the database. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *Adapter) handle() (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, domain.ErrAdapterClosed
	}
	if a.db == nil {
		return nil, domain.NewSourceError(domain.ErrConnection, a.Name(), "read", errors.New("not connected"))
	}
	return a.db, nil
}

// GetSchema returns the table schema read on Connect.
func (a *Adapter) GetSchema(_ context.Context) (*domain.SourceSchema, error) {
	if _, err := a.handle(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s := *a.schema
	s.DetectedAt = time.Now()
	return &s, nil
}

// Query returns the rows nearest to text. The "k" param caps the result.
func (a *Adapter) Query(ctx context.Context, text string, params map[string]any) (*domain.QueryResult, error) {
	k := DefaultK
	if v, ok := params["k"]; ok {
		n, err := toInt(v)
		if err != nil || n <= 0 {
			return nil, domain.NewSourceError(domain.ErrParse, a.Name(), "query", fmt.Errorf("invalid k %v", v))
		}
		k = n
	}
	records, err := a.nearest(ctx, "query", text, k)
	if err != nil {
		return nil, err
	}
	return &domain.QueryResult{Columns: resultColumns, Records: records}, nil
}

// Stream reads every row in change order, or the nearest rows to a
// non-empty text.
func (a *Adapter) Stream(ctx context.Context, text string, batchSize int) (<-chan domain.Batch, <-chan error) {
	return batch.Stream(ctx, batchSize, func(ctx context.Context, yield batch.Yield) error {
		if text == "" {
			return a.changes(ctx, "stream", cursor{}, batchSize, yield)
		}
		records, err := a.nearest(ctx, "stream", text, DefaultK)
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := yield(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchChanges returns rows updated after the cursor.
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

// Search returns candidates ranked by cosine similarity to query.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error) {
	if limit <= 0 {
		limit = DefaultK
	}
	records, err := a.nearest(ctx, "search", query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Candidate, 0, len(records))
	for _, r := range records {
		snippet := domain.Snippet(r.Content, query)
		if snippet == "" {
			snippet = r.Title
		}
		out = append(out, domain.Candidate{
			DocumentID:  r.ID,
			Source:      a.Name(),
			RawScore:    r.Fields["score"].(float64),
			Snippet:     snippet,
			ContentRef:  a.Name() + "/" + r.ID,
			ContentHash: domain.HashContent(r.Content),
		})
	}
	return out, nil
}

// nearest refreshes the graph, then reads the k nearest rows.
func (a *Adapter) nearest(ctx context.Context, op, text string, k int) ([]domain.Record, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}
	a.loadMu.Lock()
	err = a.refresh(ctx, db)
	g := a.graph
	a.loadMu.Unlock()
	if err != nil {
		return nil, err
	}

	q, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, domain.Translate(a.Name(), op, err)
	}
	hits := g.search(q, k)
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]any, len(hits))
	marks := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
		marks[i] = "?"
	}
	query := fmt.Sprintf("SELECT id, content, embedding, updated_at FROM %s WHERE id IN (%s)",
		quote(a.table), strings.Join(marks, ", "))
	rows, err := db.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, a.fail(ctx, op, err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Record, len(hits))
	for rows.Next() {
		r, _, err := a.scan(rows)
		if err != nil {
			return nil, a.fail(ctx, op, err)
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, a.fail(ctx, op, err)
	}

	out := make([]domain.Record, 0, len(hits))
	for _, h := range hits {
		r, ok := byID[h.id]
		if !ok {
			// Deleted since the graph was loaded.
			continue
		}
		r.Fields["score"] = h.similarity
		out = append(out, r)
	}
	return out, nil
}

// refresh loads rows changed since the last refresh into the graph.
// The caller holds loadMu.
func (a *Adapter) refresh(ctx context.Context, db *sql.DB) error {
	var skipped int
	err := a.pages(ctx, db, "refresh", a.mark, domain.DefaultBatchSize, func(r domain.Record, vec []float32) error {
		if vec == nil {
			v, err := a.embedder.Embed(ctx, r.Content)
			if err != nil {
				return domain.Translate(a.Name(), "refresh", err)
			}
			vec = v
		}
		if !a.graph.put(r.ID, vec) {
			skipped++
		}
		a.mark = cursor{Version: 1, Updated: r.UpdatedAt.UnixMilli(), ID: r.ID}
		return nil
	})
	if skipped > 0 {
		logger.Warn("vector %s: %d rows not indexed (dimension mismatch or empty vector)", a.Name(), skipped)
	}
	return err
}

// changes yields rows after mark in (updated_at, id) order.
func (a *Adapter) changes(ctx context.Context, op string, mark cursor, pageSize int, yield batch.Yield) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	return a.pages(ctx, db, op, mark, pageSize, func(r domain.Record, _ []float32) error {
		return yield(r)
	})
}

// pages reads rows after mark a page at a time. Each page is read fully
// before fn sees it so no result set is held open across callbacks.
func (a *Adapter) pages(ctx context.Context, db *sql.DB, op string, mark cursor, pageSize int,
	fn func(domain.Record, []float32) error) error {
	if pageSize <= 0 {
		pageSize = domain.DefaultBatchSize
	}
	query := fmt.Sprintf(`SELECT id, content, embedding, updated_at FROM %s
		WHERE updated_at IS NOT NULL AND (updated_at > ? OR (updated_at = ? AND id > ?))
		ORDER BY updated_at, id LIMIT ?`, quote(a.table))

	type row struct {
		rec domain.Record
		vec []float32
	}
	for {
		updated := int64(-1 << 63)
		id := ""
		if !mark.zero() {
			updated, id = mark.Updated, mark.ID
		}
		rows, err := db.QueryContext(ctx, query, updated, updated, id, pageSize)
		if err != nil {
			return a.fail(ctx, op, err)
		}
		var page []row
		for rows.Next() {
			r, vec, err := a.scan(rows)
			if err != nil {
				rows.Close()
				return a.fail(ctx, op, err)
			}
			page = append(page, row{r, vec})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return a.fail(ctx, op, err)
		}

		for _, p := range page {
			if err := fn(p.rec, p.vec); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		last := page[len(page)-1].rec
		mark = cursor{Version: 1, Updated: last.UpdatedAt.UnixMilli(), ID: last.ID}
	}
}

// scan reads one row. The vector is nil when the embedding is NULL or
// unreadable.
func (a *Adapter) scan(rows *sql.Rows) (domain.Record, []float32, error) {
	var (
		id      string
		content sql.NullString
		blob    []byte
		updated int64
	)
	if err := rows.Scan(&id, &content, &blob, &updated); err != nil {
		return domain.Record{}, nil, err
	}
	var vec []float32
	if len(blob) > 0 {
		v, err := DecodeVector(blob)
		if err != nil {
			logger.Warn("vector %s: row %s: %v", a.Name(), id, err)
		} else {
			vec = v
		}
	}
	ts := time.UnixMilli(updated).UTC()
	pos := cursor{Version: 1, Updated: updated, ID: id}
	return domain.Record{
		ID:      id,
		Table:   a.table,
		Title:   title(content.String),
		Content: content.String,
		Fields: map[string]any{
			"id":         id,
			"content":    content.String,
			"updated_at": ts,
		},
		UpdatedAt: ts,
		Position:  pos.encode(),
	}, vec, nil
}

func (a *Adapter) fail(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Translate(a.Name(), op, ctxErr)
	}
	return domain.Translate(a.Name(), op, err)
}

// title is the first line of content, cut to titleRunes.
func title(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	if utf8.RuneCountInString(line) <= titleRunes {
		return line
	}
	return string([]rune(line)[:titleRunes])
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
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
