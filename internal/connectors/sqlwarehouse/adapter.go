package sqlwarehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/sercha-federation/internal/connectors/batch"
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure Adapter implements the interface.
var _ driven.SourceAdapter = (*Adapter)(nil)

// Adapter reads a SQL database.
type Adapter struct {
	src domain.SourceConfig
	cfg *Config

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// New creates an unconnected adapter.
func New(src domain.SourceConfig) (driven.SourceAdapter, error) {
	cfg, err := ParseConfig(src, os.Getenv)
	if err != nil {
		return nil, err
	}
	return &Adapter{src: src, cfg: cfg}, nil
}

// Name returns the source name.
func (a *Adapter) Name() string { return a.src.Name }

// Type returns the source type.
func (a *Adapter) Type() string { return domain.SourceTypeSQL }

// Capabilities returns the adapter's capabilities.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{
		SupportsIncremental: true,
		RequiresAuth:        a.src.CredentialsRef != "",
	}
}

// Connect opens the pool and checks the filtered tables exist.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return domain.ErrAdapterClosed
	}
	if a.db != nil {
		return nil
	}
	if err := a.cfg.checkDatabaseFile(); err != nil {
		return domain.NewSourceError(domain.ErrConfig, a.Name(), "connect", err)
	}

	db, err := sql.Open(a.cfg.Driver, a.cfg.DSN)
	if err != nil {
		return domain.NewSourceError(domain.ErrConfig, a.Name(), "connect", err)
	}
	db.SetMaxOpenConns(a.cfg.MaxConns)
	db.SetMaxIdleConns(a.cfg.MaxConns)

	conn, err := a.acquireFrom(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	defer conn.Close()

	if err := conn.PingContext(ctx); err != nil {
		db.Close()
		return a.fail(ctx, "connect", err)
	}
	tables, err := introspect(ctx, conn, a.cfg)
	if err != nil {
		db.Close()
		return a.fail(ctx, "connect", err)
	}
	if missing := missingTables(a.cfg.Tables, tables); len(missing) > 0 {
		db.Close()
		return domain.NewSourceError(domain.ErrConfig, a.Name(), "connect",
			fmt.Errorf("tables not found: %s", strings.Join(missing, ", ")))
	}

	a.db = db
	return nil
}

// Close releases the pool. Safe to call more than once.
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

// acquire takes a connection from the pool, waiting at most PoolTimeout.
func (a *Adapter) acquire(ctx context.Context) (*sql.Conn, error) {
	a.mu.Lock()
	db, closed := a.db, a.closed
	a.mu.Unlock()
	if closed {
		return nil, domain.ErrAdapterClosed
	}
	if db == nil {
		return nil, domain.NewSourceError(domain.ErrConnection, a.Name(), "acquire", errors.New("not connected"))
	}
	return a.acquireFrom(ctx, db)
}

func (a *Adapter) acquireFrom(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, a.cfg.PoolTimeout)
	defer cancel()
	conn, err := db.Conn(actx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() == nil && actx.Err() != nil {
		return nil, domain.NewSourceError(domain.ErrConnection, a.Name(), "acquire",
			fmt.Errorf("connection pool exhausted after %s", a.cfg.PoolTimeout))
	}
	return nil, a.fail(ctx, "acquire", err)
}

// GetSchema introspects the filtered tables.
func (a *Adapter) GetSchema(ctx context.Context) (*domain.SourceSchema, error) {
	conn, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tables, err := introspect(ctx, conn, a.cfg)
	if err != nil {
		return nil, a.fail(ctx, "get_schema", err)
	}
	s := schema(a.Name(), tables)
	s.DetectedAt = time.Now()
	return s, nil
}

// Query runs a SQL statement. params are bound as named arguments.
// Records take their ID from an "id" column when present, else the row number.
func (a *Adapter) Query(ctx context.Context, text string, params map[string]any) (*domain.QueryResult, error) {
	conn, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res := &domain.QueryResult{}
	err = a.rawQuery(ctx, conn, text, params, func(cols []string, r domain.Record) error {
		res.Columns = cols
		res.Records = append(res.Records, r)
		return nil
	})
	if err != nil {
		return nil, a.fail(ctx, "query", err)
	}
	return res, nil
}

func (a *Adapter) rawQuery(ctx context.Context, conn *sql.Conn, text string, params map[string]any,
	fn func([]string, domain.Record) error) error {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	args := make([]any, len(names))
	for i, k := range names {
		args[i] = sql.Named(k, params[k])
	}

	rows, err := conn.QueryContext(ctx, text, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	n := 0
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		n++
		fields := make(map[string]any, len(cols))
		for i, c := range cols {
			fields[c] = normalise(vals[i])
		}
		id := strconv.Itoa(n)
		if v, ok := fields["id"]; ok && v != nil {
			id = fmt.Sprint(v)
		}
		r := domain.Record{ID: id, Fields: fields, Content: content(cols, fields)}
		r.Title = title(fields, id)
		if err := fn(cols, r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Stream reads every table in change order when text is empty, else the
// rows of the SQL statement in text.
func (a *Adapter) Stream(ctx context.Context, text string, batchSize int) (<-chan domain.Batch, <-chan error) {
	return batch.Stream(ctx, batchSize, func(ctx context.Context, yield batch.Yield) error {
		conn, err := a.acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		if text == "" {
			return a.changes(ctx, conn, NewCursor(), yield)
		}
		err = a.rawQuery(ctx, conn, text, nil, func(_ []string, r domain.Record) error {
			return yield(r)
		})
		if err != nil {
			return a.fail(ctx, "stream", err)
		}
		return nil
	})
}

// FetchChanges returns rows past the cursor, table by table in name order,
// each in (change column, key) order.
func (a *Adapter) FetchChanges(ctx context.Context, since domain.SyncCursor) ([]domain.Record, error) {
	cursor, err := DecodeCursor(since.Token)
	if err != nil {
		return nil, domain.NewSourceError(domain.ErrParse, a.Name(), "fetch_changes", err)
	}
	conn, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var out []domain.Record
	err = a.changes(ctx, conn, cursor, func(r domain.Record) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// changes pages through every table after the cursor. Each page is read in
// full before its records are yielded, so no statement stays open while
// the consumer is slow.
func (a *Adapter) changes(ctx context.Context, conn *sql.Conn, cursor *Cursor, yield batch.Yield) error {
	tables, err := introspect(ctx, conn, a.cfg)
	if err != nil {
		return a.fail(ctx, "fetch_changes", err)
	}
	cur := cursor.Clone()

	for _, t := range tables {
		for {
			var mark *Mark
			if m, ok := cur.Tables[t.name]; ok {
				mark = &m
			}
			page, marks, err := a.readPage(ctx, conn, t, mark)
			if err != nil {
				return a.fail(ctx, "fetch_changes", err)
			}
			for i := range page {
				cur.Tables[t.name] = marks[i]
				page[i].Position = cur.Encode()
				if err := yield(page[i]); err != nil {
					return err
				}
			}
			if len(page) < a.cfg.PageSize {
				break
			}
		}
	}
	return nil
}

// readPage reads one keyset page and the mark after each row.
func (a *Adapter) readPage(ctx context.Context, conn *sql.Conn, t *table, mark *Mark) ([]domain.Record, []Mark, error) {
	query, args := t.keysetSQL(mark, a.cfg.PageSize)
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var records []domain.Record
	var marks []Mark
	for rows.Next() {
		r, m, err := scanRow(rows, t)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, r)
		marks = append(marks, m)
	}
	return records, marks, rows.Err()
}

// Search matches rows where any text column contains a query term.
// The raw score is the number of distinct terms a row contains.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]domain.Candidate, error) {
	terms := uniqueTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	perTable := limit
	if perTable <= 0 {
		perTable = a.cfg.PageSize
	}

	conn, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tables, err := introspect(ctx, conn, a.cfg)
	if err != nil {
		return nil, a.fail(ctx, "search", err)
	}

	var out []domain.Candidate
	for _, t := range tables {
		if len(t.text) == 0 {
			continue
		}
		records, err := a.searchTable(ctx, conn, t, terms, perTable)
		if err != nil {
			return nil, a.fail(ctx, "search", err)
		}
		for _, r := range records {
			lower := strings.ToLower(r.Content)
			var score float64
			for _, term := range terms {
				if strings.Contains(lower, term) {
					score++
				}
			}
			out = append(out, domain.Candidate{
				DocumentID:  r.ID,
				Source:      a.Name(),
				RawScore:    score,
				Snippet:     domain.Snippet(r.Content, query),
				ContentRef:  a.Name() + "/" + r.ID,
				ContentHash: domain.HashContent(r.Content),
			})
		}
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

func (a *Adapter) searchTable(ctx context.Context, conn *sql.Conn, t *table, terms []string, limit int) ([]domain.Record, error) {
	query, args := t.searchSQL(terms, limit)
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		r, _, err := scanRow(rows, t)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// fail translates err, reporting the context's error when it caused it.
func (a *Adapter) fail(ctx context.Context, op string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return domain.NewSourceError(domain.Classify(cerr), a.Name(), op, fmt.Errorf("%w: %w", cerr, err))
	}
	return translate(a.Name(), op, err)
}

func uniqueTerms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
