package vector

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-federation/internal/adapters/driven/embedding/hashing"
	"github.com/custodia-labs/sercha-federation/internal/connectors/batch"
	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

const storeSchema = `CREATE TABLE embeddings (
	id TEXT PRIMARY KEY,
	content TEXT,
	embedding BLOB,
	updated_at INTEGER
)`

type store struct {
	t    *testing.T
	path string
	db   *sql.DB
	emb  *hashing.Embedder
}

func newStore(t *testing.T) *store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(storeSchema)
	require.NoError(t, err)
	return &store{t: t, path: path, db: db, emb: hashing.New(256)}
}

// put writes a row with the content's embedding.
func (s *store) put(id, content string, updated int64) {
	s.t.Helper()
	vec, err := s.emb.Embed(context.Background(), content)
	require.NoError(s.t, err)
	s.raw(id, content, EncodeVector(vec), updated)
}

func (s *store) raw(id, content string, blob []byte, updated int64) {
	s.t.Helper()
	_, err := s.db.Exec(`INSERT INTO embeddings (id, content, embedding, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, embedding = excluded.embedding, updated_at = excluded.updated_at`,
		id, content, blob, updated)
	require.NoError(s.t, err)
}

func (s *store) source() domain.SourceConfig {
	src := domain.NewSourceConfig("kb", domain.SourceTypeVector)
	src.Endpoint = s.path
	src.BatchSize = 2
	return src
}

func (s *store) connect() *Adapter {
	s.t.Helper()
	a, err := New(s.source(), s.emb)
	require.NoError(s.t, err)
	require.NoError(s.t, a.Connect(context.Background()))
	s.t.Cleanup(func() { _ = a.Close() })
	return a.(*Adapter)
}

func ids(records []domain.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-7}
	got, err := DecodeVector(EncodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		src := domain.NewSourceConfig("kb", domain.SourceTypeVector)
		src.Endpoint = filepath.Join(t.TempDir(), "nope.db")
		a, err := New(src, hashing.New(8))
		require.NoError(t, err)
		assert.ErrorIs(t, a.Connect(context.Background()), domain.ErrConfig)
	})

	t.Run("missing table", func(t *testing.T) {
		s := newStore(t)
		src := s.source()
		src.Params = map[string]string{"table": "other"}
		a, err := New(src, s.emb)
		require.NoError(t, err)
		assert.ErrorIs(t, a.Connect(context.Background()), domain.ErrConfig)
	})

	t.Run("missing column", func(t *testing.T) {
		s := newStore(t)
		_, err := s.db.Exec(`CREATE TABLE partial (id TEXT PRIMARY KEY, content TEXT)`)
		require.NoError(t, err)
		src := s.source()
		src.Params = map[string]string{"table": "partial"}
		a, err := New(src, s.emb)
		require.NoError(t, err)
		err = a.Connect(context.Background())
		assert.ErrorIs(t, err, domain.ErrConfig)
		assert.Contains(t, err.Error(), "embedding")
	})

	t.Run("requires embedder", func(t *testing.T) {
		s := newStore(t)
		_, err := New(s.source(), nil)
		assert.ErrorIs(t, err, domain.ErrConfig)
	})

	t.Run("not connected and closed", func(t *testing.T) {
		s := newStore(t)
		a, err := New(s.source(), s.emb)
		require.NoError(t, err)
		_, err = a.Search(context.Background(), "x", 5)
		assert.ErrorIs(t, err, domain.ErrConnection)

		require.NoError(t, a.Close())
		require.NoError(t, a.Close())
		assert.ErrorIs(t, a.Connect(context.Background()), domain.ErrAdapterClosed)
	})

	t.Run("schema", func(t *testing.T) {
		s := newStore(t)
		a := s.connect()
		schema, err := a.GetSchema(context.Background())
		require.NoError(t, err)
		require.Len(t, schema.Tables, 1)
		assert.Equal(t, DefaultTable, schema.Tables[0].Name)
		assert.Equal(t, []string{"id"}, schema.Tables[0].PrimaryKey)
		assert.NotEmpty(t, schema.Fingerprint)
	})
}

func TestFetchChanges(t *testing.T) {
	s := newStore(t)
	s.put("c", "gamma", 200)
	s.put("a", "alpha", 100)
	s.put("b", "beta", 200)
	_, err := s.db.Exec(`INSERT INTO embeddings (id, content) VALUES ('undated', 'no timestamp')`)
	require.NoError(t, err)
	a := s.connect()
	ctx := context.Background()

	t.Run("orders by updated_at then id", func(t *testing.T) {
		recs, err := a.FetchChanges(ctx, domain.SyncCursor{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(recs))
		assert.Equal(t, "alpha", recs[0].Content)
		assert.Equal(t, int64(100), recs[0].UpdatedAt.UnixMilli())
	})

	t.Run("resumes after position", func(t *testing.T) {
		recs, err := a.FetchChanges(ctx, domain.SyncCursor{})
		require.NoError(t, err)
		rest, err := a.FetchChanges(ctx, domain.SyncCursor{Token: recs[1].Position})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(rest))
	})

	t.Run("sees updates", func(t *testing.T) {
		recs, err := a.FetchChanges(ctx, domain.SyncCursor{})
		require.NoError(t, err)
		last := recs[len(recs)-1].Position

		s.put("a", "alpha revised", 300)
		rest, err := a.FetchChanges(ctx, domain.SyncCursor{Token: last})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(rest))
	})

	t.Run("invalid cursor", func(t *testing.T) {
		_, err := a.FetchChanges(ctx, domain.SyncCursor{Token: "!!"})
		assert.ErrorIs(t, err, domain.ErrParse)
	})

	t.Run("stream batches", func(t *testing.T) {
		batches, errs := a.Stream(ctx, "", 2)
		var sizes []int
		for b := range batches {
			sizes = append(sizes, len(b.Records))
		}
		require.NoError(t, <-errs)
		assert.Equal(t, []int{2, 1}, sizes)
	})
}

func TestSearch(t *testing.T) {
	s := newStore(t)
	s.put("pay", "Payment service outage. Card payments failed for an hour.", 1)
	s.put("news", "Quarterly marketing newsletter", 2)
	s.put("deploy", "Deploying the search cluster", 3)
	s.raw("lazy", "payment outage runbook", nil, 4)
	s.raw("bad", "wrong size", EncodeVector([]float32{1, 2}), 5)
	a := s.connect()
	ctx := context.Background()

	t.Run("nearest first", func(t *testing.T) {
		got, err := a.Search(ctx, "payment service outage", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		byID := map[string]domain.Candidate{}
		for _, c := range got {
			byID[c.DocumentID] = c
		}
		require.Contains(t, byID, "pay")
		require.Contains(t, byID, "lazy", "rows without a vector are embedded on load")
		assert.GreaterOrEqual(t, got[0].RawScore, got[1].RawScore)

		pay := byID["pay"]
		assert.Equal(t, "kb", pay.Source)
		assert.Equal(t, "kb/pay", pay.ContentRef)
		assert.Equal(t, "Payment service outage.", pay.Snippet)
		assert.Equal(t, domain.HashContent("Payment service outage. Card payments failed for an hour."), pay.ContentHash)
	})

	t.Run("skips rows with the wrong dimension", func(t *testing.T) {
		got, err := a.Search(ctx, "wrong size", 10)
		require.NoError(t, err)
		for _, c := range got {
			assert.NotEqual(t, "bad", c.DocumentID)
		}
	})

	t.Run("picks up new and replaced rows", func(t *testing.T) {
		s.put("new", "kubernetes upgrade checklist", 10)
		s.put("news", "kubernetes upgrade notes", 11)

		got, err := a.Search(ctx, "kubernetes upgrade", 10)
		require.NoError(t, err)
		seen := map[string]int{}
		for _, c := range got {
			seen[c.DocumentID]++
		}
		assert.Equal(t, 1, seen["new"])
		assert.Equal(t, 1, seen["news"])
		require.NotEmpty(t, got)
		assert.Contains(t, []string{"new", "news"}, got[0].DocumentID)
	})

	t.Run("query", func(t *testing.T) {
		res, err := a.Query(ctx, "payment outage", map[string]any{"k": 1})
		require.NoError(t, err)
		require.Len(t, res.Records, 1)
		assert.Contains(t, []string{"pay", "lazy"}, res.Records[0].ID)
		assert.Contains(t, res.Columns, "score")
		assert.IsType(t, float64(0), res.Records[0].Fields["score"])

		_, err = a.Query(ctx, "x", map[string]any{"k": "zero"})
		assert.ErrorIs(t, err, domain.ErrParse)
	})

	t.Run("blank query", func(t *testing.T) {
		got, err := a.Search(ctx, "", 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("stream text", func(t *testing.T) {
		recs, err := batch.Collect(a.Stream(ctx, "payment outage", 10))
		require.NoError(t, err)
		assert.NotEmpty(t, recs)
	})
}

func TestGraph(t *testing.T) {
	g := newGraph(2)
	assert.True(t, g.put("x", []float32{1, 0}))
	assert.True(t, g.put("y", []float32{0, 1}))
	assert.False(t, g.put("z", []float32{1, 0, 0}))
	assert.False(t, g.put("zero", []float32{0, 0}))
	assert.Equal(t, 2, g.size())

	hits := g.search([]float32{1, 0.1}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "x", hits[0].id)

	assert.True(t, g.put("x", []float32{0, 1}))
	assert.Equal(t, 2, g.size())
	hits = g.search([]float32{1, 0}, 5)
	for _, h := range hits {
		assert.Equal(t, 1, countID(hits, h.id))
	}

	assert.Nil(t, g.search([]float32{0, 0}, 1))
	assert.Nil(t, g.search([]float32{1}, 1))
}

func countID(hits []hit, id string) int {
	n := 0
	for _, h := range hits {
		if h.id == id {
			n++
		}
	}
	return n
}
