// Package index holds the central full-text index that sync cycles write
// into, and a source adapter that searches a bleve index.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.IndexWriter = (*Store)(nil)

// Indexed field names.
const (
	FieldSource      = "source"
	FieldRecordID    = "record_id"
	FieldTable       = "table"
	FieldTitle       = "title"
	FieldContent     = "content"
	FieldUpdatedAt   = "updated_at"
	FieldContentHash = "content_hash"
)

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("index: store closed")

// document is the stored form of a record.
type document struct {
	Source      string    `json:"source"`
	RecordID    string    `json:"record_id"`
	Table       string    `json:"table"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	UpdatedAt   time.Time `json:"updated_at"`
	ContentHash string    `json:"content_hash"`
}

// DocumentID is the index key for a record. Writing the same record
// twice replaces the earlier copy.
func DocumentID(source, recordID string) string {
	return source + "/" + recordID
}

// Store is a bleve index of synced records.
type Store struct {
	path string

	mu     sync.RWMutex
	idx    bleve.Index
	closed bool
}

// Open opens the index at path, creating it if absent. An empty path
// gives an in-memory index.
func Open(path string) (*Store, error) {
	m := newMapping()
	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
				return nil, fmt.Errorf("create index directory: %w", mkErr)
			}
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &Store{path: path, idx: idx}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	keyword := bleve.NewKeywordFieldMapping()
	text := bleve.NewTextFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false
	doc.AddFieldMappingsAt(FieldSource, keyword)
	doc.AddFieldMappingsAt(FieldRecordID, keyword)
	doc.AddFieldMappingsAt(FieldTable, keyword)
	doc.AddFieldMappingsAt(FieldContentHash, keyword)
	doc.AddFieldMappingsAt(FieldTitle, text)
	doc.AddFieldMappingsAt(FieldContent, text)
	doc.AddFieldMappingsAt(FieldUpdatedAt, date)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Path returns the on-disk location, empty for an in-memory index.
func (s *Store) Path() string { return s.path }

// UpsertBatch writes records under source in one bleve batch.
// Records without an ID are skipped.
func (s *Store) UpsertBatch(ctx context.Context, source string, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	b := s.idx.NewBatch()
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		doc := document{
			Source:      source,
			RecordID:    r.ID,
			Table:       r.Table,
			Title:       r.Title,
			Content:     r.Content,
			UpdatedAt:   r.UpdatedAt.UTC(),
			ContentHash: domain.HashContent(r.Content),
		}
		if err := b.Index(DocumentID(source, r.ID), doc); err != nil {
			return fmt.Errorf("index %s: %w", DocumentID(source, r.ID), err)
		}
	}
	if b.Size() == 0 {
		return nil
	}
	if err := s.idx.Batch(b); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// Count returns the number of documents from source, or from every
// source when source is empty.
func (s *Store) Count(ctx context.Context, source string) (uint64, error) {
	var q query.Query = bleve.NewMatchAllQuery()
	if source != "" {
		q = termQuery(FieldSource, source)
	}
	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := s.search(ctx, req)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// Close closes the index. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.idx.Close()
}

func (s *Store) search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.idx.SearchInContext(ctx, req)
}

func termQuery(field, term string) *query.TermQuery {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return q
}
