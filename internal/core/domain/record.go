package domain

import "time"

// Record is one item pulled from a source: a row, issue, wiki page or file.
type Record struct {
	// ID is the primary key within the source.
	ID string

	// Table is the table or collection the record came from.
	Table string

	// Title is a short human-readable label.
	Title string

	// Content is the text indexed for search.
	Content string

	// Fields holds the raw column values.
	Fields map[string]any

	// UpdatedAt is the change-column value used for ordering.
	UpdatedAt time.Time

	// Position is the encoded cursor token positioned just after this record.
	Position string
}

// Batch is a chunk of records produced by a stream.
type Batch struct {
	Records []Record

	// Position is the cursor token after the last record in the batch.
	Position string
}

// QueryResult is the answer to a native query.
type QueryResult struct {
	Columns []string
	Records []Record
}
