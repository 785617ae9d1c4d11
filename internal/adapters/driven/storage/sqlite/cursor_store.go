package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// cursorStore implements driven.CursorStore.
type cursorStore struct {
	store *Store
}

var _ driven.CursorStore = (*cursorStore)(nil)

// Get retrieves the cursor for a source, or the zero cursor.
func (s *cursorStore) Get(ctx context.Context, source string) (domain.SyncCursor, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT source, token, last_success, consecutive_failures, next_eligible, version
		FROM sync_cursors WHERE source = ?
	`, source)

	c, err := scanCursor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncCursor{Source: source}, nil
	}
	if err != nil {
		return domain.SyncCursor{}, fmt.Errorf("scanning cursor: %w", err)
	}
	return c, nil
}

// CompareAndAdvance stores next only if the stored version equals
// expected.Version. A first write inserts; later writes update.
func (s *cursorStore) CompareAndAdvance(ctx context.Context, source string, expected, next domain.SyncCursor) error {
	var (
		res sql.Result
		err error
	)
	if expected.Version == 0 {
		res, err = s.store.db.ExecContext(ctx, `
			INSERT INTO sync_cursors (source, token, last_success, consecutive_failures, next_eligible, version)
			VALUES (?, ?, ?, ?, ?, 1)
			ON CONFLICT(source) DO NOTHING
		`, source, next.Token, formatNullableTime(next.LastSuccess),
			next.ConsecutiveFailures, formatNullableTime(next.NextEligible))
	} else {
		res, err = s.store.db.ExecContext(ctx, `
			UPDATE sync_cursors SET
				token = ?,
				last_success = ?,
				consecutive_failures = ?,
				next_eligible = ?,
				version = version + 1
			WHERE source = ? AND version = ?
		`, next.Token, formatNullableTime(next.LastSuccess),
			next.ConsecutiveFailures, formatNullableTime(next.NextEligible),
			source, expected.Version)
	}
	if err != nil {
		return fmt.Errorf("advancing cursor: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advancing cursor: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Delete removes the cursor for a source.
func (s *cursorStore) Delete(ctx context.Context, source string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM sync_cursors WHERE source = ?", source)
	if err != nil {
		return fmt.Errorf("deleting cursor: %w", err)
	}
	return nil
}

// List returns every stored cursor ordered by source name.
func (s *cursorStore) List(ctx context.Context) ([]domain.SyncCursor, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT source, token, last_success, consecutive_failures, next_eligible, version
		FROM sync_cursors ORDER BY source
	`)
	if err != nil {
		return nil, fmt.Errorf("querying cursors: %w", err)
	}
	defer rows.Close()

	var cursors []domain.SyncCursor //nolint:prealloc // size unknown from query
	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cursors: %w", err)
	}
	return cursors, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCursor(row scanner) (domain.SyncCursor, error) {
	var c domain.SyncCursor
	var lastSuccess, nextEligible sql.NullString
	if err := row.Scan(&c.Source, &c.Token, &lastSuccess, &c.ConsecutiveFailures, &nextEligible, &c.Version); err != nil {
		return domain.SyncCursor{}, err
	}
	c.LastSuccess = parseNullableTime(lastSuccess)
	c.NextEligible = parseNullableTime(nextEligible)
	return c, nil
}

// formatNullableTime formats a time as RFC3339Nano or returns nil for zero time.
func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseNullableTime parses a nullable RFC3339 string to time.Time.
// Returns zero time if the string is empty or invalid.
func parseNullableTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullString returns nil for empty strings, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
