package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// resultStore implements driven.ResultStore.
type resultStore struct {
	store *Store
}

var _ driven.ResultStore = (*resultStore)(nil)

// Record appends a result.
func (s *resultStore) Record(ctx context.Context, r domain.SyncResult) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_results (source, cycle_id, items_processed, items_failed, started_at, duration_ns, status, error, cursor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Source, r.CycleID, r.ItemsProcessed, r.ItemsFailed,
		r.StartedAt.UTC().Format(time.RFC3339Nano), int64(r.Duration),
		string(r.Status), nullString(r.Error), nullString(r.Cursor))
	if err != nil {
		return fmt.Errorf("recording sync result: %w", err)
	}
	return nil
}

// History returns recent results for a source, most recent first.
func (s *resultStore) History(ctx context.Context, source string, limit int) ([]domain.SyncResult, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT source, cycle_id, items_processed, items_failed, started_at, duration_ns, status, error, cursor
		FROM sync_results
		WHERE source = ?
		ORDER BY id DESC
		LIMIT ?
	`, source, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync history: %w", err)
	}
	defer rows.Close()

	var results []domain.SyncResult //nolint:prealloc // size unknown from query
	for rows.Next() {
		var r domain.SyncResult
		var startedAt string
		var durationNs int64
		var status string
		var errMsg, cursor sql.NullString
		if err := rows.Scan(&r.Source, &r.CycleID, &r.ItemsProcessed, &r.ItemsFailed,
			&startedAt, &durationNs, &status, &errMsg, &cursor); err != nil {
			return nil, fmt.Errorf("scanning sync result: %w", err)
		}
		r.StartedAt = parseNullableTime(sql.NullString{String: startedAt, Valid: true})
		r.Duration = time.Duration(durationNs)
		r.Status = domain.SyncStatus(status)
		r.Error = errMsg.String
		r.Cursor = cursor.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync history: %w", err)
	}
	return results, nil
}

// Prune keeps the most recent keep results per source.
func (s *resultStore) Prune(ctx context.Context, keep int) error {
	if keep < 0 {
		return nil
	}
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM sync_results
		WHERE id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY source ORDER BY id DESC) AS rn
				FROM sync_results
			) WHERE rn <= ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("pruning sync history: %w", err)
	}
	return nil
}
