package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

// AppendHistory records an audit entry, optionally tied to a list.
func (s *Store) AppendHistory(ctx context.Context, listID *int64, event, detail string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO history (list_id, event, detail, created_at) VALUES (?, ?, ?, ?)",
		listID, event, detail, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory returns audit entries newest-first; listID narrows to one list.
func (s *Store) ListHistory(ctx context.Context, listID *int64, limit, offset int) ([]*models.HistoryEntry, error) {
	q := "SELECT id, list_id, event, detail, created_at FROM history"
	var args []any
	if listID != nil {
		q += " WHERE list_id = ?"
		args = append(args, *listID)
	}
	q += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*models.HistoryEntry
	for rows.Next() {
		var (
			h         models.HistoryEntry
			lid       sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&h.ID, &lid, &h.Event, &h.Detail, &createdAt); err != nil {
			return nil, err
		}
		if lid.Valid {
			h.ListID = &lid.Int64
		}
		h.CreatedAt = unixToTime(createdAt)
		out = append(out, &h)
	}
	return out, rows.Err()
}

// DeleteHistoryBefore prunes audit entries older than cutoff.
func (s *Store) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM history WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}
