package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

const listColumns = "id, name, url, list_type, profile_id, from_date, sync_cadence, enabled, auto_download, title_blacklist, min_duration, max_duration, deleting, last_synced, created_at, updated_at"

func scanList(row interface{ Scan(...any) error }) (*models.List, error) {
	var (
		l                    models.List
		lastSynced           sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&l.ID, &l.Name, &l.URL, &l.Type, &l.ProfileID, &l.FromDate, &l.Cadence,
		&l.Enabled, &l.AutoDownload, &l.TitleBlacklist, &l.MinDuration, &l.MaxDuration,
		&l.Deleting, &lastSynced, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	l.LastSynced = unixToTimePtr(lastSynced)
	l.CreatedAt = unixToTime(createdAt)
	l.UpdatedAt = unixToTime(updatedAt)
	return &l, nil
}

// CreateList inserts a new monitored list; duplicate URLs map to ErrConflict.
func (s *Store) CreateList(ctx context.Context, l *models.List) (*models.List, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO video_lists (name, url, list_type, profile_id, from_date, sync_cadence, enabled, auto_download, title_blacklist, min_duration, max_duration, deleting, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		l.Name, l.URL, l.Type, l.ProfileID, l.FromDate, l.Cadence, l.Enabled, l.AutoDownload,
		l.TitleBlacklist, l.MinDuration, l.MaxDuration, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("list url %q: %w", l.URL, ErrConflict)
		}
		return nil, fmt.Errorf("create list: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetList(ctx, id)
}

// GetList returns the list with the given id.
func (s *Store) GetList(ctx context.Context, id int64) (*models.List, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+listColumns+" FROM video_lists WHERE id = ?", id)
	l, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get list %d: %w", id, err)
	}
	return l, nil
}

// ListLists returns all lists ordered by name.
func (s *Store) ListLists(ctx context.Context) ([]*models.List, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+listColumns+" FROM video_lists ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*models.List
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListsDueForSync returns enabled, non-deleting lists whose last-sync age
// exceeds their cadence as of now. Never-synced lists are always due.
func (s *Store) ListsDueForSync(ctx context.Context, now time.Time) ([]*models.List, error) {
	all, err := s.ListLists(ctx)
	if err != nil {
		return nil, err
	}
	var due []*models.List
	for _, l := range all {
		if !l.Enabled || l.Deleting {
			continue
		}
		if l.LastSynced == nil || now.Sub(*l.LastSynced) >= l.Cadence.Interval() {
			due = append(due, l)
		}
	}
	return due, nil
}

// UpdateList replaces the mutable attributes of a list.
func (s *Store) UpdateList(ctx context.Context, l *models.List) (*models.List, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE video_lists SET name = ?, url = ?, list_type = ?, profile_id = ?, from_date = ?, sync_cadence = ?, enabled = ?, auto_download = ?, title_blacklist = ?, min_duration = ?, max_duration = ?, updated_at = ?
WHERE id = ?`,
		l.Name, l.URL, l.Type, l.ProfileID, l.FromDate, l.Cadence, l.Enabled, l.AutoDownload,
		l.TitleBlacklist, l.MinDuration, l.MaxDuration, time.Now().Unix(), l.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("list url %q: %w", l.URL, ErrConflict)
		}
		return nil, fmt.Errorf("update list: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("list %d: %w", l.ID, ErrNotFound)
	}
	return s.GetList(ctx, l.ID)
}

// TouchListSynced stamps the list's last successful sync time.
func (s *Store) TouchListSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE video_lists SET last_synced = ?, updated_at = ? WHERE id = ?",
		at.Unix(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("touch list synced: %w", err)
	}
	return nil
}

// MarkListDeleting sets the soft-delete marker that blocks re-enqueue while
// a cascading removal is underway.
func (s *Store) MarkListDeleting(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE video_lists SET deleting = 1, enabled = 0, updated_at = ? WHERE id = ?",
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark list deleting: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("list %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteList removes a list and cascades to its videos.
func (s *Store) DeleteList(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM video_lists WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("list %d: %w", id, ErrNotFound)
	}
	return nil
}
