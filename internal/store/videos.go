package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

const videoColumns = "id, list_id, external_video_id, title, url, duration, upload_date, thumbnail, media_type, labels, downloaded, download_path, error_message, retry_count, blacklisted, created_at, updated_at"

func scanVideo(row interface{ Scan(...any) error }) (*models.Video, error) {
	var (
		v                    models.Video
		labels               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&v.ID, &v.ListID, &v.ExternalID, &v.Title, &v.URL, &v.Duration,
		&v.UploadDate, &v.Thumbnail, &v.MediaType, &labels, &v.Downloaded,
		&v.DownloadPath, &v.ErrorMessage, &v.RetryCount, &v.Blacklisted,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if labels != "" && labels != "{}" {
		if err := json.Unmarshal([]byte(labels), &v.Labels); err != nil {
			return nil, fmt.Errorf("video %d labels: %w", v.ID, err)
		}
	}
	v.CreatedAt = unixToTime(createdAt)
	v.UpdatedAt = unixToTime(updatedAt)
	return &v, nil
}

// InsertVideo adds a newly discovered video; a duplicate
// (list_id, external_video_id) maps to ErrConflict.
func (s *Store) InsertVideo(ctx context.Context, v *models.Video) (*models.Video, error) {
	labels, err := marshalOptions(v.Labels)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO videos (list_id, external_video_id, title, url, duration, upload_date, thumbnail, media_type, labels, downloaded, download_path, error_message, retry_count, blacklisted, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, 0, ?, ?, ?)`,
		v.ListID, v.ExternalID, v.Title, v.URL, v.Duration, v.UploadDate, v.Thumbnail,
		v.MediaType, labels, v.ErrorMessage, v.Blacklisted, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("video %s in list %d: %w", v.ExternalID, v.ListID, ErrConflict)
		}
		return nil, fmt.Errorf("insert video: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetVideo(ctx, id)
}

// GetVideo returns the video with the given id.
func (s *Store) GetVideo(ctx context.Context, id int64) (*models.Video, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = ?", id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get video %d: %w", id, err)
	}
	return v, nil
}

// ListVideos returns a list's videos newest-first.
func (s *Store) ListVideos(ctx context.Context, listID int64, limit, offset int) ([]*models.Video, error) {
	q := "SELECT " + videoColumns + " FROM videos WHERE list_id = ? ORDER BY created_at DESC, id DESC"
	args := []any{listID}
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ExistingExternalIDs snapshots the set of known external IDs for a list.
func (s *Store) ExistingExternalIDs(ctx context.Context, listID int64) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT external_video_id FROM videos WHERE list_id = ?", listID)
	if err != nil {
		return nil, fmt.Errorf("existing external ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// PendingDownloadCandidates returns up to limit un-downloaded, non-blacklisted
// videos from auto-download lists that either never failed or are marked for
// another attempt.
func (s *Store) PendingDownloadCandidates(ctx context.Context, limit int) ([]*models.Video, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+prefixed(videoColumns, "v.")+` FROM videos v
JOIN video_lists l ON l.id = v.list_id
WHERE v.downloaded = 0 AND v.blacklisted = 0
  AND l.auto_download = 1 AND l.enabled = 1 AND l.deleting = 0
  AND (v.error_message = '' OR v.retry_count > 0)
ORDER BY v.created_at ASC, v.id ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending download candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MarkVideoDownloaded records a successful download and merges backend labels
// over the existing label map.
func (s *Store) MarkVideoDownloaded(ctx context.Context, id int64, path string, labels map[string]string) error {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	merged := v.Labels
	if merged == nil {
		merged = make(map[string]string, len(labels))
	}
	for k, val := range labels {
		merged[k] = val
	}
	encoded, err := marshalOptions(merged)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE videos SET downloaded = 1, download_path = ?, error_message = '', labels = ?, updated_at = ? WHERE id = ?",
		path, encoded, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark video downloaded: %w", err)
	}
	return nil
}

// MarkVideoFailed records a failed download attempt.
func (s *Store) MarkVideoFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE videos SET error_message = ?, retry_count = retry_count + 1, updated_at = ? WHERE id = ?",
		errMsg, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark video failed: %w", err)
	}
	return nil
}

// ResetVideoError clears a video's error state for a manual retry.
func (s *Store) ResetVideoError(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE videos SET error_message = '', retry_count = 0, updated_at = ? WHERE id = ?",
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("reset video error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	return nil
}

func prefixed(columns, prefix string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}
