package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

func scanSchedule(row interface{ Scan(...any) error }) (*models.DownloadSchedule, error) {
	var (
		d         models.DownloadSchedule
		days      string
		createdAt int64
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Enabled, &days, &d.StartTime, &d.EndTime, &createdAt); err != nil {
		return nil, err
	}
	for _, day := range strings.Split(days, ",") {
		if day = strings.TrimSpace(day); day != "" {
			d.Days = append(d.Days, models.Weekday(day))
		}
	}
	d.CreatedAt = unixToTime(createdAt)
	return &d, nil
}

func joinDays(days []models.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

// CreateSchedule inserts a new download schedule.
func (s *Store) CreateSchedule(ctx context.Context, d *models.DownloadSchedule) (*models.DownloadSchedule, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO download_schedules (name, enabled, days_of_week, start_time, end_time, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		d.Name, d.Enabled, joinDays(d.Days), d.StartTime, d.EndTime, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetSchedule(ctx, id)
}

// GetSchedule returns the schedule with the given id.
func (s *Store) GetSchedule(ctx context.Context, id int64) (*models.DownloadSchedule, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, enabled, days_of_week, start_time, end_time, created_at FROM download_schedules WHERE id = ?", id)
	d, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %d: %w", id, err)
	}
	return d, nil
}

// ListSchedules returns all schedules. enabledOnly narrows to enabled rows.
func (s *Store) ListSchedules(ctx context.Context, enabledOnly bool) ([]*models.DownloadSchedule, error) {
	q := "SELECT id, name, enabled, days_of_week, start_time, end_time, created_at FROM download_schedules"
	if enabledOnly {
		q += " WHERE enabled = 1"
	}
	rows, err := s.db.QueryContext(ctx, q+" ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*models.DownloadSchedule
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateSchedule replaces a schedule's attributes.
func (s *Store) UpdateSchedule(ctx context.Context, d *models.DownloadSchedule) (*models.DownloadSchedule, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE download_schedules SET name = ?, enabled = ?, days_of_week = ?, start_time = ?, end_time = ? WHERE id = ?",
		d.Name, d.Enabled, joinDays(d.Days), d.StartTime, d.EndTime, d.ID)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("schedule %d: %w", d.ID, ErrNotFound)
	}
	return s.GetSchedule(ctx, d.ID)
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM download_schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}
