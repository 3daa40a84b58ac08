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

// DefaultBulkChunk bounds how many rows a single bulk INSERT carries. The
// value is tuned to SQLite bind-parameter limits; other backends would not
// need chunking but are unharmed by it.
const DefaultBulkChunk = 500

const taskColumns = "id, task_type, entity_id, status, result, error, retry_count, max_retries, respect_schedule, created_at, started_at, completed_at"

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		t                    models.Task
		createdAt            int64
		startedAt, completed sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.Type, &t.EntityID, &t.Status, &t.Result, &t.Error,
		&t.RetryCount, &t.MaxRetries, &t.RespectSchedule, &createdAt, &startedAt, &completed)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = unixToTime(createdAt)
	t.StartedAt = unixToTimePtr(startedAt)
	t.CompletedAt = unixToTimePtr(completed)
	return &t, nil
}

// GetTask returns the task with the given id.
func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Type   models.TaskType
	Status models.TaskStatus
	Limit  int
	Offset int
}

// ListTasks returns tasks newest-first, optionally filtered by type and status.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*models.Task, error) {
	q := "SELECT " + taskColumns + " FROM tasks"
	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "task_type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTasksByStatus returns row counts keyed by status.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[models.TaskStatus]int)
	for rows.Next() {
		var st models.TaskStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

// FindActiveTask is the dedup probe: it returns the pending, running or
// paused task targeting (type, entityID), or nil when none exists.
func (s *Store) FindActiveTask(ctx context.Context, typ models.TaskType, entityID int64) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE task_type = ? AND entity_id = ? AND status IN ('pending','running','paused')",
		typ, entityID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active task: %w", err)
	}
	return t, nil
}

// InsertTask inserts a new pending task. The partial unique index on active
// rows is the canonical dedup guard; a duplicate insert maps to ErrConflict.
func (s *Store) InsertTask(ctx context.Context, typ models.TaskType, entityID int64, maxRetries int) (*models.Task, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO tasks (task_type, entity_id, status, retry_count, max_retries, created_at) VALUES (?, ?, 'pending', 0, ?, ?)",
		typ, entityID, maxRetries, now)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("active task for %s/%d exists: %w", typ, entityID, ErrConflict)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// BulkInsertResult reports the outcome of a bulk enqueue.
type BulkInsertResult struct {
	Inserted []*models.Task
	Skipped  []int64
}

// BulkInsertTasks inserts pending tasks for every entity without an active
// task already, in chunks of chunkSize (DefaultBulkChunk when <= 0). Each
// chunk is one atomic statement; duplicates within the statement are skipped
// by the active-row unique index, never partially applied. respectSchedule
// marks the tasks as scheduler-owned for download-window gating.
func (s *Store) BulkInsertTasks(ctx context.Context, typ models.TaskType, entityIDs []int64, maxRetries, chunkSize int, respectSchedule bool) (*BulkInsertResult, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultBulkChunk
	}
	result := &BulkInsertResult{}
	now := time.Now().Unix()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(entityIDs); start += chunkSize {
			end := start + chunkSize
			if end > len(entityIDs) {
				end = len(entityIDs)
			}
			chunk := entityIDs[start:end]

			var sb strings.Builder
			sb.WriteString("INSERT OR IGNORE INTO tasks (task_type, entity_id, status, retry_count, max_retries, respect_schedule, created_at) VALUES ")
			args := make([]any, 0, len(chunk)*5)
			for i, id := range chunk {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString("(?, ?, 'pending', 0, ?, ?, ?)")
				args = append(args, typ, id, maxRetries, respectSchedule, now)
			}
			sb.WriteString(" RETURNING entity_id")

			rows, err := tx.QueryContext(ctx, sb.String(), args...)
			if err != nil {
				return fmt.Errorf("bulk insert tasks: %w", err)
			}
			inserted := make(map[int64]bool, len(chunk))
			for rows.Next() {
				var eid int64
				if err := rows.Scan(&eid); err != nil {
					_ = rows.Close()
					return err
				}
				inserted[eid] = true
			}
			if err := rows.Err(); err != nil {
				_ = rows.Close()
				return err
			}
			_ = rows.Close()

			for _, id := range chunk {
				if !inserted[id] {
					result.Skipped = append(result.Skipped, id)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Fetch the inserted rows outside the write transaction.
	skipped := make(map[int64]bool, len(result.Skipped))
	for _, id := range result.Skipped {
		skipped[id] = true
	}
	for _, id := range entityIDs {
		if skipped[id] {
			continue
		}
		t, err := s.FindActiveTask(ctx, typ, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			result.Inserted = append(result.Inserted, t)
		}
	}
	return result, nil
}

// LeasePending atomically claims up to limit oldest pending tasks of the
// given type, transitioning them to running with started_at set. Concurrent
// callers never lease the same row: the claim is a single UPDATE.
func (s *Store) LeasePending(ctx context.Context, typ models.TaskType, limit int) ([]*models.Task, error) {
	return s.lease(ctx, typ, limit, false)
}

// LeaseManualPending claims pending tasks like LeasePending but skips rows
// marked respect_schedule. The dispatcher uses it while the download window
// is closed so manual enqueues still run.
func (s *Store) LeaseManualPending(ctx context.Context, typ models.TaskType, limit int) ([]*models.Task, error) {
	return s.lease(ctx, typ, limit, true)
}

func (s *Store) lease(ctx context.Context, typ models.TaskType, limit int, manualOnly bool) ([]*models.Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	filter := ""
	if manualOnly {
		filter = " AND respect_schedule = 0"
	}
	rows, err := s.db.QueryContext(ctx, `
UPDATE tasks SET status = 'running', started_at = ?
WHERE id IN (
	SELECT id FROM tasks
	WHERE status = 'pending' AND task_type = ?`+filter+`
	ORDER BY created_at ASC, id ASC
	LIMIT ?
)
RETURNING `+taskColumns,
		time.Now().Unix(), typ, limit)
	if err != nil {
		return nil, fmt.Errorf("lease pending %s: %w", typ, err)
	}
	defer func() { _ = rows.Close() }()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leased task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkCompleted finishes a running task successfully.
func (s *Store) MarkCompleted(ctx context.Context, id int64, result string) error {
	return s.transition(ctx, id, running,
		"status = 'completed', result = ?, error = '', completed_at = ?", result, time.Now().Unix())
}

// MarkFailed finishes a running task permanently. The retry count stays as
// RequeueForRetry left it, never above the budget.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return s.transition(ctx, id, running,
		"status = 'failed', error = ?, completed_at = ?", errMsg, time.Now().Unix())
}

// RequeueForRetry returns a running task to pending after a transient
// failure, incrementing its retry count.
func (s *Store) RequeueForRetry(ctx context.Context, id int64, errMsg string) error {
	return s.transition(ctx, id, running,
		"status = 'pending', error = ?, retry_count = retry_count + 1, started_at = NULL", errMsg)
}

// CancelTask cancels a pending or paused task. Running tasks cannot be
// cancelled in-process; the backend owns file handles mid-download.
func (s *Store) CancelTask(ctx context.Context, id int64) error {
	return s.transition(ctx, id, []models.TaskStatus{models.TaskStatusPending, models.TaskStatusPaused},
		"status = 'cancelled', completed_at = ?", time.Now().Unix())
}

// PauseTask parks a pending task.
func (s *Store) PauseTask(ctx context.Context, id int64) error {
	return s.transition(ctx, id, []models.TaskStatus{models.TaskStatusPending}, "status = 'paused'")
}

// ResumeTask returns a paused task to pending.
func (s *Store) ResumeTask(ctx context.Context, id int64) error {
	return s.transition(ctx, id, []models.TaskStatus{models.TaskStatusPaused}, "status = 'pending'")
}

// RetryTask resets a terminal task back to pending with counters cleared.
func (s *Store) RetryTask(ctx context.Context, id int64) error {
	return s.transition(ctx, id, []models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled},
		"status = 'pending', error = '', result = '', retry_count = 0, started_at = NULL, completed_at = NULL")
}

var running = []models.TaskStatus{models.TaskStatusRunning}

// transition applies a guarded status change restricted to the given source
// statuses.
func (s *Store) transition(ctx context.Context, id int64, from []models.TaskStatus, set string, args ...any) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	q := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ? AND status IN (%s)", set, placeholders)
	args = append(args, id)
	for _, st := range from {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("task %d transition: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a guard rejection.
		if _, err := s.GetTask(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("task %d: %w", id, ErrInvalidTransition)
	}
	return nil
}

// ResetStaleRunning flips every running task back to pending at process
// start. The only legitimate owner of a running row is the live dispatcher;
// survivors from a prior process are orphans.
func (s *Store) ResetStaleRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = 'pending', started_at = NULL WHERE status = 'running'")
	if err != nil {
		return 0, fmt.Errorf("reset stale running: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTerminalTasksBefore prunes terminal tasks older than cutoff.
// Pending, running and paused rows are never pruned.
func (s *Store) DeleteTerminalTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE status IN ('completed','failed','cancelled') AND created_at < ?",
		cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	return res.RowsAffected()
}

// BatchGetEntityNames resolves display names for the weakly-referenced
// entities of the given tasks in two queries (lists for sync tasks, video
// titles for download tasks). The result is keyed by task ID; tasks whose
// entity was deleted simply have no entry.
func (s *Store) BatchGetEntityNames(ctx context.Context, tasks []*models.Task) (map[int64]string, error) {
	collect := func(table, column string, ids []int64) (map[int64]string, error) {
		names := make(map[int64]string, len(ids))
		if len(ids) == 0 {
			return names, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT id, %s FROM %s WHERE id IN (%s)", column, table, placeholders), args...)
		if err != nil {
			return nil, fmt.Errorf("batch names from %s: %w", table, err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var id int64
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				return nil, err
			}
			names[id] = name
		}
		return names, rows.Err()
	}

	var listIDs, videoIDs []int64
	for _, t := range tasks {
		switch t.Type {
		case models.TaskTypeSync:
			listIDs = append(listIDs, t.EntityID)
		case models.TaskTypeDownload:
			videoIDs = append(videoIDs, t.EntityID)
		}
	}
	listNames, err := collect("video_lists", "name", listIDs)
	if err != nil {
		return nil, err
	}
	videoNames, err := collect("videos", "title", videoIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]string, len(tasks))
	for _, t := range tasks {
		switch t.Type {
		case models.TaskTypeSync:
			if name, ok := listNames[t.EntityID]; ok {
				out[t.ID] = name
			}
		case models.TaskTypeDownload:
			if name, ok := videoNames[t.EntityID]; ok {
				out[t.ID] = name
			}
		}
	}
	return out, nil
}

// AppendTaskLog adds one log line to a task's attempt timeline.
func (s *Store) AppendTaskLog(ctx context.Context, taskID int64, attempt int, level models.LogLevel, message string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO task_logs (task_id, attempt, level, message, created_at) VALUES (?, ?, ?, ?, ?)",
		taskID, attempt, level, message, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append task log: %w", err)
	}
	return nil
}

// ListTaskLogs returns a task's log lines ordered by creation.
func (s *Store) ListTaskLogs(ctx context.Context, taskID int64) ([]*models.TaskLog, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, task_id, attempt, level, message, created_at FROM task_logs WHERE task_id = ? ORDER BY created_at ASC, id ASC",
		taskID)
	if err != nil {
		return nil, fmt.Errorf("list task logs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*models.TaskLog
	for rows.Next() {
		var l models.TaskLog
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Attempt, &l.Level, &l.Message, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = unixToTime(createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}
