package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; the schema version lives in user_version.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS profiles (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL UNIQUE,
	container       TEXT NOT NULL DEFAULT 'mp4',
	max_resolution  INTEGER NOT NULL DEFAULT 1080,
	video_codec     TEXT NOT NULL DEFAULT '',
	audio_codec     TEXT NOT NULL DEFAULT '',
	include_shorts  INTEGER NOT NULL DEFAULT 0,
	include_live    INTEGER NOT NULL DEFAULT 0,
	embed_subtitles INTEGER NOT NULL DEFAULT 0,
	embed_metadata  INTEGER NOT NULL DEFAULT 1,
	output_template TEXT NOT NULL DEFAULT '',
	extra_options   TEXT NOT NULL DEFAULT '{}',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS video_lists (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL,
	url             TEXT NOT NULL UNIQUE,
	list_type       TEXT NOT NULL,
	profile_id      INTEGER NOT NULL REFERENCES profiles(id),
	from_date       TEXT NOT NULL DEFAULT '',
	sync_cadence    TEXT NOT NULL DEFAULT 'daily',
	enabled         INTEGER NOT NULL DEFAULT 1,
	auto_download   INTEGER NOT NULL DEFAULT 0,
	title_blacklist TEXT NOT NULL DEFAULT '',
	min_duration    INTEGER NOT NULL DEFAULT 0,
	max_duration    INTEGER NOT NULL DEFAULT 0,
	deleting        INTEGER NOT NULL DEFAULT 0,
	last_synced     INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS videos (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	list_id           INTEGER NOT NULL REFERENCES video_lists(id) ON DELETE CASCADE,
	external_video_id TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL DEFAULT '',
	duration          INTEGER NOT NULL DEFAULT 0,
	upload_date       TEXT NOT NULL DEFAULT '',
	thumbnail         TEXT NOT NULL DEFAULT '',
	media_type        TEXT NOT NULL DEFAULT 'video',
	labels            TEXT NOT NULL DEFAULT '{}',
	downloaded        INTEGER NOT NULL DEFAULT 0,
	download_path     TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	retry_count       INTEGER NOT NULL DEFAULT 0,
	blacklisted       INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	UNIQUE (list_id, external_video_id)
);

CREATE INDEX IF NOT EXISTS idx_videos_list_downloaded ON videos(list_id, downloaded);
CREATE INDEX IF NOT EXISTS idx_videos_list_updated ON videos(list_id, updated_at);

CREATE TABLE IF NOT EXISTS tasks (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	task_type        TEXT NOT NULL,
	entity_id        INTEGER NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	result           TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	max_retries      INTEGER NOT NULL DEFAULT 3,
	respect_schedule INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	started_at       INTEGER,
	completed_at     INTEGER
);

-- Canonical dedup guard: at most one active row per (task_type, entity_id).
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_active
	ON tasks(task_type, entity_id)
	WHERE status IN ('pending', 'running', 'paused');

CREATE INDEX IF NOT EXISTS idx_tasks_type_entity_status ON tasks(task_type, entity_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_status_type ON tasks(status, task_type);

CREATE TABLE IF NOT EXISTS task_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id    INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	attempt    INTEGER NOT NULL,
	level      TEXT NOT NULL DEFAULT 'info',
	message    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_logs_task ON task_logs(task_id, created_at);

CREATE TABLE IF NOT EXISTS history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	list_id    INTEGER,
	event      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_list ON history(list_id, created_at);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS download_schedules (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	enabled      INTEGER NOT NULL DEFAULT 1,
	days_of_week TEXT NOT NULL DEFAULT '',
	start_time   TEXT NOT NULL DEFAULT '00:00',
	end_time     TEXT NOT NULL DEFAULT '23:59',
	created_at   INTEGER NOT NULL
);
`,
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		stmt := migrations[i]
		next := i + 1
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %d: %w", next, err)
			}
			// PRAGMA does not accept bind parameters.
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", next)); err != nil {
				return fmt.Errorf("bump schema version to %d: %w", next, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
