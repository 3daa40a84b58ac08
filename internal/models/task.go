package models

import "time"

// TaskType distinguishes the two work families the queue executes.
type TaskType string

const (
	TaskTypeSync     TaskType = "sync"
	TaskTypeDownload TaskType = "download"
)

// TaskStatus is the persisted lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no automatic transition can leave the status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the status counts against the dedup guard.
func (s TaskStatus) IsActive() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusPaused:
		return true
	}
	return false
}

// Task is one scheduled unit of work. EntityID is a weak reference: a List
// for sync tasks, a Video for download tasks. The task may outlive its entity.
type Task struct {
	ID          int64      `json:"id"`
	Type        TaskType   `json:"task_type"`
	EntityID    int64      `json:"entity_id"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`

	// RespectSchedule marks scheduler-enqueued downloads: their dispatch
	// waits for the download window. Manual enqueues dispatch regardless.
	RespectSchedule bool       `json:"respect_schedule"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// LogLevel classifies task log entries.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// TaskLog is an append-only per-attempt log line owned by a task.
type TaskLog struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	Attempt   int       `json:"attempt"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
