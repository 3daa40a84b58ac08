// Package queue schedules and executes persisted tasks with bounded worker
// pools per task family.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/store"
)

const (
	// DefaultPollInterval is the dispatcher's fallback wakeup period. Normal
	// operation is event-driven; the poll only covers missed wakeups.
	DefaultPollInterval = 30 * time.Second

	// DefaultMaxRetries is the number of automatic re-attempts after the
	// first failure.
	DefaultMaxRetries = 3

	drainTimeout = 5 * time.Second
)

// Scope selects which task families a pause or resume applies to.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeSync     Scope = "sync"
	ScopeDownload Scope = "download"
)

// DownloadGate is consulted before download tasks are dispatched. Sync tasks
// are never gated.
type DownloadGate interface {
	IsDownloadAllowed(ctx context.Context) (bool, error)
}

// Handler executes one family of tasks. A nil error completes the task; any
// error is treated as transient until the task's retry budget is spent.
type Handler interface {
	Execute(ctx context.Context, task *models.Task) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *models.Task) (string, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task *models.Task) (string, error) {
	return f(ctx, task)
}

type pool struct {
	handler Handler
	max     int
	running int
}

// Queue owns task persistence transitions and the dispatch loop. All state
// lives in the store; the queue survives restarts by construction.
type Queue struct {
	store  *store.Store
	hub    *hub.Hub
	gate   DownloadGate
	logger zerolog.Logger

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration

	wake chan struct{}

	mu    sync.Mutex
	pools map[models.TaskType]*pool
	wg    sync.WaitGroup
}

// New creates a queue over the given store and hub. gate may be nil, in which
// case downloads are never time-gated.
func New(st *store.Store, h *hub.Hub, gate DownloadGate) *Queue {
	return &Queue{
		store:  st,
		hub:    h,
		gate:   gate,
		logger: log.WithComponent("queue"),
		wake:   make(chan struct{}, 1),
		pools:  make(map[models.TaskType]*pool),
	}
}

// Register installs the handler and worker cap for one task family.
func (q *Queue) Register(typ models.TaskType, h Handler, maxWorkers int) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	q.mu.Lock()
	q.pools[typ] = &pool{handler: h, max: maxWorkers}
	q.mu.Unlock()
}

// Notify wakes the dispatcher. Safe from any goroutine; a pending wakeup
// coalesces with new ones.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue creates a pending task for (typ, entityID). When an active task for
// the same target already exists, it is returned together with
// store.ErrConflict.
func (q *Queue) Enqueue(ctx context.Context, typ models.TaskType, entityID int64) (*models.Task, error) {
	t, err := q.store.InsertTask(ctx, typ, entityID, DefaultMaxRetries)
	if err != nil {
		if existing, findErr := q.store.FindActiveTask(ctx, typ, entityID); findErr == nil && existing != nil {
			return existing, err
		}
		return nil, err
	}
	q.publishTask(ctx, t)
	q.Notify()
	return t, nil
}

// EnqueueBulk creates pending tasks for every entity without an active task,
// skipping duplicates silently. respectSchedule marks the tasks as
// scheduler-owned: their dispatch waits for the download window.
func (q *Queue) EnqueueBulk(ctx context.Context, typ models.TaskType, entityIDs []int64, respectSchedule bool) (*store.BulkInsertResult, error) {
	res, err := q.store.BulkInsertTasks(ctx, typ, entityIDs, DefaultMaxRetries, 0, respectSchedule)
	if err != nil {
		return nil, err
	}
	if len(res.Inserted) > 0 {
		q.hub.Publish(hub.TopicTasks, hub.TopicTaskStats)
		q.Notify()
	}
	return res, nil
}

// Cancel cancels a pending or paused task.
func (q *Queue) Cancel(ctx context.Context, id int64) error {
	return q.mutate(ctx, id, q.store.CancelTask)
}

// Pause parks a pending task so the dispatcher skips it.
func (q *Queue) Pause(ctx context.Context, id int64) error {
	return q.mutate(ctx, id, q.store.PauseTask)
}

// Resume returns a paused task to pending and wakes the dispatcher.
func (q *Queue) Resume(ctx context.Context, id int64) error {
	if err := q.mutate(ctx, id, q.store.ResumeTask); err != nil {
		return err
	}
	q.Notify()
	return nil
}

// Retry resets a terminal task to pending with a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id int64) error {
	if err := q.mutate(ctx, id, q.store.RetryTask); err != nil {
		return err
	}
	q.Notify()
	return nil
}

func (q *Queue) mutate(ctx context.Context, id int64, op func(context.Context, int64) error) error {
	if err := op(ctx, id); err != nil {
		return err
	}
	if t, err := q.store.GetTask(ctx, id); err == nil {
		q.publishTask(ctx, t)
	}
	return nil
}

// PauseScope sets the persisted pause flag for a scope. The flag survives
// restarts; in-flight tasks finish normally.
func (q *Queue) PauseScope(ctx context.Context, scope Scope) error {
	return q.setScopePaused(ctx, scope, true)
}

// ResumeScope clears the persisted pause flag for a scope.
func (q *Queue) ResumeScope(ctx context.Context, scope Scope) error {
	if err := q.setScopePaused(ctx, scope, false); err != nil {
		return err
	}
	q.Notify()
	return nil
}

func (q *Queue) setScopePaused(ctx context.Context, scope Scope, paused bool) error {
	var key string
	switch scope {
	case ScopeAll:
		key = models.SettingWorkerPaused
	case ScopeSync:
		key = models.SettingSyncPaused
	case ScopeDownload:
		key = models.SettingDownloadPaused
	default:
		return fmt.Errorf("unknown pause scope %q", scope)
	}
	if err := q.store.SetBoolSetting(ctx, key, paused); err != nil {
		return err
	}
	q.hub.Publish(hub.TopicTaskStats)
	return nil
}

// Stats returns task counts per status.
func (q *Queue) Stats(ctx context.Context) (map[models.TaskStatus]int, error) {
	return q.store.CountTasksByStatus(ctx)
}

// WorkerStat reports one pool's live occupancy.
type WorkerStat struct {
	Running int `json:"running"`
	Max     int `json:"max"`
}

// WorkerStats returns the occupancy of every registered pool.
func (q *Queue) WorkerStats() map[models.TaskType]WorkerStat {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[models.TaskType]WorkerStat, len(q.pools))
	for typ, p := range q.pools {
		out[typ] = WorkerStat{Running: p.running, Max: p.max}
	}
	return out
}

// Run recovers orphaned tasks and then dispatches until ctx is cancelled,
// draining in-flight work before returning.
func (q *Queue) Run(ctx context.Context) error {
	if n, err := q.store.ResetStaleRunning(ctx); err != nil {
		return fmt.Errorf("recover stale tasks: %w", err)
	} else if n > 0 {
		q.logger.Warn().Int64("count", n).Msg("requeued tasks orphaned by previous shutdown")
	}

	interval := q.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		q.dispatch(ctx)
		select {
		case <-ctx.Done():
			return q.drain()
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

func (q *Queue) drain() error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		q.logger.Warn().Msg("shutdown drain timed out; running tasks will be recovered on next start")
	}
	return nil
}

var dispatchOrder = []models.TaskType{models.TaskTypeSync, models.TaskTypeDownload}

func (q *Queue) dispatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	paused, err := q.store.GetBoolSetting(ctx, models.SettingWorkerPaused)
	if err != nil {
		q.logger.Error().Err(err).Msg("read pause flag")
		return
	}
	if paused {
		return
	}
	for _, typ := range dispatchOrder {
		q.mu.Lock()
		p, ok := q.pools[typ]
		q.mu.Unlock()
		if ok {
			q.dispatchType(ctx, typ, p)
		}
	}
}

func (q *Queue) dispatchType(ctx context.Context, typ models.TaskType, p *pool) {
	scopeKey := models.SettingSyncPaused
	if typ == models.TaskTypeDownload {
		scopeKey = models.SettingDownloadPaused
	}
	paused, err := q.store.GetBoolSetting(ctx, scopeKey)
	if err != nil || paused {
		return
	}
	lease := q.store.LeasePending
	if typ == models.TaskTypeDownload && q.gate != nil {
		allowed, err := q.gate.IsDownloadAllowed(ctx)
		if err != nil {
			q.logger.Error().Err(err).Msg("evaluate download schedule")
			return
		}
		if !allowed {
			// Scheduler-enqueued downloads wait for the window; manual
			// enqueues dispatch regardless.
			lease = q.store.LeaseManualPending
		}
	}

	q.mu.Lock()
	available := p.max - p.running
	q.mu.Unlock()
	if available <= 0 {
		return
	}

	tasks, err := lease(ctx, typ, available)
	if err != nil {
		q.logger.Error().Err(err).Str("type", string(typ)).Msg("lease pending tasks")
		return
	}
	for _, t := range tasks {
		metrics.TasksLeasedTotal.WithLabelValues(string(typ)).Inc()
		q.mu.Lock()
		p.running++
		n := p.running
		q.mu.Unlock()
		metrics.RunningWorkers.WithLabelValues(string(typ)).Set(float64(n))
		q.publishTask(ctx, t)
		q.wg.Add(1)
		go q.execute(ctx, p, t)
	}
}

// execute runs one leased task through its handler and persists the outcome.
// Bookkeeping writes use a detached context so a shutdown mid-task still
// records the result.
func (q *Queue) execute(ctx context.Context, p *pool, task *models.Task) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		p.running--
		n := p.running
		q.mu.Unlock()
		metrics.RunningWorkers.WithLabelValues(string(task.Type)).Set(float64(n))
		q.Notify()
	}()

	bookCtx := context.WithoutCancel(ctx)
	attempt := task.RetryCount + 1
	q.appendLog(bookCtx, task.ID, attempt, models.LogLevelInfo,
		fmt.Sprintf("starting attempt %d of %d", attempt, task.MaxRetries+1))

	result, err := p.handler.Execute(ctx, task)
	if err == nil {
		if err := q.store.MarkCompleted(bookCtx, task.ID, result); err != nil {
			q.logger.Error().Err(err).Int64("task", task.ID).Msg("persist completion")
		}
		q.appendLog(bookCtx, task.ID, attempt, models.LogLevelInfo, "completed")
		metrics.TasksCompletedTotal.WithLabelValues(string(task.Type), "completed").Inc()
		q.publishTask(bookCtx, task)
		return
	}

	if task.RetryCount < task.MaxRetries {
		if rqErr := q.store.RequeueForRetry(bookCtx, task.ID, err.Error()); rqErr != nil {
			q.logger.Error().Err(rqErr).Int64("task", task.ID).Msg("requeue for retry")
		}
		q.appendLog(bookCtx, task.ID, attempt, models.LogLevelWarning,
			fmt.Sprintf("attempt %d failed: %v; will retry", attempt, err))
		metrics.TasksCompletedTotal.WithLabelValues(string(task.Type), "requeued").Inc()
	} else {
		if mfErr := q.store.MarkFailed(bookCtx, task.ID, err.Error()); mfErr != nil {
			q.logger.Error().Err(mfErr).Int64("task", task.ID).Msg("persist failure")
		}
		q.appendLog(bookCtx, task.ID, attempt, models.LogLevelError,
			fmt.Sprintf("attempt %d failed: %v; retries exhausted", attempt, err))
		metrics.TasksCompletedTotal.WithLabelValues(string(task.Type), "failed").Inc()
		q.logger.Error().Err(err).
			Int64("task", task.ID).
			Str("type", string(task.Type)).
			Int64("entity", task.EntityID).
			Msg("task failed permanently")
	}
	q.publishTask(bookCtx, task)
}

func (q *Queue) appendLog(ctx context.Context, taskID int64, attempt int, level models.LogLevel, msg string) {
	if err := q.store.AppendTaskLog(ctx, taskID, attempt, level, msg); err != nil {
		q.logger.Error().Err(err).Int64("task", taskID).Msg("append task log")
	}
}

// publishTask notifies the global task topics plus the owning list's topic.
// Download tasks resolve their list through the video row; a missing entity
// just skips the per-list topic.
func (q *Queue) publishTask(ctx context.Context, task *models.Task) {
	topics := []string{hub.TopicTasks, hub.TopicTaskStats}
	switch task.Type {
	case models.TaskTypeSync:
		topics = append(topics, hub.TopicListTasks(task.EntityID))
	case models.TaskTypeDownload:
		if v, err := q.store.GetVideo(ctx, task.EntityID); err == nil {
			topics = append(topics, hub.TopicListTasks(v.ListID))
		}
	}
	q.hub.Publish(topics...)
}
