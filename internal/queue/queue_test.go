package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	q := New(st, hub.New(), nil)
	q.PollInterval = 10 * time.Millisecond
	return q, st
}

// runQueue starts the dispatcher and stops it at test cleanup.
func runQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitForStatus(t *testing.T, st *store.Store, taskID int64, want models.TaskStatus) *models.Task {
	t.Helper()
	var got *models.Task
	require.Eventually(t, func() bool {
		task, err := st.GetTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestEnqueueDeduplicatesActiveTarget(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, models.TaskTypeSync, 7)
	require.NoError(t, err)

	dup, err := q.Enqueue(ctx, models.TaskTypeSync, 7)
	require.ErrorIs(t, err, store.ErrConflict)
	require.NotNil(t, dup)
	require.Equal(t, first.ID, dup.ID, "conflict returns the existing active task")
}

func TestDispatcherCompletesTask(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	q.Register(models.TaskTypeSync, HandlerFunc(func(_ context.Context, task *models.Task) (string, error) {
		return "synced 3 videos", nil
	}), 2)
	runQueue(t, q)

	task, err := q.Enqueue(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)

	done := waitForStatus(t, st, task.ID, models.TaskStatusCompleted)
	require.Equal(t, "synced 3 videos", done.Result)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)

	logs, err := st.ListTaskLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, models.LogLevelInfo, logs[0].Level)
	require.Contains(t, logs[0].Message, "starting attempt 1 of 4")
	require.Equal(t, "completed", logs[1].Message)
}

func TestRetryLadderExhaustsBudget(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	var attempts atomic.Int32
	q.Register(models.TaskTypeSync, HandlerFunc(func(_ context.Context, _ *models.Task) (string, error) {
		attempts.Add(1)
		return "", errors.New("upstream unreachable")
	}), 1)
	runQueue(t, q)

	task, err := q.Enqueue(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)

	failed := waitForStatus(t, st, task.ID, models.TaskStatusFailed)
	require.Equal(t, int32(4), attempts.Load(), "initial attempt plus three retries")
	require.Equal(t, 3, failed.RetryCount)
	require.LessOrEqual(t, failed.RetryCount, failed.MaxRetries)
	require.Contains(t, failed.Error, "upstream unreachable")

	logs, err := st.ListTaskLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 8)
	var levels []models.LogLevel
	for _, l := range logs {
		levels = append(levels, l.Level)
	}
	require.Equal(t, []models.LogLevel{
		models.LogLevelInfo, models.LogLevelWarning,
		models.LogLevelInfo, models.LogLevelWarning,
		models.LogLevelInfo, models.LogLevelWarning,
		models.LogLevelInfo, models.LogLevelError,
	}, levels)
	require.Contains(t, logs[7].Message, "retries exhausted")
}

func TestWorkerCapBoundsConcurrency(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	release := make(chan struct{})
	var current, peak atomic.Int32
	q.Register(models.TaskTypeDownload, HandlerFunc(func(_ context.Context, _ *models.Task) (string, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return "", nil
	}), 2)
	runQueue(t, q)

	var ids []int64
	for entity := int64(1); entity <= 4; entity++ {
		task, err := q.Enqueue(ctx, models.TaskTypeDownload, entity)
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	require.Eventually(t, func() bool {
		return current.Load() == 2
	}, 5*time.Second, 5*time.Millisecond)
	close(release)

	for _, id := range ids {
		waitForStatus(t, st, id, models.TaskStatusCompleted)
	}
	require.Equal(t, int32(2), peak.Load())
}

func TestScopePauseHoldsDispatch(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	q.Register(models.TaskTypeSync, HandlerFunc(func(_ context.Context, _ *models.Task) (string, error) {
		return "", nil
	}), 1)
	require.NoError(t, q.PauseScope(ctx, ScopeSync))
	runQueue(t, q)

	task, err := q.Enqueue(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	held, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, held.Status)

	require.NoError(t, q.ResumeScope(ctx, ScopeSync))
	waitForStatus(t, st, task.ID, models.TaskStatusCompleted)
}

type fixedGate struct {
	mu      sync.Mutex
	allowed bool
}

func (g *fixedGate) set(v bool) {
	g.mu.Lock()
	g.allowed = v
	g.mu.Unlock()
}

func (g *fixedGate) IsDownloadAllowed(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowed, nil
}

func TestGateHoldsScheduledDownloadsOnly(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	gate := &fixedGate{}
	q := New(st, hub.New(), gate)
	q.PollInterval = 10 * time.Millisecond
	noop := HandlerFunc(func(_ context.Context, _ *models.Task) (string, error) { return "", nil })
	q.Register(models.TaskTypeSync, noop, 1)
	q.Register(models.TaskTypeDownload, noop, 2)
	runQueue(t, q)

	ctx := context.Background()
	syncTask, err := q.Enqueue(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	res, err := q.EnqueueBulk(ctx, models.TaskTypeDownload, []int64{1}, true)
	require.NoError(t, err)
	require.Len(t, res.Inserted, 1)
	scheduled := res.Inserted[0]
	manual, err := q.Enqueue(ctx, models.TaskTypeDownload, 2)
	require.NoError(t, err)

	// Syncs are never gated; manual downloads bypass a closed window.
	waitForStatus(t, st, syncTask.ID, models.TaskStatusCompleted)
	waitForStatus(t, st, manual.ID, models.TaskStatusCompleted)
	held, err := st.GetTask(ctx, scheduled.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, held.Status, "scheduled downloads wait for the window")

	gate.set(true)
	q.Notify()
	waitForStatus(t, st, scheduled.ID, models.TaskStatusCompleted)
}

func TestRecoversOrphanedRunningTasks(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	task, err := st.InsertTask(ctx, models.TaskTypeSync, 1, DefaultMaxRetries)
	require.NoError(t, err)
	leased, err := st.LeasePending(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	// A fresh dispatcher must treat the surviving running row as orphaned.
	q.Register(models.TaskTypeSync, HandlerFunc(func(_ context.Context, _ *models.Task) (string, error) {
		return "recovered", nil
	}), 1)
	runQueue(t, q)

	done := waitForStatus(t, st, task.ID, models.TaskStatusCompleted)
	require.Equal(t, "recovered", done.Result)
}

func TestRetryAfterPermanentFailure(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	var fail atomic.Bool
	fail.Store(true)
	q.Register(models.TaskTypeSync, HandlerFunc(func(_ context.Context, _ *models.Task) (string, error) {
		if fail.Load() {
			return "", errors.New("still broken")
		}
		return "ok", nil
	}), 1)
	runQueue(t, q)

	task, err := q.Enqueue(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	waitForStatus(t, st, task.ID, models.TaskStatusFailed)

	fail.Store(false)
	require.NoError(t, q.Retry(ctx, task.ID))
	done := waitForStatus(t, st, task.ID, models.TaskStatusCompleted)
	require.Equal(t, "ok", done.Result)
	require.Equal(t, 0, done.RetryCount, "retry starts with a fresh budget")
}

func TestCancelOnlyNonRunning(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	task, err := q.Enqueue(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	require.NoError(t, q.Pause(ctx, task.ID))
	require.NoError(t, q.Cancel(ctx, task.ID))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCancelled, got.Status)

	require.ErrorIs(t, q.Cancel(ctx, task.ID), store.ErrInvalidTransition)
}
