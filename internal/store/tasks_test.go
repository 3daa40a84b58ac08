package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

func TestInsertTaskDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.InsertTask(ctx, models.TaskTypeSync, 42, 3)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, first.Status)

	_, err = s.InsertTask(ctx, models.TaskTypeSync, 42, 3)
	require.ErrorIs(t, err, ErrConflict)

	// A different entity or type is unaffected.
	_, err = s.InsertTask(ctx, models.TaskTypeSync, 43, 3)
	require.NoError(t, err)
	_, err = s.InsertTask(ctx, models.TaskTypeDownload, 42, 3)
	require.NoError(t, err)
}

func TestInsertTaskDedupUnderContention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	inserted := make(chan *models.Task, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if task, err := s.InsertTask(ctx, models.TaskTypeSync, 42, 3); err == nil {
				inserted <- task
			}
		}()
	}
	wg.Wait()
	close(inserted)

	var n int
	for range inserted {
		n++
	}
	require.Equal(t, 1, n, "exactly one of ten parallel enqueues may win")

	tasks, err := s.ListTasks(ctx, TaskFilter{Type: models.TaskTypeSync})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestLeasePendingFIFOAndExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		_, err := s.InsertTask(ctx, models.TaskTypeSync, i, 3)
		require.NoError(t, err)
	}

	leased, err := s.LeasePending(ctx, models.TaskTypeSync, 2)
	require.NoError(t, err)
	require.Len(t, leased, 2)
	require.Equal(t, int64(1), leased[0].EntityID)
	require.Equal(t, int64(2), leased[1].EntityID)
	for _, task := range leased {
		require.Equal(t, models.TaskStatusRunning, task.Status)
		require.NotNil(t, task.StartedAt)
	}

	// Remaining rows only.
	rest, err := s.LeasePending(ctx, models.TaskTypeSync, 10)
	require.NoError(t, err)
	require.Len(t, rest, 3)
}

func TestLeasePendingConcurrentCallersNeverShareRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 20; i++ {
		_, err := s.InsertTask(ctx, models.TaskTypeDownload, i, 3)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				leased, err := s.LeasePending(ctx, models.TaskTypeDownload, 3)
				require.NoError(t, err)
				if len(leased) == 0 {
					return
				}
				mu.Lock()
				for _, task := range leased {
					seen[task.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 20)
	for id, count := range seen {
		require.Equal(t, 1, count, "task %d leased more than once", id)
	}
}

func TestLeaseManualPendingSkipsScheduledTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	manual, err := s.InsertTask(ctx, models.TaskTypeDownload, 1, 3)
	require.NoError(t, err)
	_, err = s.BulkInsertTasks(ctx, models.TaskTypeDownload, []int64{2, 3}, 3, 0, true)
	require.NoError(t, err)

	leased, err := s.LeaseManualPending(ctx, models.TaskTypeDownload, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.Equal(t, manual.ID, leased[0].ID)
	require.False(t, leased[0].RespectSchedule)

	// The unrestricted lease still claims the scheduled rows.
	rest, err := s.LeasePending(ctx, models.TaskTypeDownload, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	for _, task := range rest {
		require.True(t, task.RespectSchedule)
	}
}

func TestTransitionGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.InsertTask(ctx, models.TaskTypeSync, 1, 3)
	require.NoError(t, err)

	// Completing a pending task is rejected.
	require.ErrorIs(t, s.MarkCompleted(ctx, task.ID, "{}"), ErrInvalidTransition)

	leased, err := s.LeasePending(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	// Cancelling a running task is rejected.
	require.ErrorIs(t, s.CancelTask(ctx, task.ID), ErrInvalidTransition)

	require.NoError(t, s.MarkCompleted(ctx, task.ID, `{"new_videos":2}`))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Unknown id surfaces NotFound, not a guard error.
	require.ErrorIs(t, s.MarkCompleted(ctx, 99999, ""), ErrNotFound)
}

func TestCancelThenReenqueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.InsertTask(ctx, models.TaskTypeDownload, 7, 3)
	require.NoError(t, err)
	require.NoError(t, s.CancelTask(ctx, task.ID))

	// The active slot is free again.
	fresh, err := s.InsertTask(ctx, models.TaskTypeDownload, 7, 3)
	require.NoError(t, err)
	require.NotEqual(t, task.ID, fresh.ID)
}

func TestPauseResume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.InsertTask(ctx, models.TaskTypeSync, 1, 3)
	require.NoError(t, err)

	require.NoError(t, s.PauseTask(ctx, task.ID))
	leased, err := s.LeasePending(ctx, models.TaskTypeSync, 10)
	require.NoError(t, err)
	require.Empty(t, leased, "paused tasks must not be leased")

	require.NoError(t, s.ResumeTask(ctx, task.ID))
	leased, err = s.LeasePending(ctx, models.TaskTypeSync, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
}

func TestRetryResetsCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.InsertTask(ctx, models.TaskTypeSync, 1, 3)
	require.NoError(t, err)
	_, err = s.LeasePending(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, task.ID, "boom"))

	require.NoError(t, s.RetryTask(ctx, task.ID))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, got.Status)
	require.Equal(t, 0, got.RetryCount)
	require.Empty(t, got.Error)
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.CompletedAt)
	require.Equal(t, task.Type, got.Type)
	require.Equal(t, task.EntityID, got.EntityID)
}

func TestRequeueForRetryIncrementsCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.InsertTask(ctx, models.TaskTypeDownload, 1, 3)
	require.NoError(t, err)
	_, err = s.LeasePending(ctx, models.TaskTypeDownload, 1)
	require.NoError(t, err)

	require.NoError(t, s.RequeueForRetry(ctx, task.ID, "transient"))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.Equal(t, "transient", got.Error)
	require.Nil(t, got.StartedAt)
}

func TestMarkFailedPreservesRetryCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.InsertTask(ctx, models.TaskTypeDownload, 1, 3)
	require.NoError(t, err)
	_, err = s.LeasePending(ctx, models.TaskTypeDownload, 1)
	require.NoError(t, err)
	require.NoError(t, s.RequeueForRetry(ctx, task.ID, "transient"))
	_, err = s.LeasePending(ctx, models.TaskTypeDownload, 1)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, task.ID, "permanent"))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusFailed, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.LessOrEqual(t, got.RetryCount, got.MaxRetries)
}

func TestResetStaleRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.InsertTask(ctx, models.TaskTypeSync, 1, 3)
	require.NoError(t, err)
	_, err = s.LeasePending(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)

	n, err := s.ResetStaleRunning(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, got.Status)
	require.Nil(t, got.StartedAt)

	counts, err := s.CountTasksByStatus(ctx)
	require.NoError(t, err)
	require.Zero(t, counts[models.TaskStatusRunning])
}

func TestBulkInsertTasksSkipsActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertTask(ctx, models.TaskTypeDownload, 5, 3)
	require.NoError(t, err)

	res, err := s.BulkInsertTasks(ctx, models.TaskTypeDownload, []int64{4, 5, 6}, 3, 0, false)
	require.NoError(t, err)
	require.Len(t, res.Inserted, 2)
	require.Equal(t, []int64{5}, res.Skipped)
}

func TestBulkInsertTasksBeyondChunkLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := make([]int64, 600)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	// Chunk size far below the input forces multiple statements in one tx.
	res, err := s.BulkInsertTasks(ctx, models.TaskTypeDownload, ids, 3, 250, false)
	require.NoError(t, err)
	require.Equal(t, 600, len(res.Inserted)+len(res.Skipped))
	require.Len(t, res.Inserted, 600)
}

func TestDeleteTerminalTasksKeepsActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done, err := s.InsertTask(ctx, models.TaskTypeSync, 1, 3)
	require.NoError(t, err)
	_, err = s.LeasePending(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, done.ID, ""))

	pending, err := s.InsertTask(ctx, models.TaskTypeSync, 2, 3)
	require.NoError(t, err)

	n, err := s.DeleteTerminalTasksBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = s.GetTask(ctx, pending.ID)
	require.NoError(t, err)
}

func TestBatchGetEntityNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProfile(t, s)
	l := seedList(t, s, p.ID)

	v, err := s.InsertVideo(ctx, &models.Video{ListID: l.ID, ExternalID: "x", Title: "Some Video", MediaType: models.MediaTypeVideo})
	require.NoError(t, err)

	syncTask, err := s.InsertTask(ctx, models.TaskTypeSync, l.ID, 3)
	require.NoError(t, err)
	dlTask, err := s.InsertTask(ctx, models.TaskTypeDownload, v.ID, 3)
	require.NoError(t, err)
	orphan, err := s.InsertTask(ctx, models.TaskTypeDownload, 424242, 3)
	require.NoError(t, err)

	names, err := s.BatchGetEntityNames(ctx, []*models.Task{syncTask, dlTask, orphan})
	require.NoError(t, err)
	require.Equal(t, l.Name, names[syncTask.ID])
	require.Equal(t, "Some Video", names[dlTask.ID])
	_, ok := names[orphan.ID]
	require.False(t, ok, "deleted entities resolve to no name")
}

func TestTaskLogTimeline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.InsertTask(ctx, models.TaskTypeSync, 1, 3)
	require.NoError(t, err)

	require.NoError(t, s.AppendTaskLog(ctx, task.ID, 1, models.LogLevelInfo, "Starting attempt 1"))
	require.NoError(t, s.AppendTaskLog(ctx, task.ID, 1, models.LogLevelWarning, "will retry"))

	logs, err := s.ListTaskLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, models.LogLevelInfo, logs[0].Level)
	require.Equal(t, models.LogLevelWarning, logs[1].Level)
}
