package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/queue"
	"github.com/fetcharr/fetcharr/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	store     *store.Store
	scheduler *Scheduler
	profile   *models.Profile
}

type blockedGate struct{ allowed bool }

func (g *blockedGate) IsDownloadAllowed(context.Context) (bool, error) { return g.allowed, nil }

func newFixture(t *testing.T, gate DownloadGate) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sched.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	p, err := st.CreateProfile(context.Background(), &models.Profile{Name: "default"})
	require.NoError(t, err)

	q := queue.New(st, hub.New(), nil)
	return &fixture{store: st, scheduler: New(st, q, gate), profile: p}
}

func (f *fixture) addList(t *testing.T, name string, lastSynced *time.Time, autoDownload bool) *models.List {
	t.Helper()
	ctx := context.Background()
	l, err := f.store.CreateList(ctx, &models.List{
		Name: name, URL: "https://example.com/" + name, Type: models.ListTypeChannel,
		ProfileID: f.profile.ID, Cadence: models.CadenceDaily, Enabled: true, AutoDownload: autoDownload,
	})
	require.NoError(t, err)
	if lastSynced != nil {
		require.NoError(t, f.store.TouchListSynced(ctx, l.ID, *lastSynced))
	}
	return l
}

func TestSyncDueListsEnqueuesOnlyDue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	stale := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-time.Hour)
	dueList := f.addList(t, "stale", &stale, false)
	f.addList(t, "fresh", &fresh, false)
	neverSynced := f.addList(t, "new", nil, false)

	n, err := f.scheduler.SyncDueLists(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []int64{dueList.ID, neverSynced.ID} {
		task, err := f.store.FindActiveTask(ctx, models.TaskTypeSync, id)
		require.NoError(t, err)
		require.NotNil(t, task)
	}

	// A second pass dedups against the active tasks.
	n, err = f.scheduler.SyncDueLists(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func (f *fixture) addVideo(t *testing.T, listID int64, extID string) *models.Video {
	t.Helper()
	v, err := f.store.InsertVideo(context.Background(), &models.Video{
		ListID: listID, ExternalID: extID, Title: extID,
		URL: "https://example.com/v/" + extID, MediaType: models.MediaTypeVideo,
	})
	require.NoError(t, err)
	return v
}

func TestEnqueuePendingDownloads(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	auto := f.addList(t, "auto", nil, true)
	manual := f.addList(t, "manual", nil, false)
	v1 := f.addVideo(t, auto.ID, "v1")
	f.addVideo(t, manual.ID, "v2")

	n, err := f.scheduler.EnqueuePendingDownloads(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	task, err := f.store.FindActiveTask(ctx, models.TaskTypeDownload, v1.ID)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.True(t, task.RespectSchedule, "automatic downloads honour the window at dispatch")
}

func TestEnqueuePendingDownloadsRespectsBatchLimit(t *testing.T) {
	f := newFixture(t, nil)
	auto := f.addList(t, "auto", nil, true)
	for _, id := range []string{"v1", "v2", "v3"} {
		f.addVideo(t, auto.ID, id)
	}
	f.scheduler.DownloadBatchLimit = 2

	n, err := f.scheduler.EnqueuePendingDownloads(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestEnqueuePendingDownloadsGated(t *testing.T) {
	gate := &blockedGate{allowed: false}
	f := newFixture(t, gate)
	auto := f.addList(t, "auto", nil, true)
	v := f.addVideo(t, auto.ID, "v1")

	n, err := f.scheduler.EnqueuePendingDownloads(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	task, err := f.store.FindActiveTask(context.Background(), models.TaskTypeDownload, v.ID)
	require.NoError(t, err)
	require.Nil(t, task)

	gate.allowed = true
	n, err = f.scheduler.EnqueuePendingDownloads(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPruneDisabledByZeroRetention(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.SetSetting(ctx, models.SettingDataRetentionDays, "0"))

	task, err := f.store.InsertTask(ctx, models.TaskTypeSync, 1, 0)
	require.NoError(t, err)
	leased, err := f.store.LeasePending(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NoError(t, f.store.MarkCompleted(ctx, task.ID, "done"))

	require.NoError(t, f.scheduler.PruneRetained(ctx))
	_, err = f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
}

func TestPruneIgnoresUnsetRetention(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.scheduler.nowFunc = func() time.Time { return time.Now().AddDate(0, 0, 365) }

	task, err := f.store.InsertTask(ctx, models.TaskTypeSync, 1, 0)
	require.NoError(t, err)
	leased, err := f.store.LeasePending(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NoError(t, f.store.MarkCompleted(ctx, task.ID, "done"))
	require.NoError(t, f.store.AppendHistory(ctx, nil, "sync_completed", ""))

	// No data_retention_days setting stored: pruning stays off.
	require.NoError(t, f.scheduler.PruneRetained(ctx))

	_, err = f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	history, err := f.store.ListHistory(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestPruneKeepsRecentRecords(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.SetSetting(ctx, models.SettingDataRetentionDays, "30"))

	task, err := f.store.InsertTask(ctx, models.TaskTypeSync, 1, 0)
	require.NoError(t, err)
	leased, err := f.store.LeasePending(ctx, models.TaskTypeSync, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NoError(t, f.store.MarkCompleted(ctx, task.ID, "done"))
	require.NoError(t, f.store.AppendHistory(ctx, nil, "sync_completed", ""))

	require.NoError(t, f.scheduler.PruneRetained(ctx))

	_, err = f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	history, err := f.store.ListHistory(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRunEnqueuesOnStartAndInterval(t *testing.T) {
	f := newFixture(t, nil)
	f.addList(t, "due", nil, false)
	f.scheduler.SyncInterval = 10 * time.Millisecond
	f.scheduler.DownloadInterval = 10 * time.Millisecond
	f.scheduler.PruneInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.scheduler.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		tasks, err := f.store.ListTasks(context.Background(), store.TaskFilter{Type: models.TaskTypeSync})
		return err == nil && len(tasks) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
