// Package scheduler runs the periodic jobs that feed the task queue: cadence
// based list syncs, automatic download enqueueing and retention pruning.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/store"
)

const (
	DefaultSyncInterval     = 30 * time.Minute
	DefaultDownloadInterval = 5 * time.Minute
	DefaultPruneInterval    = 24 * time.Hour

	// DefaultDownloadBatchLimit bounds how many download tasks one pass
	// enqueues, keeping single passes short even on huge backlogs.
	DefaultDownloadBatchLimit = 100
)

// TaskEnqueuer is the queue surface the scheduler feeds.
type TaskEnqueuer interface {
	EnqueueBulk(ctx context.Context, typ models.TaskType, entityIDs []int64, respectSchedule bool) (*store.BulkInsertResult, error)
}

// DownloadGate is consulted before enqueueing automatic downloads.
type DownloadGate interface {
	IsDownloadAllowed(ctx context.Context) (bool, error)
}

// Scheduler owns the recurring background jobs. All state lives in the store;
// the scheduler itself is stateless between ticks.
type Scheduler struct {
	store  *store.Store
	queue  TaskEnqueuer
	gate   DownloadGate
	logger zerolog.Logger

	SyncInterval       time.Duration
	DownloadInterval   time.Duration
	PruneInterval      time.Duration
	DownloadBatchLimit int

	nowFunc func() time.Time
}

// New creates a scheduler with default intervals. gate may be nil.
func New(st *store.Store, q TaskEnqueuer, gate DownloadGate) *Scheduler {
	return &Scheduler{
		store:              st,
		queue:              q,
		gate:               gate,
		logger:             log.WithComponent("scheduler"),
		SyncInterval:       DefaultSyncInterval,
		DownloadInterval:   DefaultDownloadInterval,
		PruneInterval:      DefaultPruneInterval,
		DownloadBatchLimit: DefaultDownloadBatchLimit,
		nowFunc:            time.Now,
	}
}

// Run executes each job once immediately and then on its interval until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.tickSync(ctx)
	s.tickDownloads(ctx)

	syncTicker := time.NewTicker(s.SyncInterval)
	downloadTicker := time.NewTicker(s.DownloadInterval)
	pruneTicker := time.NewTicker(s.PruneInterval)
	defer syncTicker.Stop()
	defer downloadTicker.Stop()
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-syncTicker.C:
			s.tickSync(ctx)
		case <-downloadTicker.C:
			s.tickDownloads(ctx)
		case <-pruneTicker.C:
			if err := s.PruneRetained(ctx); err != nil {
				s.logger.Error().Err(err).Msg("retention prune")
			}
		}
	}
}

func (s *Scheduler) tickSync(ctx context.Context) {
	if n, err := s.SyncDueLists(ctx); err != nil {
		s.logger.Error().Err(err).Msg("enqueue due syncs")
	} else if n > 0 {
		s.logger.Info().Int("count", n).Msg("enqueued due list syncs")
	}
}

func (s *Scheduler) tickDownloads(ctx context.Context) {
	if n, err := s.EnqueuePendingDownloads(ctx); err != nil {
		s.logger.Error().Err(err).Msg("enqueue pending downloads")
	} else if n > 0 {
		s.logger.Info().Int("count", n).Msg("enqueued pending downloads")
	}
}

// SyncDueLists enqueues a sync task for every list whose cadence has elapsed.
// Lists with an active sync task are skipped by the queue's dedup guard.
func (s *Scheduler) SyncDueLists(ctx context.Context) (int, error) {
	due, err := s.store.ListsDueForSync(ctx, s.nowFunc())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(due))
	for i, l := range due {
		ids[i] = l.ID
	}
	res, err := s.queue.EnqueueBulk(ctx, models.TaskTypeSync, ids, false)
	if err != nil {
		return 0, err
	}
	return len(res.Inserted), nil
}

// EnqueuePendingDownloads enqueues download tasks for un-downloaded videos of
// auto-download lists, up to DownloadBatchLimit per pass. Outside the
// download window the pass is a no-op.
func (s *Scheduler) EnqueuePendingDownloads(ctx context.Context) (int, error) {
	if s.gate != nil {
		allowed, err := s.gate.IsDownloadAllowed(ctx)
		if err != nil {
			return 0, err
		}
		if !allowed {
			s.logger.Debug().Str("reason", "schedule").Msg("skipping download pass")
			return 0, nil
		}
	}
	candidates, err := s.store.PendingDownloadCandidates(ctx, s.DownloadBatchLimit)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(candidates))
	for i, v := range candidates {
		ids[i] = v.ID
	}
	res, err := s.queue.EnqueueBulk(ctx, models.TaskTypeDownload, ids, true)
	if err != nil {
		return 0, err
	}
	return len(res.Inserted), nil
}

// PruneRetained deletes terminal tasks and history older than the configured
// retention. An unset, zero or negative retention disables pruning.
func (s *Scheduler) PruneRetained(ctx context.Context) error {
	days, err := s.store.GetIntSetting(ctx, models.SettingDataRetentionDays, 0)
	if err != nil {
		return err
	}
	if days <= 0 {
		return nil
	}
	cutoff := s.nowFunc().AddDate(0, 0, -days)
	tasks, err := s.store.DeleteTerminalTasksBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	history, err := s.store.DeleteHistoryBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if tasks > 0 || history > 0 {
		s.logger.Info().
			Int64("tasks", tasks).
			Int64("history", history).
			Int("retention_days", days).
			Msg("pruned retained records")
	}
	return nil
}
