// Package download implements the download task handler: it fetches one video
// through the media backend and records the outcome.
package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/backend"
	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/notify"
	"github.com/fetcharr/fetcharr/internal/progress"
	"github.com/fetcharr/fetcharr/internal/store"
)

// Handler executes download tasks.
type Handler struct {
	store    *store.Store
	hub      *hub.Hub
	backend  backend.MediaBackend
	tracker  *progress.Tracker
	notifier *notify.Multi
	logger   zerolog.Logger
}

// New creates a download handler. notifier may be nil.
func New(st *store.Store, h *hub.Hub, be backend.MediaBackend, tracker *progress.Tracker, notifier *notify.Multi) *Handler {
	return &Handler{
		store:    st,
		hub:      h,
		backend:  be,
		tracker:  tracker,
		notifier: notifier,
		logger:   log.WithComponent("download"),
	}
}

// Execute downloads the video referenced by task. Gone or already-satisfied
// targets complete the task instead of consuming retries.
func (h *Handler) Execute(ctx context.Context, task *models.Task) (string, error) {
	video, err := h.store.GetVideo(ctx, task.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		return "skipped: video deleted", nil
	}
	if err != nil {
		return "", err
	}
	if video.Downloaded {
		return "already downloaded", nil
	}
	if video.Blacklisted {
		return "skipped: blacklisted", nil
	}

	list, err := h.store.GetList(ctx, video.ListID)
	if errors.Is(err, store.ErrNotFound) {
		return "skipped: list deleted", nil
	}
	if err != nil {
		return "", err
	}
	profile, err := h.store.GetProfile(ctx, list.ProfileID)
	if err != nil {
		return "", fmt.Errorf("load profile %d: %w", list.ProfileID, err)
	}

	inner := h.tracker.CreateHook(video.ID)
	hook := func(fields map[string]string) {
		inner(fields)
		h.hub.Publish(hub.TopicProgress)
	}

	path, labels, err := h.backend.Download(ctx, video, profile, hook)
	if err != nil {
		h.tracker.MarkError(video.ID, err.Error())
		if mfErr := h.store.MarkVideoFailed(ctx, video.ID, err.Error()); mfErr != nil {
			h.logger.Error().Err(mfErr).Int64("video", video.ID).Msg("persist download failure")
		}
		h.hub.Publish(hub.TopicProgress, hub.TopicListVideos(list.ID))
		if h.notifier != nil && task.RetryCount >= task.MaxRetries {
			h.notifier.Send(ctx, notify.Event{
				Kind:       notify.EventDownloadFailed,
				ListID:     list.ID,
				ListName:   list.Name,
				VideoTitle: video.Title,
				Detail:     err.Error(),
			})
		}
		return "", fmt.Errorf("download %q: %w", video.Title, err)
	}

	h.tracker.MarkDone(video.ID)
	if err := h.store.MarkVideoDownloaded(ctx, video.ID, path, labels); err != nil {
		return "", err
	}
	if err := h.store.AppendHistory(ctx, &list.ID, "download_completed", video.Title); err != nil {
		h.logger.Error().Err(err).Int64("video", video.ID).Msg("append history")
	}
	h.hub.Publish(
		hub.TopicProgress,
		hub.TopicHistory,
		hub.TopicListVideos(list.ID),
		hub.TopicListHistory(list.ID),
	)
	if h.notifier != nil {
		h.notifier.Send(ctx, notify.Event{
			Kind:       notify.EventDownloadCompleted,
			ListID:     list.ID,
			ListName:   list.Name,
			VideoTitle: video.Title,
			Detail:     path,
		})
	}
	h.logger.Info().
		Int64("video", video.ID).
		Str("title", video.Title).
		Str("path", path).
		Msg("video downloaded")
	return fmt.Sprintf("downloaded to %s", path), nil
}
