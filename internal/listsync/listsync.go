// Package listsync implements the sync task handler: it enumerates a
// monitored list through the media backend and records newly found videos.
package listsync

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/backend"
	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/notify"
	"github.com/fetcharr/fetcharr/internal/store"
)

// Handler executes sync tasks. Safe for concurrent use; inserts for one sync
// run are serialised through an internal mutex because the backend may invoke
// the discovery callback from multiple goroutines.
type Handler struct {
	store    *store.Store
	hub      *hub.Hub
	backend  backend.MediaBackend
	notifier *notify.Multi
	logger   zerolog.Logger
}

// New creates a sync handler. notifier may be nil.
func New(st *store.Store, h *hub.Hub, be backend.MediaBackend, notifier *notify.Multi) *Handler {
	return &Handler{
		store:    st,
		hub:      h,
		backend:  be,
		notifier: notifier,
		logger:   log.WithComponent("listsync"),
	}
}

// Execute synchronises the list referenced by task. A missing or soft-deleted
// list completes the task rather than burning retries on a gone entity.
func (h *Handler) Execute(ctx context.Context, task *models.Task) (string, error) {
	list, err := h.store.GetList(ctx, task.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		return "skipped: list deleted", nil
	}
	if err != nil {
		return "", err
	}
	if list.Deleting {
		return "skipped: list is being removed", nil
	}
	profile, err := h.store.GetProfile(ctx, list.ProfileID)
	if err != nil {
		return "", fmt.Errorf("load profile %d: %w", list.ProfileID, err)
	}

	var titleRe *regexp.Regexp
	if list.TitleBlacklist != "" {
		re, reErr := regexp.Compile("(?i)" + list.TitleBlacklist)
		if reErr != nil {
			h.logger.Warn().Err(reErr).
				Int64("list", list.ID).
				Str("pattern", list.TitleBlacklist).
				Msg("invalid title blacklist, ignoring")
		} else {
			titleRe = re
		}
	}

	existing, err := h.store.ExistingExternalIDs(ctx, list.ID)
	if err != nil {
		return "", err
	}

	var (
		mu       sync.Mutex
		inserted int
		skipped  int
	)
	onVideo := func(v backend.VideoData) {
		if v.MediaType == models.MediaTypeShort && !profile.IncludeShorts {
			return
		}
		if v.MediaType == models.MediaTypeLive && !profile.IncludeLive {
			return
		}
		reasons := blacklistReasons(list, titleRe, v)

		video := &models.Video{
			ListID:      list.ID,
			ExternalID:  v.VideoID,
			Title:       v.Title,
			URL:         v.URL,
			Duration:    v.Duration,
			UploadDate:  v.UploadDate,
			Thumbnail:   v.Thumbnail,
			MediaType:   v.MediaType,
			Blacklisted: len(reasons) > 0,
		}
		if len(reasons) > 0 {
			video.ErrorMessage = strings.Join(reasons, "; ")
			video.Labels = map[string]string{"blacklist_reason": video.ErrorMessage}
		}

		mu.Lock()
		defer mu.Unlock()
		stored, insErr := h.store.InsertVideo(ctx, video)
		if errors.Is(insErr, store.ErrConflict) {
			skipped++
			return
		}
		if insErr != nil {
			h.logger.Error().Err(insErr).
				Int64("list", list.ID).
				Str("external_id", v.VideoID).
				Msg("persist discovered video")
			return
		}
		inserted++
		if !stored.Blacklisted && h.notifier != nil {
			h.notifier.Send(ctx, notify.Event{
				Kind:       notify.EventVideoDiscovered,
				ListID:     list.ID,
				ListName:   list.Name,
				VideoTitle: stored.Title,
			})
		}
	}

	total, err := h.backend.ExtractVideos(ctx, syncURL(list, profile), list.FromDate, onVideo, existing)
	if err != nil {
		return "", fmt.Errorf("sync list %q: %w", list.Name, err)
	}

	if err := h.store.TouchListSynced(ctx, list.ID, time.Now()); err != nil {
		return "", err
	}
	if awErr := h.backend.EnsureListArtwork(ctx, list.Name, list.URL); awErr != nil {
		h.logger.Warn().Err(awErr).Int64("list", list.ID).Msg("fetch list artwork")
	}

	detail := fmt.Sprintf("%d entries, %d new", total, inserted)
	if err := h.store.AppendHistory(ctx, &list.ID, "sync_completed", detail); err != nil {
		h.logger.Error().Err(err).Int64("list", list.ID).Msg("append history")
	}
	h.hub.Publish(
		hub.TopicLists,
		hub.TopicHistory,
		hub.TopicListVideos(list.ID),
		hub.TopicListHistory(list.ID),
	)
	if h.notifier != nil && inserted > 0 {
		h.notifier.Send(ctx, notify.Event{
			Kind:     notify.EventSyncCompleted,
			ListID:   list.ID,
			ListName: list.Name,
			Detail:   detail,
		})
	}
	h.logger.Info().
		Int64("list", list.ID).
		Int("total", total).
		Int("new", inserted).
		Int("known", skipped).
		Msg("list synchronised")
	return detail, nil
}

// blacklistReasons evaluates the per-list filters against one discovered
// entry. Duration bounds are skipped when the source reported no duration.
func blacklistReasons(list *models.List, titleRe *regexp.Regexp, v backend.VideoData) []string {
	var reasons []string
	if titleRe != nil && titleRe.MatchString(v.Title) {
		reasons = append(reasons, fmt.Sprintf("title matches %q", list.TitleBlacklist))
	}
	if v.Duration > 0 {
		if list.MinDuration > 0 && v.Duration < list.MinDuration {
			reasons = append(reasons, fmt.Sprintf("duration %ds below minimum %ds", v.Duration, list.MinDuration))
		}
		if list.MaxDuration > 0 && v.Duration > list.MaxDuration {
			reasons = append(reasons, fmt.Sprintf("duration %ds above maximum %ds", v.Duration, list.MaxDuration))
		}
	}
	return reasons
}

// syncURL picks the enumeration URL. Channel pages on YouTube hosts list the
// videos tab directly when the profile excludes shorts, so the extractor
// never walks the shorts tab at all.
func syncURL(list *models.List, profile *models.Profile) string {
	if list.Type != models.ListTypeChannel || profile.IncludeShorts {
		return list.URL
	}
	u := strings.TrimRight(list.URL, "/")
	if !strings.Contains(strings.ToLower(u), "youtube.com") {
		return list.URL
	}
	for _, tab := range []string{"/videos", "/shorts", "/streams", "/playlists"} {
		if strings.HasSuffix(u, tab) {
			return list.URL
		}
	}
	return u + "/videos"
}
