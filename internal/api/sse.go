package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/store"
)

// handleEvents streams state snapshots over SSE. The hub delivers coalesced
// change tokens; each token triggers one fresh fetch of the topic's state, so
// clients always converge on current data no matter how many tokens were
// dropped in between.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = hub.TopicTasks
	}
	fetch, ok := s.fetcherFor(topic)
	if !ok {
		badRequest(w, fmt.Sprintf("unknown topic %q", topic))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.hub.Subscribe(topic)
	defer sub.Close()

	logger := log.WithContext(r.Context(), "api")
	send := func() bool {
		data, err := fetch(r.Context())
		if err != nil {
			logger.Error().Err(err).Str("topic", topic).Msg("fetch stream snapshot")
			return false
		}
		payload, err := json.Marshal(data)
		if err != nil {
			logger.Error().Err(err).Str("topic", topic).Msg("encode stream snapshot")
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	heartbeat := time.NewTicker(s.HeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case _, open := <-sub.C():
			if !open || !send() {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// fetcherFor maps a topic name onto the snapshot loader backing its stream.
func (s *Server) fetcherFor(topic string) (func(context.Context) (any, error), bool) {
	switch topic {
	case hub.TopicTasks:
		return s.fetchTasks, true
	case hub.TopicTaskStats:
		return s.fetchTaskStats, true
	case hub.TopicLists:
		return func(ctx context.Context) (any, error) { return s.store.ListLists(ctx) }, true
	case hub.TopicHistory:
		return func(ctx context.Context) (any, error) { return s.store.ListHistory(ctx, nil, 100, 0) }, true
	case hub.TopicProgress:
		return func(context.Context) (any, error) { return s.tracker.All(), nil }, true
	}

	parts := strings.Split(topic, ":")
	if len(parts) != 3 || parts[0] != "list" {
		return nil, false
	}
	listID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || listID <= 0 {
		return nil, false
	}
	switch parts[2] {
	case "videos":
		return func(ctx context.Context) (any, error) { return s.store.ListVideos(ctx, listID, 100, 0) }, true
	case "history":
		return func(ctx context.Context) (any, error) { return s.store.ListHistory(ctx, &listID, 100, 0) }, true
	case "tasks":
		// Per-list task streams carry the recent task set; clients filter.
		return s.fetchTasks, true
	}
	return nil, false
}

func (s *Server) fetchTasks(ctx context.Context) (any, error) {
	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{Limit: 100})
	if err != nil {
		return nil, err
	}
	names, err := s.store.BatchGetEntityNames(ctx, tasks)
	if err != nil {
		return nil, err
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView{Task: t, EntityName: names[t.ID]})
	}
	return views, nil
}

func (s *Server) fetchTaskStats(ctx context.Context) (any, error) {
	counts, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats := taskStats{Counts: counts, Workers: s.queue.WorkerStats()}
	if stats.WorkerPaused, err = s.store.GetBoolSetting(ctx, models.SettingWorkerPaused); err != nil {
		return nil, err
	}
	if stats.SyncPaused, err = s.store.GetBoolSetting(ctx, models.SettingSyncPaused); err != nil {
		return nil, err
	}
	if stats.DownloadPaused, err = s.store.GetBoolSetting(ctx, models.SettingDownloadPaused); err != nil {
		return nil, err
	}
	return stats, nil
}
