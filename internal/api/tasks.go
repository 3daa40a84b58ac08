package api

import (
	"context"
	"net/http"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/queue"
	"github.com/fetcharr/fetcharr/internal/store"
)

// taskView decorates a task with its entity's display name.
type taskView struct {
	*models.Task
	EntityName string `json:"entity_name,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f := store.TaskFilter{
		Type:   models.TaskType(r.URL.Query().Get("type")),
		Status: models.TaskStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	tasks, err := s.store.ListTasks(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	names, err := s.store.BatchGetEntityNames(r.Context(), tasks)
	if err != nil {
		respondError(w, r, err)
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView{Task: t, EntityName: names[t.ID]})
	}
	respondJSON(w, http.StatusOK, views)
}

type taskStats struct {
	Counts         map[models.TaskStatus]int            `json:"counts"`
	Workers        map[models.TaskType]queue.WorkerStat `json:"workers"`
	WorkerPaused   bool                                 `json:"worker_paused"`
	SyncPaused     bool                                 `json:"sync_paused"`
	DownloadPaused bool                                 `json:"download_paused"`
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.fetchTaskStats(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid task id")
		return
	}
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid task id")
		return
	}
	if _, err := s.store.GetTask(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	logs, err := s.store.ListTaskLogs(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*models.TaskLog{}
	}
	respondJSON(w, http.StatusOK, logs)
}

// taskAction adapts a queue lifecycle operation into a handler.
func (s *Server) taskAction(op func(context.Context, int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			badRequest(w, "invalid task id")
			return
		}
		if err := op(r.Context(), id); err != nil {
			respondError(w, r, err)
			return
		}
		t, err := s.store.GetTask(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, t)
	}
}

func scopeFromQuery(r *http.Request) (queue.Scope, bool) {
	switch scope := queue.Scope(r.URL.Query().Get("scope")); scope {
	case queue.ScopeSync, queue.ScopeDownload:
		return scope, true
	case queue.ScopeAll, "":
		return queue.ScopeAll, true
	default:
		return "", false
	}
}

func (s *Server) handlePauseScope(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(r)
	if !ok {
		badRequest(w, "scope must be all, sync or download")
		return
	}
	if err := s.queue.PauseScope(r.Context(), scope); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"paused": string(scope)})
}

func (s *Server) handleResumeScope(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(r)
	if !ok {
		badRequest(w, "scope must be all, sync or download")
		return
	}
	if err := s.queue.ResumeScope(r.Context(), scope); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"resumed": string(scope)})
}
