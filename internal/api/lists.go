package api

import (
	"errors"
	"net/http"

	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/store"
)

func (s *Server) handleListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.store.ListLists(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if lists == nil {
		lists = []*models.List{}
	}
	respondJSON(w, http.StatusOK, lists)
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var l models.List
	if err := decodeJSON(r, &l); err != nil {
		badRequest(w, "invalid list payload: "+err.Error())
		return
	}
	if l.URL == "" || l.Name == "" {
		badRequest(w, "list name and url are required")
		return
	}
	if l.Type != models.ListTypeChannel && l.Type != models.ListTypePlaylist {
		badRequest(w, "list_type must be channel or playlist")
		return
	}
	if l.Cadence == "" {
		l.Cadence = models.CadenceDaily
	}
	created, err := s.store.CreateList(r.Context(), &l)
	if err != nil {
		respondError(w, r, err)
		return
	}
	// New lists get an immediate first sync.
	if _, err := s.queue.Enqueue(r.Context(), models.TaskTypeSync, created.ID); err != nil && !errors.Is(err, store.ErrConflict) {
		logger := log.WithContext(r.Context(), "api")
		logger.Error().Err(err).Int64("list", created.ID).Msg("enqueue initial sync")
	}
	s.hub.Publish(hub.TopicLists)
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid list id")
		return
	}
	l, err := s.store.GetList(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (s *Server) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid list id")
		return
	}
	var l models.List
	if err := decodeJSON(r, &l); err != nil {
		badRequest(w, "invalid list payload: "+err.Error())
		return
	}
	l.ID = id
	updated, err := s.store.UpdateList(r.Context(), &l)
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.hub.Publish(hub.TopicLists)
	respondJSON(w, http.StatusOK, updated)
}

// handleDeleteList soft-marks the list first so nothing re-enqueues work for
// it, then removes the row together with its videos.
func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid list id")
		return
	}
	ctx := r.Context()
	if err := s.store.MarkListDeleting(ctx, id); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.store.DeleteList(ctx, id); err != nil {
		respondError(w, r, err)
		return
	}
	s.hub.Publish(hub.TopicLists, hub.TopicListVideos(id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid list id")
		return
	}
	if _, err := s.store.GetList(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	task, err := s.queue.Enqueue(r.Context(), models.TaskTypeSync, id)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// A sync is already queued or running; report it.
			respondJSON(w, http.StatusOK, task)
			return
		}
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid list id")
		return
	}
	videos, err := s.store.ListVideos(r.Context(), id, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if videos == nil {
		videos = []*models.Video{}
	}
	respondJSON(w, http.StatusOK, videos)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid list id")
		return
	}
	entries, err := s.store.ListHistory(r.Context(), &id, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}
