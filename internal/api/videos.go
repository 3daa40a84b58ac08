package api

import (
	"errors"
	"net/http"

	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/store"
)

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid video id")
		return
	}
	v, err := s.store.GetVideo(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleDownloadVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid video id")
		return
	}
	v, err := s.store.GetVideo(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if v.Downloaded {
		badRequest(w, "video is already downloaded")
		return
	}
	task, err := s.queue.Enqueue(r.Context(), models.TaskTypeDownload, id)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			respondJSON(w, http.StatusOK, task)
			return
		}
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

// handleDownloadVideos enqueues download tasks for a batch of videos. Videos
// with an active download task count as skipped.
func (s *Server) handleDownloadVideos(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VideoIDs []int64 `json:"video_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if len(req.VideoIDs) == 0 {
		badRequest(w, "video_ids must not be empty")
		return
	}
	res, err := s.queue.EnqueueBulk(r.Context(), models.TaskTypeDownload, req.VideoIDs, false)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{
		"queued":  len(res.Inserted),
		"skipped": len(res.Skipped),
	})
}

func (s *Server) handleResetVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid video id")
		return
	}
	if err := s.store.ResetVideoError(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	if v, err := s.store.GetVideo(r.Context(), id); err == nil {
		s.hub.Publish(hub.TopicListVideos(v.ListID))
	}
	w.WriteHeader(http.StatusNoContent)
}
