package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/models"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.AllSettings(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

type settingPayload struct {
	Value string `json:"value"`
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		badRequest(w, "setting key is required")
		return
	}
	var p settingPayload
	if err := decodeJSON(r, &p); err != nil {
		badRequest(w, "invalid setting payload: "+err.Error())
		return
	}
	if err := s.store.SetSetting(r.Context(), key, p.Value); err != nil {
		respondError(w, r, err)
		return
	}
	// Pause flags change dispatch behaviour immediately.
	switch key {
	case models.SettingWorkerPaused, models.SettingSyncPaused, models.SettingDownloadPaused:
		s.queue.Notify()
		s.hub.Publish(hub.TopicTaskStats)
	}
	respondJSON(w, http.StatusOK, map[string]string{key: p.Value})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListHistory(r.Context(), nil, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.tracker.All())
}
