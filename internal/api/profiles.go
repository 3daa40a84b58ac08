package api

import (
	"net/http"

	"github.com/fetcharr/fetcharr/internal/models"
)

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if profiles == nil {
		profiles = []*models.Profile{}
	}
	respondJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var p models.Profile
	if err := decodeJSON(r, &p); err != nil {
		badRequest(w, "invalid profile payload: "+err.Error())
		return
	}
	if p.Name == "" {
		badRequest(w, "profile name is required")
		return
	}
	created, err := s.store.CreateProfile(r.Context(), &p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid profile id")
		return
	}
	p, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid profile id")
		return
	}
	var p models.Profile
	if err := decodeJSON(r, &p); err != nil {
		badRequest(w, "invalid profile payload: "+err.Error())
		return
	}
	p.ID = id
	updated, err := s.store.UpdateProfile(r.Context(), &p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid profile id")
		return
	}
	if err := s.store.DeleteProfile(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
