package api

import (
	"fmt"
	"net/http"

	"github.com/fetcharr/fetcharr/internal/models"
)

var validDays = map[models.Weekday]bool{
	models.Monday: true, models.Tuesday: true, models.Wednesday: true,
	models.Thursday: true, models.Friday: true, models.Saturday: true,
	models.Sunday: true,
}

func validateSchedule(d *models.DownloadSchedule) error {
	if d.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if len(d.Days) == 0 {
		return fmt.Errorf("schedule needs at least one day")
	}
	for _, day := range d.Days {
		if !validDays[day] {
			return fmt.Errorf("unknown day %q", day)
		}
	}
	for _, clock := range []string{d.StartTime, d.EndTime} {
		var h, m int
		if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return fmt.Errorf("invalid time %q, expected HH:MM", clock)
		}
	}
	return nil
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules(r.Context(), false)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if schedules == nil {
		schedules = []*models.DownloadSchedule{}
	}
	respondJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var d models.DownloadSchedule
	if err := decodeJSON(r, &d); err != nil {
		badRequest(w, "invalid schedule payload: "+err.Error())
		return
	}
	if err := validateSchedule(&d); err != nil {
		badRequest(w, err.Error())
		return
	}
	created, err := s.store.CreateSchedule(r.Context(), &d)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid schedule id")
		return
	}
	d, err := s.store.GetSchedule(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid schedule id")
		return
	}
	var d models.DownloadSchedule
	if err := decodeJSON(r, &d); err != nil {
		badRequest(w, "invalid schedule payload: "+err.Error())
		return
	}
	if err := validateSchedule(&d); err != nil {
		badRequest(w, err.Error())
		return
	}
	d.ID = id
	updated, err := s.store.UpdateSchedule(r.Context(), &d)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid schedule id")
		return
	}
	if err := s.store.DeleteSchedule(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
