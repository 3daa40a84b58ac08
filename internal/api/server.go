// Package api exposes the REST and SSE surface of the daemon.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/progress"
	"github.com/fetcharr/fetcharr/internal/queue"
	"github.com/fetcharr/fetcharr/internal/store"
)

// Server bundles the HTTP handlers with their collaborators.
type Server struct {
	store   *store.Store
	queue   *queue.Queue
	hub     *hub.Hub
	tracker *progress.Tracker

	// HeartbeatInterval paces SSE keepalive comments. Tests shrink it.
	HeartbeatInterval time.Duration
}

// New creates the API server.
func New(st *store.Store, q *queue.Queue, h *hub.Hub, tracker *progress.Tracker) *Server {
	return &Server{
		store:             st,
		queue:             q,
		hub:               h,
		tracker:           tracker,
		HeartbeatInterval: 15 * time.Second,
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.handleListProfiles)
			r.Post("/", s.handleCreateProfile)
			r.Get("/{id}", s.handleGetProfile)
			r.Put("/{id}", s.handleUpdateProfile)
			r.Delete("/{id}", s.handleDeleteProfile)
		})

		r.Route("/lists", func(r chi.Router) {
			r.Get("/", s.handleListLists)
			r.Post("/", s.handleCreateList)
			r.Get("/{id}", s.handleGetList)
			r.Put("/{id}", s.handleUpdateList)
			r.Delete("/{id}", s.handleDeleteList)
			r.Post("/{id}/sync", s.handleSyncList)
			r.Get("/{id}/videos", s.handleListVideos)
			r.Get("/{id}/history", s.handleListHistory)
		})

		r.Route("/videos", func(r chi.Router) {
			r.Post("/download", s.handleDownloadVideos)
			r.Get("/{id}", s.handleGetVideo)
			r.Post("/{id}/download", s.handleDownloadVideo)
			r.Post("/{id}/reset", s.handleResetVideo)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Get("/stats", s.handleTaskStats)
			r.Post("/pause", s.handlePauseScope)
			r.Post("/resume", s.handleResumeScope)
			r.Get("/{id}", s.handleGetTask)
			r.Get("/{id}/logs", s.handleTaskLogs)
			r.Post("/{id}/cancel", s.taskAction(s.queue.Cancel))
			r.Post("/{id}/pause", s.taskAction(s.queue.Pause))
			r.Post("/{id}/resume", s.taskAction(s.queue.Resume))
			r.Post("/{id}/retry", s.taskAction(s.queue.Retry))
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Get("/{id}", s.handleGetSchedule)
			r.Put("/{id}", s.handleUpdateSchedule)
			r.Delete("/{id}", s.handleDeleteSchedule)
		})

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings/{key}", s.handlePutSetting)
		r.Get("/history", s.handleHistory)
		r.Get("/progress", s.handleProgress)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestID assigns every request a UUID, exposed in the response header and
// the request context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger := log.WithContext(r.Context(), "api")
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
