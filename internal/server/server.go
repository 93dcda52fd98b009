// Package server exposes the operational HTTP API: job control, the task
// ranking, overrides and overview inspection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/northhollow/keel/internal/db"
	"github.com/northhollow/keel/internal/scheduler"
	"github.com/northhollow/keel/internal/webhooks"
)

const shutdownGrace = 5 * time.Second

// Server is the ops API server
type Server struct {
	store   *db.Store
	sched   *scheduler.Scheduler
	hooks   *webhooks.Manager
	httpSrv *http.Server
}

// New creates a server listening on addr
func New(addr string, store *db.Store, sched *scheduler.Scheduler, hooks *webhooks.Manager) *Server {
	s := &Server{store: store, sched: sched, hooks: hooks}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs/{name}/trigger", s.handleTriggerJob)
	mux.HandleFunc("PUT /api/jobs/{name}/interval", s.handleSetInterval)
	mux.HandleFunc("GET /api/ranking", s.handleRanking)
	mux.HandleFunc("PUT /api/tasks/{id}/override", s.handleSetOverride)
	mux.HandleFunc("DELETE /api/tasks/{id}/override", s.handleClearOverride)
	mux.HandleFunc("GET /api/goals/{id}/overview", s.handleGetOverview)
	mux.HandleFunc("GET /api/webhooks/history", s.handleWebhookHistory)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           logging(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpSrv.Addr).Msg("ops API listening")
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, allowing in-flight requests a short grace period
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.sched.TriggerNow(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "triggered"})
}

func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var body struct {
		Interval string `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	interval, err := time.ParseDuration(body.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid interval %q: %w", body.Interval, err))
		return
	}

	if err := s.sched.SetInterval(name, interval); err != nil {
		var unknown scheduler.ErrUnknownJob
		if errors.As(err, &unknown) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "interval": interval.String()})
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListRanking(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Priority *float64 `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Priority == nil {
		writeError(w, http.StatusBadRequest, errors.New("body must carry a priority value"))
		return
	}
	if *body.Priority < 0 || *body.Priority > 10 {
		writeError(w, http.StatusBadRequest, errors.New("priority must be between 0 and 10"))
		return
	}

	if err := s.store.SetTaskOverride(r.Context(), id, *body.Priority); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": id, "priority": *body.Priority, "overridden": true})
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.ClearTaskOverride(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": id, "overridden": false})
}

func (s *Server) handleGetOverview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ov, err := s.store.GetStatusOverview(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleWebhookHistory(w http.ResponseWriter, r *http.Request) {
	if s.hooks == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.hooks.History(50))
}

// logging wraps the mux with a per-request zerolog line
func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", rec.status).Dur("elapsed", time.Since(start)).Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
