package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero-crawl/internal/broadcaster"
	"github.com/ternarybob/quaero-crawl/internal/common"
	"github.com/ternarybob/quaero-crawl/internal/coordinator"
	"github.com/ternarybob/quaero-crawl/internal/models"
)

// apiServer exposes the minimal control surface spec §6 implies a
// coordinator needs: submit/status/cancel/pause/resume/health plus the
// dashboard WebSocket. Non-goals exclude a full REST/auth surface, so
// this stays a single small file rather than the teacher's internal/server
// package, but keeps the teacher's net/http.ServeMux + method-routing idiom.
type apiServer struct {
	coord  *coordinator.Coordinator
	bc     *broadcaster.Broadcaster
	logger arbor.ILogger
	srv    *http.Server
}

func newAPIServer(cfg *common.Config, coord *coordinator.Coordinator, bc *broadcaster.Broadcaster, logger arbor.ILogger) *apiServer {
	a := &apiServer{coord: coord, bc: bc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /ws", bc.HandleWebSocket)
	mux.HandleFunc("POST /jobs", a.handleSubmit)
	mux.HandleFunc("GET /jobs/{id}", a.handleStatus)
	mux.HandleFunc("POST /jobs/{id}/cancel", a.handleCancel)
	mux.HandleFunc("POST /control/pause", a.handlePause)
	mux.HandleFunc("POST /control/resume", a.handleResume)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return a
}

func (a *apiServer) Start() error {
	a.logger.Info().Str("address", a.srv.Addr).Msg("coordinator HTTP server starting")
	if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("coordinator server failed: %w", err)
	}
	return nil
}

func (a *apiServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := a.coord.Health(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var job models.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("decode job: %w", err))
		return
	}
	if job.ID == "" {
		job.ID = common.NewJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	jobID, err := a.coord.Submit(r.Context(), &job)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (a *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.coord.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, http.StatusNotFound, err)
		return
	}
	a.writeJSON(w, http.StatusOK, job)
}

func (a *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	ok, err := a.coord.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (a *apiServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := a.coord.PauseProcessing(r.Context()); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := a.coord.ResumeProcessing(r.Context()); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (a *apiServer) writeError(w http.ResponseWriter, status int, err error) {
	a.bc.BroadcastError(err.Error())
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}
