// Package api exposes the HTTP interface for the extraction service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/papertrawl/papertrawl/internal/metrics"
	"github.com/papertrawl/papertrawl/internal/scholar"
)

// JobController delivers pause/cancel requests to jobs executing in this
// process. The boolean reports whether the job was actually running here.
type JobController interface {
	Pause(jobID string) bool
	Cancel(jobID string) bool
}

// IDGenerator mints job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the stores, queue, and job controller.
type Server struct {
	router     chi.Router
	jobs       scholar.JobStore
	records    scholar.RecordStore
	queue      scholar.Queue
	controller JobController
	idGen      IDGenerator
	clock      scholar.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs scholar.JobStore,
	records scholar.RecordStore,
	queue scholar.Queue,
	controller JobController,
	idGen IDGenerator,
	clock scholar.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:       jobs,
		records:    records,
		queue:      queue,
		controller: controller,
		idGen:      idGen,
		clock:      clock,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/records", s.getJobRecords)
				r.Post("/pause", s.pauseJob)
				r.Post("/resume", s.resumeJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.jobs.ListJobs(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Name         string   `json:"name"`
	IncludeTerms []string `json:"include_terms"`
	ExcludeTerms []string `json:"exclude_terms"`
	StartYear    int      `json:"start_year"`
	EndYear      int      `json:"end_year"`
	MaxResults   int      `json:"max_results"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	spec := scholar.SearchSpec{
		IncludeTerms: req.IncludeTerms,
		ExcludeTerms: req.ExcludeTerms,
		StartYear:    req.StartYear,
		EndYear:      req.EndYear,
		MaxResults:   req.MaxResults,
	}
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), req.Name, spec)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(scholar.JobStatusPending)})
}

func (s *Server) enqueueJob(ctx context.Context, name string, spec scholar.SearchSpec) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := scholar.Job{
		ID:        jobID,
		Name:      name,
		Spec:      spec,
		Status:    scholar.JobStatusPending,
		Submitted: s.clock.Now(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, jobID); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	metrics.ObserveJob(string(scholar.JobStatusPending))
	return jobID, nil
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []scholar.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobRecords(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	records, err := s.records.ListRecords(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job records")
		return
	}
	if records == nil {
		records = []scholar.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"count":   len(records),
		"records": records,
	})
}

// pauseJob requests a cooperative pause. The pause lands at the next page
// boundary; until then the job still reports running.
func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != scholar.JobStatusRunning || !s.controller.Pause(jobID) {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, not running", job.Status))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "pause requested"})
}

// resumeJob re-enqueues a paused, failed, or still-pending job. The worker
// picks it up from its last checkpoint.
func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !job.Status.Resumable() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, not resumable", job.Status))
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, jobID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "resume requested"})
}

// cancelJob cancels a job. A running job is interrupted at the next page
// boundary; a queued or paused job is canceled directly in the store.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}
	if s.controller.Cancel(jobID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancel requested"})
		return
	}
	if err := s.jobs.UpdateJobStatus(r.Context(), jobID, scholar.JobStatusCanceled, "canceled via API", ""); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	metrics.ObserveJob(string(scholar.JobStatusCanceled))
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(scholar.JobStatusCanceled)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
