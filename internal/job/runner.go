// Package job executes search jobs: it loads job state, wires persistence
// callbacks into a search run, and maps run outcomes back to job statuses.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papertrawl/papertrawl/internal/metrics"
	"github.com/papertrawl/papertrawl/internal/scholar"
)

// Searcher executes one search, resuming from the checkpoint returned by
// latest before each internal attempt.
type Searcher interface {
	Search(ctx context.Context, spec scholar.SearchSpec, latest func() scholar.Checkpoint, cb scholar.Callbacks) ([]scholar.Record, error)
}

// SearcherFactory builds a fresh Searcher for one job run. Strategy state
// (rotation counters, browser processes) must never be shared across jobs.
type SearcherFactory func(jobID string) Searcher

// Runner drives job execution and owns the pause/cancel registry.
type Runner struct {
	jobs      scholar.JobStore
	records   scholar.RecordStore
	searchers SearcherFactory
	clock     scholar.Clock
	logger    *zap.Logger

	controls sync.Map // jobID -> *Control
}

// NewRunner constructs a Runner.
func NewRunner(jobs scholar.JobStore, records scholar.RecordStore, searchers SearcherFactory, clock scholar.Clock, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		jobs:      jobs,
		records:   records,
		searchers: searchers,
		clock:     clock,
		logger:    logger,
	}
}

// Run executes the job until it completes, pauses, cancels, or fails. The
// job must be in a resumable status; completed and canceled jobs are
// permanently finished.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	jb, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !jb.Status.Resumable() {
		return fmt.Errorf("job %s is %s, not runnable", jobID, jb.Status)
	}

	ctrl := &Control{}
	if _, running := r.controls.LoadOrStore(jobID, ctrl); running {
		return fmt.Errorf("job %s is already running", jobID)
	}
	defer r.controls.Delete(jobID)
	started := r.clock.Now()

	if err := r.jobs.UpdateJobStatus(ctx, jobID, scholar.JobStatusRunning, "started", ""); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	metrics.ObserveJob(string(scholar.JobStatusRunning))
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	r.logger.Info("job started",
		zap.String("job_id", jobID),
		zap.Int("resume_count", jb.Checkpoint.Count),
		zap.Int("retry_count", jb.RetryCount),
	)

	var mu sync.Mutex
	cp := jb.Checkpoint
	latest := func() scholar.Checkpoint {
		mu.Lock()
		defer mu.Unlock()
		return cp
	}

	cb := scholar.Callbacks{
		Records: func(recs []scholar.Record) {
			if len(recs) == 0 {
				return
			}
			if err := r.records.AppendRecords(ctx, jobID, recs); err != nil {
				r.logger.Error("append records failed", zap.String("job_id", jobID), zap.Error(err))
				return
			}
			metrics.AddRecords(len(recs))
		},
		Checkpoint: func(next scholar.Checkpoint) {
			mu.Lock()
			cp = next
			mu.Unlock()
			if err := r.jobs.SaveCheckpoint(ctx, jobID, next); err != nil {
				r.logger.Error("save checkpoint failed", zap.String("job_id", jobID), zap.Error(err))
			}
		},
		Progress: func(current, estimated int) {
			if err := r.jobs.UpdateProgress(ctx, jobID, current, progressPercent(current, estimated)); err != nil {
				r.logger.Warn("update progress failed", zap.String("job_id", jobID), zap.Error(err))
			}
		},
		Status: func(msg string) {
			if err := r.jobs.SetStatusMessage(ctx, jobID, msg); err != nil {
				r.logger.Warn("set status message failed", zap.String("job_id", jobID), zap.Error(err))
			}
		},
		Interrupt: ctrl.Interrupt,
	}

	_, runErr := r.searchers(jobID).Search(ctx, jb.Spec, latest, cb)
	return r.finish(ctx, jobID, latest(), runErr, r.clock.Now().Sub(started))
}

// finish persists the terminal (or resumable) status for the run. It uses a
// detached context so a shutdown that canceled the run cannot also prevent
// recording it.
func (r *Runner) finish(ctx context.Context, jobID string, cp scholar.Checkpoint, runErr error, elapsed time.Duration) error {
	persistCtx := context.WithoutCancel(ctx)

	var (
		status  scholar.JobStatus
		message string
		errText string
	)
	switch {
	case runErr == nil:
		status, message = scholar.JobStatusCompleted, fmt.Sprintf("completed with %d records", cp.Count)
	case errors.Is(runErr, scholar.ErrCanceled):
		status, message = scholar.JobStatusCanceled, "canceled by request"
	case errors.Is(runErr, scholar.ErrPaused):
		status, message = scholar.JobStatusPaused, "paused by request"
	case ctx.Err() != nil:
		// Shutdown is a pause, not a failure: the checkpoint lets a later
		// worker pick the job back up.
		status, message = scholar.JobStatusPaused, "interrupted by shutdown"
	default:
		status, message, errText = scholar.JobStatusFailed, "all strategies failed", runErr.Error()
	}

	if err := r.jobs.UpdateJobStatus(persistCtx, jobID, status, message, errText); err != nil {
		r.logger.Error("final job status update failed",
			zap.String("job_id", jobID), zap.String("status", string(status)), zap.Error(err))
		return fmt.Errorf("persist final status: %w", err)
	}
	if status == scholar.JobStatusCompleted {
		if err := r.jobs.UpdateProgress(persistCtx, jobID, cp.Count, 100); err != nil {
			r.logger.Warn("final progress update failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	metrics.ObserveJob(string(status))
	r.logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Int("records", cp.Count),
		zap.Duration("elapsed", elapsed),
	)

	if status == scholar.JobStatusFailed {
		return fmt.Errorf("job %s failed: %w", jobID, runErr)
	}
	return nil
}

// Pause requests a pause for a running job. It reports false when the job is
// not currently executing on this runner.
func (r *Runner) Pause(jobID string) bool {
	v, ok := r.controls.Load(jobID)
	if !ok {
		return false
	}
	v.(*Control).Pause()
	return true
}

// Cancel requests cancellation for a running job. It reports false when the
// job is not currently executing on this runner.
func (r *Runner) Cancel(jobID string) bool {
	v, ok := r.controls.Load(jobID)
	if !ok {
		return false
	}
	v.(*Control).Cancel()
	return true
}

// Running reports whether the job is currently executing on this runner.
func (r *Runner) Running(jobID string) bool {
	_, ok := r.controls.Load(jobID)
	return ok
}

func progressPercent(current, estimated int) float64 {
	if estimated <= 0 {
		return 0
	}
	pct := float64(current) / float64(estimated) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
