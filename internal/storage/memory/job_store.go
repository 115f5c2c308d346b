// Package memory provides in-memory persistence for development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/papertrawl/papertrawl/internal/scholar"
)

// ErrNotFound is returned when a job ID is unknown to the store.
var ErrNotFound = errors.New("job not found")

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scholar.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]scholar.Job),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job scholar.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scholar.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scholar.Job{}, ErrNotFound
	}
	return job, nil
}

// ListJobs returns all jobs, newest submission first.
func (s *JobStore) ListJobs(_ context.Context) ([]scholar.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scholar.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out, nil
}

// UpdateJobStatus updates the status of a job and maintains its start and
// finish timestamps. Terminal jobs never leave their status.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status scholar.JobStatus, message, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return errors.New("job already finished")
	}
	job.Status = status
	job.StatusMessage = message
	job.ErrorText = errText
	now := time.Now().UTC()
	if status == scholar.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	if status == scholar.JobStatusFailed {
		job.RetryCount++
	}
	s.jobs[jobID] = job
	return nil
}

// SetStatusMessage updates only the free-text progress message.
func (s *JobStore) SetStatusMessage(_ context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.StatusMessage = message
	s.jobs[jobID] = job
	return nil
}

// UpdateProgress stores the record count and completion percentage.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, recordsFound int, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.RecordsFound = recordsFound
	job.Progress = progress
	s.jobs[jobID] = job
	return nil
}

// SaveCheckpoint stores the resumable cursor for a job.
func (s *JobStore) SaveCheckpoint(_ context.Context, jobID string, cp scholar.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Checkpoint = cp
	s.jobs[jobID] = job
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

var _ scholar.JobStore = (*JobStore)(nil)
