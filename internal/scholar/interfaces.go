package scholar

import (
	"context"
	"time"
)

// Strategy is one interchangeable implementation of "execute a search and
// stream back records". Strategy instances are created per job run and must
// not share mutable state across jobs.
type Strategy interface {
	// Name identifies the strategy in logs and stats.
	Name() string
	// Available reports whether the strategy can be used at all.
	Available() bool
	// Stats returns a snapshot of this instance's success/failure counters.
	Stats() StatsSnapshot
	// Run executes the decomposition starting from cp, emitting incremental
	// results through cb, and returns the new records it collected. Failures
	// are surfaced as *StrategyError; pause/cancel as ErrPaused/ErrCanceled.
	Run(ctx context.Context, spec SearchSpec, cp Checkpoint, cb Callbacks) ([]Record, error)
}

// Rotator requests a new network identity from the anonymizing proxy. A nil
// Rotator disables rotation. Implementations serialize concurrent calls.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// JobStore persists job metadata and checkpoints. Implementations are the
// narrow seam to the external persistence layer; the engine never opens its
// own database connection elsewhere.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, message, errText string) error
	SetStatusMessage(ctx context.Context, jobID, message string) error
	UpdateProgress(ctx context.Context, jobID string, recordsFound int, progress float64) error
	SaveCheckpoint(ctx context.Context, jobID string, cp Checkpoint) error
}

// RecordStore persists extracted records per job.
type RecordStore interface {
	AppendRecords(ctx context.Context, jobID string, records []Record) error
	ListRecords(ctx context.Context, jobID string) ([]Record, error)
}

// Queue provides enqueue/dequeue semantics for job IDs awaiting a worker.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Dequeue(ctx context.Context) (string, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}
