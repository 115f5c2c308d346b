// Package worker implements the job consumption loop.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/papertrawl/papertrawl/internal/job"
	"github.com/papertrawl/papertrawl/internal/scholar"
)

// Worker consumes queued job IDs and hands them to the runner. Search runs
// are long and heavily rate limited, so one worker per process is the normal
// deployment; extra workers only make sense behind distinct proxy circuits.
type Worker struct {
	queue  scholar.Queue
	runner *job.Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue scholar.Queue, runner *job.Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		jobID, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", jobID))
		if err := w.runner.Run(ctx, jobID); err != nil {
			w.logger.Error("job run failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}
