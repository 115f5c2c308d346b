package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/papertrawl/papertrawl/internal/job"
	qmemory "github.com/papertrawl/papertrawl/internal/queue/memory"
	"github.com/papertrawl/papertrawl/internal/scholar"
	"github.com/papertrawl/papertrawl/internal/storage/memory"
)

type stubClock struct{}

func (stubClock) Now() time.Time { return time.Now() }

type stubSearcher struct {
	records []scholar.Record
}

func (s *stubSearcher) Search(_ context.Context, _ scholar.SearchSpec, _ func() scholar.Checkpoint, cb scholar.Callbacks) ([]scholar.Record, error) {
	cb.EmitRecords(s.records)
	cb.EmitCheckpoint(scholar.Checkpoint{Count: len(s.records)})
	return s.records, nil
}

func TestWorker_Run_ProcessesQueuedJobs(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	records := memory.NewRecordStore()
	queue := qmemory.NewQueue(4)
	searcher := &stubSearcher{records: []scholar.Record{{Title: "a"}}}
	runner := job.NewRunner(jobs, records, func(string) job.Searcher { return searcher }, stubClock{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"j1", "j2"} {
		require.NoError(t, jobs.CreateJob(ctx, scholar.Job{
			ID:        id,
			Spec:      scholar.SearchSpec{IncludeTerms: []string{"q"}},
			Status:    scholar.JobStatusPending,
			Submitted: time.Now(),
		}))
		require.NoError(t, queue.Enqueue(ctx, id))
	}

	w := New(queue, runner, nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, id := range []string{"j1", "j2"} {
			jb, err := jobs.GetJob(context.Background(), id)
			if err != nil || jb.Status != scholar.JobStatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

func TestWorker_Run_StopsImmediatelyWhenCanceled(t *testing.T) {
	t.Parallel()

	queue := qmemory.NewQueue(1)
	runner := job.NewRunner(memory.NewJobStore(), memory.NewRecordStore(), func(string) job.Searcher { return &stubSearcher{} }, stubClock{}, nil)
	w := New(queue, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
	}
}
