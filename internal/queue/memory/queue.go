// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Queue is a bounded in-memory job queue with context-aware operations.
type Queue struct {
	ch      chan string
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan string, capacity),
	}
}

// Enqueue pushes a job ID into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- jobID:
		return nil
	}
}

// Dequeue pops the next job ID, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case jobID, ok := <-q.ch:
		if !ok {
			return "", errors.New("queue closed")
		}
		return jobID, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
