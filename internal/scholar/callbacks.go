package scholar

import "sync"

// Interrupt is the cooperative signal polled between pages.
type Interrupt int

// Interrupt values, in escalating order.
const (
	InterruptNone Interrupt = iota
	InterruptPause
	InterruptCancel
)

// Callbacks carries the injected sinks a run reports through. Every field is
// optional; emit helpers are nil-safe. Records and Checkpoint are invoked
// synchronously on page boundaries so the checkpoint-before-advance guarantee
// holds; the rest are best-effort hints.
type Callbacks struct {
	// Records receives each batch of newly discovered (deduplicated) records.
	Records func(batch []Record)
	// Progress receives the running unique-record count and a rough total.
	Progress func(current, estimatedTotal int)
	// Status receives human-readable progress strings. Advisory only.
	Status func(message string)
	// Checkpoint receives the updated cursor after each fully processed page.
	Checkpoint func(cp Checkpoint)
	// Interrupt is polled between pages for pause/cancel requests.
	Interrupt func() Interrupt
}

// EmitRecords forwards a non-empty batch to the Records sink.
func (c Callbacks) EmitRecords(batch []Record) {
	if c.Records != nil && len(batch) > 0 {
		c.Records(batch)
	}
}

// EmitProgress forwards a progress update.
func (c Callbacks) EmitProgress(current, estimatedTotal int) {
	if c.Progress != nil {
		c.Progress(current, estimatedTotal)
	}
}

// EmitStatus forwards a status message.
func (c Callbacks) EmitStatus(message string) {
	if c.Status != nil {
		c.Status(message)
	}
}

// EmitCheckpoint forwards an updated checkpoint.
func (c Callbacks) EmitCheckpoint(cp Checkpoint) {
	if c.Checkpoint != nil {
		c.Checkpoint(cp)
	}
}

// CheckInterrupt polls the interrupt signal.
func (c Callbacks) CheckInterrupt() Interrupt {
	if c.Interrupt == nil {
		return InterruptNone
	}
	return c.Interrupt()
}

// Stats tracks per-strategy success/failure counters. Safe for concurrent use.
type Stats struct {
	mu        sync.Mutex
	successes int
	failures  int
}

// StatsSnapshot is a point-in-time copy of strategy counters, used only to
// order logging and diagnostics.
type StatsSnapshot struct {
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
}

// Success records a successful run.
func (s *Stats) Success() {
	s.mu.Lock()
	s.successes++
	s.mu.Unlock()
}

// Failure records a failed run.
func (s *Stats) Failure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

// Snapshot copies the counters. A strategy with no runs reports a success
// rate of 1.0.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{Successes: s.successes, Failures: s.failures, SuccessRate: 1.0}
	if total := s.successes + s.failures; total > 0 {
		snap.SuccessRate = float64(s.successes) / float64(total)
	}
	return snap
}
