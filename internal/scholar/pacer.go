package scholar

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// SleepCtx blocks for d or until the context ends, whichever is first.
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Pacer enforces a minimum gap between requests, measured from the end of the
// previous request rather than its start, so network latency does not stack
// with the delay.
type Pacer struct {
	min    time.Duration
	jitter time.Duration
	sleep  func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	last time.Time
}

// NewPacer builds a Pacer with the given floor and random jitter ceiling.
func NewPacer(min, jitter time.Duration) *Pacer {
	return &Pacer{min: min, jitter: jitter, sleep: SleepCtx}
}

// Wait blocks until the configured gap since the last Done call has elapsed.
// The first call never waits.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if p.min <= 0 || last.IsZero() {
		return ctx.Err()
	}
	target := p.min + randomJitter(p.jitter)
	elapsed := time.Since(last)
	if elapsed >= target {
		return ctx.Err()
	}
	return p.sleep(ctx, target-elapsed)
}

// Done marks the end of a request; the next Wait measures from this instant.
func (p *Pacer) Done() {
	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
