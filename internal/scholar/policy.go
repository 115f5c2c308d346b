package scholar

import "time"

// Policy bundles the tunable retry/pacing parameters of a strategy run. The
// numbers are empirically tuned and deliberately configurable; only the shape
// of the policy (bounded retries, escalating waits, consecutive-vs-total
// error distinction) is fixed.
type Policy struct {
	// PageSize is the upstream page size in records.
	PageSize int
	// MaxPageOffset is the engine-imposed pagination ceiling per sub-query.
	MaxPageOffset int
	// EmptyPageLimit ends a sub-query after this many consecutive pages that
	// yielded zero new records.
	EmptyPageLimit int
	// ConsecutiveErrorLimit trips Exhausted after this many non-blocking
	// errors in a row. A single success resets the counter.
	ConsecutiveErrorLimit int
	// RotationAttempts bounds circuit rotations per blocked page.
	RotationAttempts int
	// RotationWait is slept after each rotation before retrying the page.
	RotationWait time.Duration
	// StabilizeWait is slept after a proactive rotation.
	StabilizeWait time.Duration
	// MinRequestDelay is the floor between requests, measured from the end
	// of the previous request.
	MinRequestDelay time.Duration
	// RequestJitter is added randomly on top of MinRequestDelay.
	RequestJitter time.Duration
	// ErrorRetryWait is slept after a non-blocking error before moving on.
	ErrorRetryWait time.Duration
	// YearPause is slept between year sub-queries.
	YearPause time.Duration
	// ProactiveRotateEvery rotates the circuit after this many requests even
	// without a failure. Zero disables proactive rotation.
	ProactiveRotateEvery int
}

// DefaultPolicy returns the tuning used by the lightweight strategy.
func DefaultPolicy() Policy {
	return Policy{
		PageSize:              10,
		MaxPageOffset:         990,
		EmptyPageLimit:        2,
		ConsecutiveErrorLimit: 5,
		RotationAttempts:      10,
		RotationWait:          10 * time.Second,
		StabilizeWait:         5 * time.Second,
		MinRequestDelay:       20 * time.Second,
		RequestJitter:         5 * time.Second,
		ErrorRetryWait:        15 * time.Second,
		YearPause:             60 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	def := DefaultPolicy()
	if p.PageSize <= 0 {
		p.PageSize = def.PageSize
	}
	if p.MaxPageOffset <= 0 {
		p.MaxPageOffset = def.MaxPageOffset
	}
	if p.EmptyPageLimit <= 0 {
		p.EmptyPageLimit = def.EmptyPageLimit
	}
	if p.ConsecutiveErrorLimit <= 0 {
		p.ConsecutiveErrorLimit = def.ConsecutiveErrorLimit
	}
	if p.RotationAttempts <= 0 {
		p.RotationAttempts = def.RotationAttempts
	}
	if p.RotationWait <= 0 {
		p.RotationWait = def.RotationWait
	}
	if p.StabilizeWait <= 0 {
		p.StabilizeWait = def.StabilizeWait
	}
	if p.MinRequestDelay < 0 {
		p.MinRequestDelay = def.MinRequestDelay
	}
	if p.ErrorRetryWait <= 0 {
		p.ErrorRetryWait = def.ErrorRetryWait
	}
	if p.YearPause < 0 {
		p.YearPause = def.YearPause
	}
	return p
}
