// Package orchestrator runs the strategy fallback chain: strategies are tried
// in registration order, each resuming from the latest checkpoint, until one
// completes or every strategy has failed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papertrawl/papertrawl/internal/metrics"
	"github.com/papertrawl/papertrawl/internal/scholar"
)

// Config holds the cooldowns applied between strategy attempts.
type Config struct {
	// BlockedCooldown is slept after a strategy fails blocked.
	BlockedCooldown time.Duration
	// ErrorCooldown is slept after any other strategy failure.
	ErrorCooldown time.Duration
}

// DefaultConfig returns the standard cooldowns.
func DefaultConfig() Config {
	return Config{
		BlockedCooldown: 3 * time.Second,
		ErrorCooldown:   5 * time.Second,
	}
}

// AllFailedError reports that every strategy in the chain failed. Last is the
// final strategy's error.
type AllFailedError struct {
	Attempts int
	Last     error
}

// Error implements error.
func (e *AllFailedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("all %d strategies failed", e.Attempts)
	}
	return fmt.Sprintf("all %d strategies failed, last: %v", e.Attempts, e.Last)
}

// Unwrap exposes the last strategy error.
func (e *AllFailedError) Unwrap() error {
	return e.Last
}

// Orchestrator coordinates one search across a strategy chain.
type Orchestrator struct {
	strategies []scholar.Strategy
	cfg        Config
	logger     *zap.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an Orchestrator over the given chain. Order matters: cheaper
// strategies go first.
func New(strategies []scholar.Strategy, cfg Config, logger *zap.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.BlockedCooldown <= 0 {
		cfg.BlockedCooldown = def.BlockedCooldown
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = def.ErrorCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		strategies: strategies,
		cfg:        cfg,
		logger:     logger,
		sleep:      scholar.SleepCtx,
	}
}

// Search runs the chain. latest returns the most recent persisted checkpoint
// and is consulted before every attempt, so a fallback strategy resumes where
// the previous one stopped instead of re-fetching its pages. The records
// returned are only those collected by the successful attempt; incremental
// consumers should rely on cb.Records instead.
func (o *Orchestrator) Search(ctx context.Context, spec scholar.SearchSpec, latest func() scholar.Checkpoint, cb scholar.Callbacks) ([]scholar.Record, error) {
	if len(o.strategies) == 0 {
		return nil, &AllFailedError{}
	}
	if latest == nil {
		latest = func() scholar.Checkpoint { return scholar.Checkpoint{} }
	}

	var lastErr error
	attempts := 0
	for i, strat := range o.strategies {
		if !strat.Available() {
			o.logger.Info("strategy unavailable, skipping", zap.String("strategy", strat.Name()))
			continue
		}
		attempts++

		cp := latest()
		o.logger.Info("attempting strategy",
			zap.String("strategy", strat.Name()),
			zap.Int("position", i+1),
			zap.Int("resume_year", cp.Year),
			zap.Int("resume_offset", cp.Offset),
			zap.Int("resume_count", cp.Count),
		)
		cb.EmitStatus(fmt.Sprintf("trying %s strategy", strat.Name()))

		records, err := strat.Run(ctx, spec, cp, cb)
		stats := strat.Stats()
		if err == nil {
			o.logger.Info("strategy succeeded",
				zap.String("strategy", strat.Name()),
				zap.Int("records", len(records)),
				zap.Float64("success_rate", stats.SuccessRate),
			)
			return records, nil
		}

		// Interrupts and context cancellation are not strategy failures;
		// the caller resumes later from the checkpoint.
		if errors.Is(err, scholar.ErrPaused) || errors.Is(err, scholar.ErrCanceled) || ctx.Err() != nil {
			return records, err
		}

		lastErr = err
		kind := scholar.KindOf(err)
		metrics.StrategyFailure(strat.Name(), string(kind))
		o.logger.Warn("strategy failed",
			zap.String("strategy", strat.Name()),
			zap.String("kind", string(kind)),
			zap.Float64("success_rate", stats.SuccessRate),
			zap.Error(err),
		)

		switch kind {
		case scholar.KindFatal:
			return records, err
		case scholar.KindNoResults:
			// The next strategy may still find what this one could not see;
			// no cooldown needed, nothing was hostile.
			continue
		case scholar.KindBlocked:
			if serr := o.sleep(ctx, o.cfg.BlockedCooldown); serr != nil {
				return records, serr
			}
		default:
			if serr := o.sleep(ctx, o.cfg.ErrorCooldown); serr != nil {
				return records, serr
			}
		}
	}
	return nil, &AllFailedError{Attempts: attempts, Last: lastErr}
}
