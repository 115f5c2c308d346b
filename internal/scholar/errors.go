package scholar

import (
	"errors"
	"fmt"
)

// ErrorKind classifies strategy failures for the orchestrator.
type ErrorKind string

// Failure taxonomy shared by all strategies.
const (
	// KindBlocked marks an explicit bot challenge or HTTP 403/429 that
	// survived every rotation attempt.
	KindBlocked ErrorKind = "blocked"
	// KindExhausted marks too many consecutive non-blocking errors.
	KindExhausted ErrorKind = "exhausted"
	// KindNoResults marks a run that completed without finding anything.
	KindNoResults ErrorKind = "no_results"
	// KindFatal marks an unexpected, unrecoverable condition.
	KindFatal ErrorKind = "fatal"
)

// StrategyError is the tagged failure a strategy surfaces to the orchestrator.
type StrategyError struct {
	Kind     ErrorKind
	Strategy string
	Err      error
}

// Error implements error.
func (e *StrategyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Strategy, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Strategy, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *StrategyError) Unwrap() error {
	return e.Err
}

// Blocked builds a KindBlocked StrategyError.
func Blocked(strategy string, err error) *StrategyError {
	return &StrategyError{Kind: KindBlocked, Strategy: strategy, Err: err}
}

// Exhausted builds a KindExhausted StrategyError.
func Exhausted(strategy string, err error) *StrategyError {
	return &StrategyError{Kind: KindExhausted, Strategy: strategy, Err: err}
}

// NoResults builds a KindNoResults StrategyError.
func NoResults(strategy string) *StrategyError {
	return &StrategyError{Kind: KindNoResults, Strategy: strategy}
}

// Fatal builds a KindFatal StrategyError.
func Fatal(strategy string, err error) *StrategyError {
	return &StrategyError{Kind: KindFatal, Strategy: strategy, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" when err is not a
// StrategyError.
func KindOf(err error) ErrorKind {
	var se *StrategyError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Interrupt sentinels returned by a decomposition run that stopped on a page
// boundary for reasons other than failure.
var (
	// ErrPaused reports a cooperative pause; the last checkpoint is valid.
	ErrPaused = errors.New("run paused")
	// ErrCanceled reports a cooperative cancellation.
	ErrCanceled = errors.New("run canceled")
)
