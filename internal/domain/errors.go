package domain

import (
	"errors"
	"fmt"
)

// Collaborator errors. Transient errors are retried with backoff inside a
// stage; fatal errors abort the run.
var (
	// ErrMarketNotFound means the market ID does not exist. Fatal.
	ErrMarketNotFound = errors.New("market not found")
	// ErrUnavailable means the collaborator could not be reached. Transient.
	ErrUnavailable = errors.New("collaborator unavailable")
	// ErrRateLimited means the collaborator rejected the call for rate. Transient.
	ErrRateLimited = errors.New("rate limited")
)

// Run control errors, rejected at the API boundary without touching state.
var (
	ErrUnknownRun         = errors.New("unknown run id")
	ErrNoPendingInterrupt = errors.New("run has no pending interrupt")
	ErrAlreadyCompleted   = errors.New("run already completed")
	ErrRunNotSuspended    = errors.New("run is not suspended")
)

// Transient reports whether an error may succeed on retry.
func Transient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}

// ParseError means the reasoning function returned output that does not
// conform to the requested schema. Gates fail closed on it: the verdict
// becomes unsatisfactory and one retry attempt is consumed.
type ParseError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s output: %v", e.Schema, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExecutionError is a terminal order-venue failure. It is surfaced verbatim
// and never retried automatically.
type ExecutionError struct {
	Code    string // "InsufficientFunds" | "Rejected" | "Timeout"
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s: %s", e.Code, e.Message)
}
