package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTerminalSession is returned when an operation requires a session
	// that can still make progress.
	ErrTerminalSession = errors.New("session is in a terminal phase")

	// ErrRegenerationLimit is returned when a session has exhausted its
	// regeneration budget.
	ErrRegenerationLimit = errors.New("regeneration limit exceeded")

	// ErrQueueFull is returned when the work queue cannot accept another
	// session.
	ErrQueueFull = errors.New("work queue is full")

	// ErrAlreadyGenerated guards the one-shot generation lock: a session
	// that already holds fixes must be explicitly regenerated.
	ErrAlreadyGenerated = errors.New("session already has generated fixes; regenerate to start over")
)

// GenerationError wraps an oracle failure: the service was unreachable, timed
// out, or returned a response that failed schema validation. It moves the
// session to FAILED.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed during %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// VCSError wraps a branch, commit, or change-request failure. It moves the
// session to FAILED; the generated patch stays available in the audit trail
// for manual replay.
type VCSError struct {
	Op  string
	Err error
}

func (e *VCSError) Error() string {
	return fmt.Sprintf("vcs operation %s failed: %v", e.Op, e.Err)
}

func (e *VCSError) Unwrap() error { return e.Err }

// RiskComputationError wraps a failed risk assessment. It is informational:
// the engine logs it, omits the assessment, and continues.
type RiskComputationError struct {
	Err error
}

func (e *RiskComputationError) Error() string {
	return fmt.Sprintf("risk computation failed: %v", e.Err)
}

func (e *RiskComputationError) Unwrap() error { return e.Err }

// PersistenceError wraps a store write failure. It is logged and never blocks
// session progress.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence operation %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
