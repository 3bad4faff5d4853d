package store

import (
	"errors"
	"fmt"
)

// ErrConflictingID is ConflictingIdError: an add_* call collided with an
// existing id under ConflictException.
type ErrConflictingID struct {
	Kind string
	ID   string
}

func (e *ErrConflictingID) Error() string {
	return fmt.Sprintf("store: %s %q already exists", e.Kind, e.ID)
}

// ErrTransient is TransientStoreError: a retryable I/O failure (a
// dropped connection, a deadlock abort). The scheduler and worker loops
// retry these internally with backoff; they never escape to the façade.
type ErrTransient struct {
	Err error
}

func (e *ErrTransient) Error() string { return fmt.Sprintf("store: transient error: %v", e.Err) }
func (e *ErrTransient) Unwrap() error { return e.Err }

// ErrFatal is FatalStoreError: corruption or an unreachable backend past
// its retry budget. Receiving this transitions the owning loop straight
// to stopped.
type ErrFatal struct {
	Err error
}

func (e *ErrFatal) Error() string { return fmt.Sprintf("store: fatal error: %v", e.Err) }
func (e *ErrFatal) Unwrap() error { return e.Err }

// ErrResultExpired reports that a job result's TTL has already elapsed
// — distinguishable from job.ErrResultNotReady (not finished yet) vs.
// this (finished, but the record aged out).
var ErrResultExpired = errors.New("store: job result expired")
