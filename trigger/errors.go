// Package trigger implements the recurrence-rule algebra: a family of
// restartable, lazily-evaluated fire-time sequences composable by boolean
// logic. See Trigger for the single operation every variant exposes.
package trigger

import (
	"errors"
	"fmt"
)

// ErrMaxIterationsReached is returned by AndTrigger.Next when the
// intersection search exceeds its configured iteration budget without
// converging on a common fire time.
var ErrMaxIterationsReached = errors.New("trigger: max iterations reached")

// InvalidTriggerError reports a malformed trigger construction: an
// impossible rule (end before start), an unparsable field expression, or
// a timezone-naive input.
type InvalidTriggerError struct {
	Reason string
}

func (e *InvalidTriggerError) Error() string {
	return fmt.Sprintf("trigger: invalid trigger: %s", e.Reason)
}

// Is lets callers write errors.Is(err, ErrInvalidTrigger).
func (e *InvalidTriggerError) Is(target error) bool {
	return target == ErrInvalidTrigger
}

// ErrInvalidTrigger is the sentinel matched by InvalidTriggerError.Is, so
// construction failures can be tested without caring about the reason text.
var ErrInvalidTrigger = errors.New("trigger: invalid trigger")

func invalid(format string, args ...any) error {
	return &InvalidTriggerError{Reason: fmt.Sprintf(format, args...)}
}
