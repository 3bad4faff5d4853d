// Package job holds the one-shot unit of work dispatched to a worker —
// either materialized by the scheduler loop from a due schedule, or
// submitted directly through the façade's AddJob/RunJob.
package job

import (
	"errors"
	"time"
)

// ErrJobNotFound is JobLookupError: the id doesn't name a known job.
var ErrJobNotFound = errors.New("job: not found")

// ErrResultNotReady is JobResultNotReady: GetJobResult was called before
// the job finished (or was even picked up).
var ErrResultNotReady = errors.New("job: result not ready")

// Outcome classifies how a job's execution ended.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFailed         Outcome = "failed"
	OutcomeMissedDeadline Outcome = "missed_deadline"
	// OutcomeCancelled is reported by a worker that was mid-execution of a
	// job when its loop was stopped (§4.F): the job's context is cancelled
	// rather than left to run to completion.
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the terminal record of a job's execution, written once by
// the worker loop and never mutated again.
type Result struct {
	JobID      string
	Outcome    Outcome
	ReturnValue any
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Job is immutable after creation except for its acquisition fields
// (AcquiredBy/AcquiredUntil, StartedAt) and Result, which a worker
// writes exactly once.
type Job struct {
	ID                string
	TaskID            string
	ScheduleID        *string
	ScheduledFireTime time.Time
	Jitter            time.Duration
	StartDeadline     *time.Time
	Tags              []string
	Args              []any
	Kwargs            map[string]any
	CreatedAt         time.Time
	StartedAt         *time.Time
	AcquiredBy        *string
	AcquiredUntil     *time.Time
	Result            *Result
}

// MissedDeadline reports whether StartDeadline has already passed as of
// now — checked by the worker loop at acquisition time, per §4.F: a job
// acquired past its deadline is released with outcome missed_deadline
// rather than executed.
func (j *Job) MissedDeadline(now time.Time) bool {
	return j.StartDeadline != nil && now.After(*j.StartDeadline)
}
