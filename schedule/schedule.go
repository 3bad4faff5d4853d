// Package schedule holds the persistent binding of a trigger to a task:
// the entity the scheduler loop advances under an acquisition lease.
package schedule

import (
	"errors"
	"time"

	"github.com/relaysched/relay/trigger"
)

// ErrScheduleNotFound is ScheduleLookupError: the id doesn't name a
// known schedule.
var ErrScheduleNotFound = errors.New("schedule: not found")

// CoalescePolicy controls how a schedule that has missed more than one
// fire time (the loop was down, the node was slow) catches up.
type CoalescePolicy string

const (
	// CoalesceAll emits one job per skipped fire time.
	CoalesceAll CoalescePolicy = "all"
	// CoalesceLatest keeps only the latest fire time <= now.
	CoalesceLatest CoalescePolicy = "latest"
	// CoalesceEarliest keeps only the earliest fire time <= now.
	CoalesceEarliest CoalescePolicy = "earliest"
)

// Schedule is a persistent binding of a trigger to a task. The
// scheduler advances NextFireTime only while it holds the schedule's
// acquisition lease (AcquiredBy/AcquiredUntil); outside a lease the
// fields are read-only to every node.
type Schedule struct {
	ID               string
	TaskID           string
	Trigger          trigger.Trigger
	Args             []any
	Kwargs           map[string]any
	Paused           bool
	CoalescePolicy   CoalescePolicy
	MisfireGraceTime *time.Duration
	MaxJitter        *time.Duration
	NextFireTime     *time.Time
	LastFireTime     *time.Time
	AcquiredBy       *string
	AcquiredUntil    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Terminal reports whether the schedule's trigger sequence is
// exhausted: NextFireTime is nil. A terminal schedule is deleted by the
// scheduler loop after its final dispatch.
func (s *Schedule) Terminal() bool {
	return s.NextFireTime == nil
}
