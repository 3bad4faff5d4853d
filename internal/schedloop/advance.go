package schedloop

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/relaysched/relay/job"
	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/store"
)

// advanceResult is what computeAdvance works out for one acquired
// schedule: the jobs to persist, the fire times that missed their grace
// window, and the bookkeeping update to hand back to ReleaseSchedules.
type advanceResult struct {
	Jobs   []job.Job
	Missed []time.Time
	Update store.ScheduleUpdate
}

// computeAdvance implements the scheduler loop's per-schedule step
// (§4.E.2-3): read Next() until it's strictly past now, fold the
// skipped fire times down to a dispatch set per CoalescePolicy, drop any
// candidate whose misfire grace window has already closed, and
// construct one job per surviving fire time.
//
// computeAdvance never mutates sc; the caller owns writing
// sc.Trigger's advanced state into Update alongside NextFireTime.
func computeAdvance(sc *schedule.Schedule, now time.Time) (advanceResult, error) {
	var due []time.Time
	var next time.Time
	var ok bool

	for {
		t, hasNext, err := sc.Trigger.Next()
		if err != nil {
			return advanceResult{}, err
		}
		if !hasNext {
			ok = false
			break
		}
		if t.After(now) {
			next, ok = t, true
			break
		}
		due = append(due, t)
	}

	result := advanceResult{}
	if ok {
		result.Update.NextFireTime = &next
	}
	// NextFireTime left nil means the trigger is now terminal: the
	// schedule is deleted once ReleaseSchedules processes this update.

	if len(due) == 0 {
		result.Update.ScheduleID = sc.ID
		result.Update.LastFireTime = sc.LastFireTime
		return result, nil
	}

	last := due[len(due)-1]
	result.Update.ScheduleID = sc.ID
	result.Update.LastFireTime = &last

	dispatch := dueByCoalesce(due, sc.CoalescePolicy)

	for _, fireTime := range dispatch {
		if sc.MisfireGraceTime != nil && now.Sub(fireTime) > *sc.MisfireGraceTime {
			result.Missed = append(result.Missed, fireTime)
			continue
		}
		result.Jobs = append(result.Jobs, buildJob(sc, fireTime, now))
	}

	return result, nil
}

// dueByCoalesce folds a run of fire times that are all <= now down to
// the set that actually gets dispatched, per the schedule's
// CoalescePolicy. due is ordered oldest-first and always non-empty.
func dueByCoalesce(due []time.Time, policy schedule.CoalescePolicy) []time.Time {
	switch policy {
	case schedule.CoalesceLatest:
		return due[len(due)-1:]
	case schedule.CoalesceEarliest:
		return due[:1]
	default: // schedule.CoalesceAll
		return due
	}
}

// buildJob materializes a Job for one dispatched fire time, applying
// the schedule's start-deadline grace and uniform jitter (§4.E.3).
func buildJob(sc *schedule.Schedule, fireTime, now time.Time) job.Job {
	scheduleID := sc.ID

	var jitter time.Duration
	if sc.MaxJitter != nil && *sc.MaxJitter > 0 {
		jitter = time.Duration(rand.Int63n(int64(*sc.MaxJitter) + 1))
	}

	var deadline *time.Time
	if sc.MisfireGraceTime != nil {
		d := fireTime.Add(*sc.MisfireGraceTime)
		deadline = &d
	}

	return job.Job{
		ID:                uuid.NewString(),
		TaskID:            sc.TaskID,
		ScheduleID:        &scheduleID,
		ScheduledFireTime: fireTime,
		Jitter:            jitter,
		StartDeadline:     deadline,
		Args:              sc.Args,
		Kwargs:            sc.Kwargs,
		CreatedAt:         now,
	}
}
