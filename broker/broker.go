// Package broker defines the event broker contract: a best-effort,
// at-most-once pub/sub used to wake idle scheduler/worker nodes and to
// notify callers waiting on a job result. It is never authoritative —
// a missed event costs latency, not correctness, since every node also
// polls the store on its own interval (see internal/schedloop,
// internal/workerloop).
package broker

import (
	"context"
	"time"
)

// Kind discriminates the event topics a Broker carries.
type Kind string

const (
	// KindScheduleAdded fires after AddSchedule, so idle scheduler nodes
	// can wake early instead of waiting out their poll interval.
	KindScheduleAdded Kind = "schedule_added"
	// KindScheduleRemoved fires when a schedule is deleted, explicitly
	// or because its trigger became terminal.
	KindScheduleRemoved Kind = "schedule_removed"
	// KindScheduleUpdated fires whenever the scheduler loop advances a
	// schedule's next/last fire time.
	KindScheduleUpdated Kind = "schedule_updated"

	// KindJobAdded fires after AddJob/RunJob or a schedule dispatch,
	// waking idle workers.
	KindJobAdded Kind = "job_added"
	// KindJobAcquired fires when a worker claims a job.
	KindJobAcquired Kind = "job_acquired"
	// KindJobReleased fires whenever ReleaseJob completes, regardless of
	// outcome.
	KindJobReleased Kind = "job_released"
	// KindJobSuccessful and KindJobFailed narrow KindJobReleased by
	// outcome, for subscribers that only care about one.
	KindJobSuccessful Kind = "job_successful"
	KindJobFailed     Kind = "job_failed"
	// KindJobDeadlineMissed fires when a job is released with outcome
	// missed_deadline instead of being executed.
	KindJobDeadlineMissed Kind = "job_deadline_missed"
	// KindJobCancelled fires when a job is released with outcome
	// cancelled: its worker loop was stopped while it was in flight.
	KindJobCancelled Kind = "job_cancelled"

	// KindSchedulerStarted and KindSchedulerStopped mark a scheduler
	// node's lifecycle transitions.
	KindSchedulerStarted Kind = "scheduler_started"
	KindSchedulerStopped Kind = "scheduler_stopped"
)

// Event is one message published through a Broker. ID names the entity
// the event concerns (a schedule id, job id, depending on Kind).
type Event struct {
	Kind      Kind
	ID        string
	Timestamp time.Time
}

// Subscription is a live subscription returned by Subscribe. Events
// arrives on C until Unsubscribe is called or the broker itself closes;
// callers must keep draining C or a slow subscriber can back up the
// broker's fan-out (see localbroker's drop-on-full-buffer behavior).
type Subscription interface {
	C() <-chan Event
	Unsubscribe()
}

// Broker is the event broker contract (§4.D): best-effort, at-most-once
// delivery, optionally filtered by kind.
type Broker interface {
	// Publish best-effort delivers evt to current subscribers. It never
	// blocks on a slow subscriber and never returns a delivery
	// confirmation. A returned error reports a transport failure (as
	// redisbroker can); every caller in this module logs it and carries
	// on, since the broker is a wake-up signal, not a durable log.
	Publish(ctx context.Context, evt Event) error

	// Subscribe returns a Subscription receiving events whose Kind is in
	// kinds, or every event if kinds is empty.
	Subscribe(ctx context.Context, kinds ...Kind) (Subscription, error)

	// Close releases the broker's resources and terminates every live
	// subscription's channel.
	Close() error
}
