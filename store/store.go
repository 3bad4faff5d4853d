// Package store defines the data store contract every backend
// implements: atomic CRUD plus lease-based acquisition of due schedules
// and jobs. The store is the sole source of truth — the broker (package
// broker) is wake-ups and result notification only, never authoritative.
package store

import (
	"context"
	"time"

	"github.com/relaysched/relay/job"
	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/task"
)

// ConflictPolicy governs what add_task/add_schedule do when the id
// already exists.
type ConflictPolicy string

const (
	// ConflictReplace overwrites the existing entity.
	ConflictReplace ConflictPolicy = "replace"
	// ConflictException returns ConflictingIdError.
	ConflictException ConflictPolicy = "exception"
	// ConflictDoNothing silently keeps the existing entity.
	ConflictDoNothing ConflictPolicy = "do_nothing"
)

// ScheduleUpdate is what release_schedules writes back for one acquired
// schedule: its advanced fire-time bookkeeping, or a deletion if the
// schedule's trigger is now terminal.
type ScheduleUpdate struct {
	ScheduleID   string
	NextFireTime *time.Time // nil means terminal: delete the schedule.
	LastFireTime *time.Time
}

// Pinger is the minimal liveness check a Store backend exposes to
// internal/health, so readiness checks don't need the full Store
// surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the data store contract (§4.C): atomic CRUD over tasks,
// schedules, and jobs, plus lease-based acquisition so that concurrent
// scheduler/worker nodes never double-claim the same due entity.
// Every method is atomic with respect to other Store calls touching the
// same entity; a Store implementation is free to serialize however it
// likes internally (a mutex for memstore, row locks for pgstore).
type Store interface {
	Pinger

	AddTask(ctx context.Context, t task.Task, policy ConflictPolicy) error
	GetTasks(ctx context.Context) ([]task.Task, error)
	RemoveTask(ctx context.Context, id string) error

	AddSchedule(ctx context.Context, s schedule.Schedule, policy ConflictPolicy) error
	GetSchedules(ctx context.Context, ids []string) ([]schedule.Schedule, error)
	RemoveSchedules(ctx context.Context, ids []string) error

	// AcquireSchedules atomically selects up to limit schedules whose
	// NextFireTime <= now, not paused, and not currently leased by
	// another node, stamping AcquiredBy/AcquiredUntil on the winners.
	AcquireSchedules(ctx context.Context, schedulerID string, leaseDuration time.Duration, limit int) ([]schedule.Schedule, error)
	// ReleaseSchedules writes back the new fire-time bookkeeping for a
	// batch previously returned by AcquireSchedules (or deletes
	// terminal schedules) and clears the lease.
	ReleaseSchedules(ctx context.Context, schedulerID string, updates []ScheduleUpdate) error

	AddJob(ctx context.Context, j job.Job) error
	GetJobs(ctx context.Context, ids []string) ([]job.Job, error)

	// AcquireJobs is the job-side analogue of AcquireSchedules, further
	// restricted to jobs whose task is under its MaxRunningJobs cap,
	// counted over the jobs currently leased by any worker. A job whose
	// StartDeadline has passed is still returned; the worker loop
	// releases it with outcome missed_deadline.
	AcquireJobs(ctx context.Context, workerID string, leaseDuration time.Duration, limit int) ([]job.Job, error)
	// ReleaseJob atomically records result, removes the job record, and
	// starts the result's TTL countdown.
	ReleaseJob(ctx context.Context, workerID string, jobID string, result job.Result) error
	GetJobResult(ctx context.Context, jobID string) (job.Result, error)

	// Cleanup expires leases past AcquiredUntil (returning claims to the
	// pool) and deletes job results past their TTL. Called periodically
	// by every node, not just the lease holder.
	Cleanup(ctx context.Context) error
}
