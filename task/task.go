// Package task holds the registered, addressable user callable a
// schedule or job refers to by id, plus the in-process registry workers
// use to resolve that id to runnable code.
package task

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is TaskLookupError: the id doesn't name a registered task.
var ErrTaskNotFound = errors.New("task: not found")

// Func is the invoker contract every registered task implements: given
// positional and keyword arguments decoded off a job, produce a result
// or an error. A Func's own panics are the caller's responsibility to
// recover from; the worker loop never lets one escape (see
// internal/workerloop).
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Task is a registered, addressable user callable reference. It is
// looked up by TaskID, never embedded by value, so schedules and jobs
// refer to it weakly and survive a task being re-registered with new
// metadata.
type Task struct {
	ID               string
	FuncReference    string
	MaxRunningJobs   *int
	MisfireGraceTime *time.Duration
	Metadata         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// State returns Task's reversible state dictionary for the serializer
// contract.
func (t Task) State() map[string]any {
	s := map[string]any{
		"id":             t.ID,
		"func_reference": t.FuncReference,
		"created_at":     t.CreatedAt,
		"updated_at":     t.UpdatedAt,
	}
	if t.MaxRunningJobs != nil {
		s["max_running_jobs"] = *t.MaxRunningJobs
	}
	if t.MisfireGraceTime != nil {
		s["misfire_grace_time"] = t.MisfireGraceTime.Seconds()
	}
	if t.Metadata != nil {
		s["metadata"] = t.Metadata
	}
	return s
}

// Registry maps a Task's ID to a runnable Func. Workers
// hold exactly one Registry, populated at startup; it is safe for
// concurrent use because Add is expected to happen during setup only
// (see internal/workerloop, which only ever calls Lookup once running).
type Registry struct {
	funcs map[string]Func
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Add registers fn under id, replacing any existing registration.
func (r *Registry) Add(id string, fn Func) {
	r.funcs[id] = fn
}

// Lookup resolves id to its Func, if registered.
func (r *Registry) Lookup(id string) (Func, bool) {
	fn, ok := r.funcs[id]
	return fn, ok
}
