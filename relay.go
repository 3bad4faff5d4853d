// Package relay is the public façade (§4.G): a single entry point over
// the data store, event broker, and scheduler/worker loops, mirroring
// the teacher's own pattern of a thin composition root wiring together
// independently testable pieces (dispatcher, worker, reaper) behind one
// process lifecycle.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaysched/relay/broker"
	"github.com/relaysched/relay/internal/schedloop"
	"github.com/relaysched/relay/internal/workerloop"
	"github.com/relaysched/relay/job"
	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/task"
)

// Options configures a Scheduler. Store and Broker are required; every
// other field has a sane default (see Configure).
type Options struct {
	Store  store.Store
	Broker broker.Broker

	// NodeID identifies this process to the store's lease bookkeeping.
	// Defaults to a fresh uuid.
	NodeID string

	// RunScheduler/RunWorker select which loops StartInBackground
	// launches. A node can run either, or both, the way the teacher's
	// single cmd/scheduler binary runs dispatcher+worker+reaper
	// together; a production deployment typically splits them across
	// separate processes instead.
	RunScheduler bool
	RunWorker    bool

	PollInterval      time.Duration
	LeaseDuration     time.Duration
	BatchLimit        int
	WorkerConcurrency int

	Logger *slog.Logger
}

// Scheduler is the façade: the one type a caller embedding this module
// constructs and drives.
type Scheduler struct {
	store    store.Store
	broker   broker.Broker
	registry *task.Registry
	logger   *slog.Logger

	schedLoop *schedloop.Loop
	workLoop  *workerloop.Loop

	mu      sync.Mutex
	started bool
}

// Configure builds a Scheduler bound to opts.Store/opts.Broker. It does
// not start any loop; call StartInBackground for that.
func Configure(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("relay: Options.Store is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("relay: Options.Broker is required")
	}
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := task.NewRegistry()
	s := &Scheduler{
		store:    opts.Store,
		broker:   opts.Broker,
		registry: registry,
		logger:   logger,
	}

	if opts.RunScheduler {
		s.schedLoop = schedloop.New(opts.Store, opts.Broker, schedloop.Options{
			NodeID:        opts.NodeID,
			PollInterval:  opts.PollInterval,
			LeaseDuration: opts.LeaseDuration,
			BatchLimit:    opts.BatchLimit,
			Logger:        logger,
		})
	}
	if opts.RunWorker {
		s.workLoop = workerloop.New(opts.Store, opts.Broker, registry, workerloop.Options{
			NodeID:        opts.NodeID,
			PollInterval:  opts.PollInterval,
			LeaseDuration: opts.LeaseDuration,
			BatchLimit:    opts.BatchLimit,
			Concurrency:   opts.WorkerConcurrency,
			Logger:        logger,
		})
	}

	return s, nil
}

// AddTask registers fn in the task registry under t.ID and
// persists t, so any node's worker loop can later resolve a job whose
// TaskID is t.ID. fn may be nil on a node that never runs a worker loop
// (a pure scheduler node still needs the Task row to exist for
// AddSchedule's foreign reference, but never calls fn itself).
func (s *Scheduler) AddTask(ctx context.Context, t task.Task, fn task.Func, policy store.ConflictPolicy) error {
	if fn != nil {
		s.registry.Add(t.ID, fn)
	}
	return s.store.AddTask(ctx, t, policy)
}

// AddSchedule persists sc and wakes idle scheduler nodes.
func (s *Scheduler) AddSchedule(ctx context.Context, sc schedule.Schedule, policy store.ConflictPolicy) error {
	if err := s.store.AddSchedule(ctx, sc, policy); err != nil {
		return err
	}
	s.publish(ctx, broker.KindScheduleAdded, sc.ID)
	return nil
}

// RemoveSchedule deletes a schedule and notifies peers.
func (s *Scheduler) RemoveSchedule(ctx context.Context, id string) error {
	if err := s.store.RemoveSchedules(ctx, []string{id}); err != nil {
		return err
	}
	s.publish(ctx, broker.KindScheduleRemoved, id)
	return nil
}

// GetSchedule looks up a single schedule by id.
func (s *Scheduler) GetSchedule(ctx context.Context, id string) (schedule.Schedule, error) {
	scs, err := s.store.GetSchedules(ctx, []string{id})
	if err != nil {
		return schedule.Schedule{}, err
	}
	if len(scs) == 0 {
		return schedule.Schedule{}, schedule.ErrScheduleNotFound
	}
	return scs[0], nil
}

// GetSchedules returns every schedule, or those named by ids if given.
func (s *Scheduler) GetSchedules(ctx context.Context, ids ...string) ([]schedule.Schedule, error) {
	return s.store.GetSchedules(ctx, ids)
}

// PauseSchedule stops a schedule from being acquired without deleting
// it, by flipping its Paused flag and writing it straight back.
func (s *Scheduler) PauseSchedule(ctx context.Context, id string) error {
	return s.setPaused(ctx, id, true)
}

// UnpauseSchedule reverses PauseSchedule.
func (s *Scheduler) UnpauseSchedule(ctx context.Context, id string) error {
	return s.setPaused(ctx, id, false)
}

func (s *Scheduler) setPaused(ctx context.Context, id string, paused bool) error {
	sc, err := s.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	sc.Paused = paused
	if err := s.store.AddSchedule(ctx, sc, store.ConflictReplace); err != nil {
		return err
	}
	s.publish(ctx, broker.KindScheduleUpdated, id)
	return nil
}

// AddJob submits a one-shot job directly, bypassing any schedule.
func (s *Scheduler) AddJob(ctx context.Context, j job.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.ScheduledFireTime.IsZero() {
		j.ScheduledFireTime = time.Now()
	}
	if err := s.store.AddJob(ctx, j); err != nil {
		return err
	}
	s.publish(ctx, broker.KindJobAdded, j.ID)
	return nil
}

// GetJobResult returns jobID's terminal Result, or job.ErrResultNotReady
// if the job hasn't finished (or doesn't exist) yet.
func (s *Scheduler) GetJobResult(ctx context.Context, jobID string) (job.Result, error) {
	return s.store.GetJobResult(ctx, jobID)
}

// RunJob is the convenience wait-for-result helper (§4.G): it submits a
// one-shot job for taskID and blocks until a result is available,
// subscribing to the broker's outcome events and falling back to
// polling GetJobResult in case the event is missed, since the broker is
// best-effort — grounded on the teacher's Worker/Reaper both racing the
// same repository rather than trusting a single notification path.
func (s *Scheduler) RunJob(ctx context.Context, taskID string, args []any, kwargs map[string]any) (job.Result, error) {
	id := uuid.NewString()
	if err := s.AddJob(ctx, job.Job{
		ID:     id,
		TaskID: taskID,
		Args:   args,
		Kwargs: kwargs,
	}); err != nil {
		return job.Result{}, err
	}

	sub, err := s.broker.Subscribe(ctx, broker.KindJobSuccessful, broker.KindJobFailed, broker.KindJobDeadlineMissed, broker.KindJobCancelled)
	if err != nil {
		return s.pollJobResult(ctx, id)
	}
	defer sub.Unsubscribe()

	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return job.Result{}, ctx.Err()
		case evt := <-sub.C():
			if evt.ID != id {
				continue
			}
			result, err := s.store.GetJobResult(ctx, id)
			if err == nil {
				return result, nil
			}
		case <-poll.C:
			result, err := s.store.GetJobResult(ctx, id)
			if err == nil {
				return result, nil
			}
		}
	}
}

func (s *Scheduler) pollJobResult(ctx context.Context, jobID string) (job.Result, error) {
	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return job.Result{}, ctx.Err()
		case <-poll.C:
			result, err := s.store.GetJobResult(ctx, jobID)
			if err == nil {
				return result, nil
			}
		}
	}
}

// StartInBackground launches whichever loops Options.RunScheduler/
// RunWorker selected and returns once they're running.
func (s *Scheduler) StartInBackground(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("relay: already started")
	}
	s.started = true
	s.mu.Unlock()

	if s.schedLoop != nil {
		if err := s.schedLoop.Start(ctx); err != nil {
			return fmt.Errorf("relay: start scheduler loop: %w", err)
		}
	}
	if s.workLoop != nil {
		if err := s.workLoop.Start(ctx); err != nil {
			return fmt.Errorf("relay: start worker loop: %w", err)
		}
	}
	return nil
}

// Stop cooperatively cancels every running loop and waits for them to
// exit, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	var firstErr error
	if s.schedLoop != nil {
		if err := s.schedLoop.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.workLoop != nil {
		if err := s.workLoop.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WaitUntilStopped blocks until every running loop has exited.
func (s *Scheduler) WaitUntilStopped() {
	if s.schedLoop != nil {
		s.schedLoop.WaitUntilStopped()
	}
	if s.workLoop != nil {
		s.workLoop.WaitUntilStopped()
	}
}

func (s *Scheduler) publish(ctx context.Context, kind broker.Kind, id string) {
	if err := s.broker.Publish(ctx, broker.Event{Kind: kind, ID: id, Timestamp: time.Now()}); err != nil {
		s.logger.Debug("publish failed", "kind", kind, "error", err)
	}
}
