// Package workerloop runs the worker loop (§4.F): the control loop that
// claims due jobs under a lease, invokes their bound task, and writes
// back a Result. It is generalized from the teacher's HTTP-only
// Worker/Executor/Reaper trio to the task.Func invoker contract and the
// store's generic lease-expiry cleanup.
package workerloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaysched/relay/broker"
	"github.com/relaysched/relay/internal/metrics"
	"github.com/relaysched/relay/job"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/task"
)

// State is the worker loop's own lifecycle.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// heartbeatInterval mirrors the teacher's own in-flight heartbeat
// cadence; unlike the teacher's it never touches the store (the store
// contract has no per-job lease-renewal call, only AcquireJobs'
// up-front LeaseDuration and Cleanup's lease-expiry sweep), so it is
// purely an in-flight liveness log, not a lease keep-alive.
const heartbeatInterval = 10 * time.Second

// Options configures a Loop.
type Options struct {
	NodeID        string
	PollInterval  time.Duration
	LeaseDuration time.Duration
	BatchLimit    int
	Concurrency   int
	Logger        *slog.Logger
}

// Loop is one worker node's run of the worker loop.
type Loop struct {
	store    store.Store
	broker   broker.Broker
	registry *task.Registry
	opts     Options
	logger   *slog.Logger

	mu    sync.Mutex
	state State
	err   error

	stopCh    chan struct{}
	stoppedCh chan struct{}

	jobCtx    context.Context
	jobCancel context.CancelFunc
}

// New builds a Loop bound to registry for resolving a job's TaskID to
// runnable code. It does not start it; call Start.
func New(st store.Store, b broker.Broker, registry *task.Registry, opts Options) *Loop {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 30 * time.Second
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		store:     st,
		broker:    b,
		registry:  registry,
		opts:      opts,
		logger:    logger.With("component", "workerloop", "node_id", opts.NodeID),
		state:     StateStopped,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// State reports the loop's current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error that caused the loop to stop, if it stopped
// because of a fatal store error rather than a Stop call.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Start transitions stopped->starting->running and launches the loop's
// goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		return fmt.Errorf("workerloop: cannot start from state %s", l.state)
	}
	l.state = StateStarting
	l.jobCtx, l.jobCancel = context.WithCancel(ctx)
	l.mu.Unlock()

	sub, err := l.broker.Subscribe(ctx, broker.KindJobAdded)
	if err != nil {
		l.jobCancel()
		l.setState(StateStopped)
		return fmt.Errorf("workerloop: subscribe for wake-ups: %w", err)
	}

	metrics.NodeStartTime.WithLabelValues("worker").SetToCurrentTime()

	l.setState(StateRunning)
	l.logger.Info("worker loop started", "poll_interval", l.opts.PollInterval, "concurrency", l.opts.Concurrency)

	go l.run(ctx, sub)
	return nil
}

// Stop transitions running->stopping and blocks until in-flight jobs
// drain and the loop's goroutine exits, or ctx is done.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return nil
	}
	l.state = StateStopping
	l.mu.Unlock()

	close(l.stopCh)
	l.jobCancel()

	select {
	case <-l.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitUntilStopped blocks until the loop's goroutine has exited.
func (l *Loop) WaitUntilStopped() {
	<-l.stoppedCh
}

func (l *Loop) run(ctx context.Context, sub broker.Subscription) {
	defer sub.Unsubscribe()
	defer close(l.stoppedCh)
	defer l.setState(StateStopped)
	defer metrics.NodeShutdownsTotal.WithLabelValues("worker").Inc()

	attempt := 0
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		wake, err := l.cycle(ctx)
		if err != nil {
			if isFatalStoreErr(err) {
				l.mu.Lock()
				l.err = err
				l.mu.Unlock()
				l.logger.Error("worker loop stopping on fatal error", "error", err)
				return
			}
			attempt++
			delay := retryDelay(attempt)
			l.logger.Warn("worker cycle failed, retrying", "error", err, "attempt", attempt, "delay", delay)
			wake = time.Now().Add(delay)
		} else {
			attempt = 0
		}

		sleep := time.Until(wake)
		if sleep < 0 {
			sleep = 0
		}
		timer := time.NewTimer(sleep)
		select {
		case <-l.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-sub.C():
			timer.Stop()
		}
	}
}

// cycle runs one acquire/execute/release pass, executing up to
// opts.Concurrency jobs at a time, and returns when the loop should next
// wake absent an earlier JobAdded event.
func (l *Loop) cycle(ctx context.Context) (time.Time, error) {
	now := time.Now()

	jobs, err := l.store.AcquireJobs(ctx, l.opts.NodeID, l.opts.LeaseDuration, l.opts.BatchLimit)
	if err != nil {
		return time.Time{}, fmt.Errorf("acquire jobs: %w", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, l.opts.Concurrency)
	for _, j := range jobs {
		l.publish(ctx, broker.KindJobAcquired, j.ID)
		metrics.JobPickupLatency.Observe(now.Sub(j.CreatedAt).Seconds())

		if j.MissedDeadline(now) {
			l.finish(ctx, j, job.Result{
				JobID:      j.ID,
				Outcome:    job.OutcomeMissedDeadline,
				StartedAt:  now,
				FinishedAt: now,
			})
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(j job.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			l.runJob(ctx, j)
		}(j)
	}
	wg.Wait()

	if err := l.store.Cleanup(ctx); err != nil {
		l.logger.Warn("cleanup failed", "error", err)
	}

	return l.nextWake(ctx, now), nil
}

// runJob resolves j's task and invokes it, running a background
// liveness heartbeat for the duration (mirroring the teacher's
// goroutine-per-job heartbeat idiom), then releases the result. fn is
// invoked against l.jobCtx rather than ctx: Stop cancels jobCtx so an
// in-flight job observes cancellation instead of being left to run (or
// hang) past shutdown, while ctx — used only for the store write in
// finish — stays alive so the result still gets recorded.
func (l *Loop) runJob(ctx context.Context, j job.Job) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	started := time.Now()

	fn, ok := l.registry.Lookup(j.TaskID)
	if !ok {
		l.finish(ctx, j, job.Result{
			JobID:      j.ID,
			Outcome:    job.OutcomeFailed,
			Error:      fmt.Sprintf("task %q not registered", j.TaskID),
			StartedAt:  started,
			FinishedAt: started,
		})
		return
	}

	hbCtx, cancelHeartbeat := context.WithCancel(l.jobCtx)
	defer cancelHeartbeat()
	go l.heartbeat(hbCtx, j.ID)

	if j.Jitter > 0 {
		select {
		case <-time.After(j.Jitter):
		case <-l.jobCtx.Done():
		}
	}

	result := invoke(l.jobCtx, fn, j, started)
	l.finish(ctx, j, result)
}

// invoke calls fn, recovering a panic into a failed Result rather than
// letting it escape and take the whole loop down with it. If ctx was
// canceled, the outcome is cancelled regardless of what fn itself
// returned or panicked with — a worker stopped mid-execution reports
// cancelled, not failed (§4.F).
func invoke(ctx context.Context, fn task.Func, j job.Job, started time.Time) (result job.Result) {
	result = job.Result{JobID: j.ID, StartedAt: started}
	defer func() {
		if r := recover(); r != nil {
			result.FinishedAt = time.Now()
			if ctx.Err() != nil {
				result.Outcome = job.OutcomeCancelled
				result.Error = fmt.Sprintf("cancelled: panic: %v", r)
				return
			}
			result.Outcome = job.OutcomeFailed
			result.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	ret, err := fn(ctx, j.Args, j.Kwargs)
	result.FinishedAt = time.Now()
	if ctx.Err() != nil {
		result.Outcome = job.OutcomeCancelled
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Error = ctx.Err().Error()
		}
		return result
	}
	if err != nil {
		result.Outcome = job.OutcomeFailed
		result.Error = err.Error()
		return result
	}
	result.Outcome = job.OutcomeSuccess
	result.ReturnValue = ret
	return result
}

// finish writes result back to the store and publishes the outcome
// events a RunJob/GetJobResult caller (or any other subscriber) watches.
func (l *Loop) finish(ctx context.Context, j job.Job, result job.Result) {
	if err := l.store.ReleaseJob(ctx, l.opts.NodeID, j.ID, result); err != nil {
		l.logger.Error("release job failed", "job_id", j.ID, "error", err)
		return
	}

	metrics.JobExecutionDuration.WithLabelValues(j.TaskID, string(result.Outcome)).
		Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	metrics.JobsCompletedTotal.WithLabelValues(string(result.Outcome)).Inc()

	l.publish(ctx, broker.KindJobReleased, j.ID)
	switch result.Outcome {
	case job.OutcomeSuccess:
		l.publish(ctx, broker.KindJobSuccessful, j.ID)
	case job.OutcomeFailed:
		l.publish(ctx, broker.KindJobFailed, j.ID)
	case job.OutcomeMissedDeadline:
		l.publish(ctx, broker.KindJobDeadlineMissed, j.ID)
	case job.OutcomeCancelled:
		l.publish(ctx, broker.KindJobCancelled, j.ID)
	}
}

// heartbeat logs that jobID is still in flight every heartbeatInterval,
// until ctx is canceled (job finished or the loop is shutting down).
func (l *Loop) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.logger.Debug("job still in flight", "job_id", jobID)
		}
	}
}

// nextWake mirrors schedloop's wake computation for the job side: the
// earliest of the soonest unacquired job's ScheduledFireTime, or the
// loop's own poll interval.
func (l *Loop) nextWake(ctx context.Context, now time.Time) time.Time {
	wake := now.Add(l.opts.PollInterval)

	jobs, err := l.store.GetJobs(ctx, nil)
	if err != nil {
		return wake
	}
	for _, j := range jobs {
		if j.AcquiredBy != nil {
			continue
		}
		if j.ScheduledFireTime.Before(wake) {
			wake = j.ScheduledFireTime
		}
	}
	return wake
}

func (l *Loop) publish(ctx context.Context, kind broker.Kind, id string) {
	if err := l.broker.Publish(ctx, broker.Event{Kind: kind, ID: id, Timestamp: time.Now()}); err != nil {
		l.logger.Debug("publish failed", "kind", kind, "error", err)
	}
}

func isFatalStoreErr(err error) bool {
	var fatal *store.ErrFatal
	return errors.As(err, &fatal)
}
