// Package schedloop runs the scheduler loop (§4.E): the control loop
// that claims due schedules under a lease, advances their triggers, and
// materializes the jobs workers pick up. It is generalized from the
// teacher's ticker-driven Dispatcher to the full acquire/advance/release
// cycle the data store and event broker contracts require.
package schedloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaysched/relay/broker"
	"github.com/relaysched/relay/internal/metrics"
	"github.com/relaysched/relay/store"
)

// State is the loop's own lifecycle, distinct from any one schedule's
// state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Options configures a Loop. Zero-value durations/limits are replaced
// with sane defaults by New.
type Options struct {
	NodeID        string
	PollInterval  time.Duration
	LeaseDuration time.Duration
	BatchLimit    int
	Logger        *slog.Logger
}

// Loop is one scheduler node's run of the scheduler loop. A Loop is not
// reusable across Stop/Start cycles; construct a new one.
type Loop struct {
	store  store.Store
	broker broker.Broker
	opts   Options
	logger *slog.Logger
	cache  *scheduleCache

	mu    sync.Mutex
	state State
	err   error

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New builds a Loop. It does not start it; call Start.
func New(st store.Store, b broker.Broker, opts Options) *Loop {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 30 * time.Second
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		store:     st,
		broker:    b,
		opts:      opts,
		logger:    logger.With("component", "schedloop", "node_id", opts.NodeID),
		cache:     newScheduleCache(),
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
// because of a fatal store/broker error rather than a Stop call.
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
// goroutine. It returns once the loop has subscribed to wake-up events
// and is about to run its first cycle.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		return fmt.Errorf("schedloop: cannot start from state %s", l.state)
	}
	l.state = StateStarting
	l.mu.Unlock()

	sub, err := l.broker.Subscribe(ctx, broker.KindScheduleAdded, broker.KindScheduleUpdated, broker.KindScheduleRemoved)
	if err != nil {
		l.setState(StateStopped)
		return fmt.Errorf("schedloop: subscribe for wake-ups: %w", err)
	}

	metrics.NodeStartTime.WithLabelValues("scheduler").SetToCurrentTime()
	l.broker.Publish(ctx, broker.Event{Kind: broker.KindSchedulerStarted, ID: l.opts.NodeID, Timestamp: time.Now()})

	l.setState(StateRunning)
	l.logger.Info("scheduler loop started", "poll_interval", l.opts.PollInterval, "lease_duration", l.opts.LeaseDuration)

	go l.run(ctx, sub)
	return nil
}

// Stop transitions running->stopping and blocks until the loop's
// goroutine has exited or ctx is done, whichever comes first.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return nil
	}
	l.state = StateStopping
	l.mu.Unlock()

	close(l.stopCh)

	select {
	case <-l.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitUntilStopped blocks until the loop's goroutine has exited, however
// it exited.
func (l *Loop) WaitUntilStopped() {
	<-l.stoppedCh
}

func (l *Loop) run(ctx context.Context, sub broker.Subscription) {
	defer sub.Unsubscribe()
	defer close(l.stoppedCh)
	defer l.setState(StateStopped)
	defer func() {
		l.broker.Publish(context.Background(), broker.Event{Kind: broker.KindSchedulerStopped, ID: l.opts.NodeID, Timestamp: time.Now()})
		metrics.NodeShutdownsTotal.WithLabelValues("scheduler").Inc()
	}()

	attempt := 0
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		wake, err := l.cycle(ctx)
		metrics.SchedulerCycleDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			if isFatalStoreErr(err) {
				l.mu.Lock()
				l.err = err
				l.mu.Unlock()
				l.logger.Error("scheduler loop stopping on fatal error", "error", err)
				return
			}
			attempt++
			delay := retryDelay(attempt)
			l.logger.Warn("scheduler cycle failed, retrying", "error", err, "attempt", attempt, "delay", delay)
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
		case evt := <-sub.C():
			timer.Stop()
			// Another node may have advanced or removed this schedule
			// past what our own cache last saw; drop it rather than
			// risk nextWake sleeping past a fire time someone else
			// rewrote underneath us.
			l.cache.remove(evt.ID)
		}
	}
}

// cycle runs one iteration of the scheduler loop's six-step algorithm
// (§4.E) and returns the time the loop should next wake, absent an
// earlier wake-up event.
func (l *Loop) cycle(ctx context.Context) (time.Time, error) {
	now := time.Now()

	acquired, err := l.store.AcquireSchedules(ctx, l.opts.NodeID, l.opts.LeaseDuration, l.opts.BatchLimit)
	if err != nil {
		return time.Time{}, fmt.Errorf("acquire schedules: %w", err)
	}

	updates := make([]store.ScheduleUpdate, 0, len(acquired))
	for i := range acquired {
		sc := &acquired[i]

		result, err := computeAdvance(sc, now)
		if err != nil {
			l.logger.Error("advance schedule failed", "schedule_id", sc.ID, "error", err)
			// Release it untouched so another node can retry rather than
			// holding the lease until it expires.
			updates = append(updates, store.ScheduleUpdate{
				ScheduleID:   sc.ID,
				NextFireTime: sc.NextFireTime,
				LastFireTime: sc.LastFireTime,
			})
			continue
		}

		for _, j := range result.Jobs {
			if err := l.store.AddJob(ctx, j); err != nil {
				return time.Time{}, fmt.Errorf("add job for schedule %s: %w", sc.ID, err)
			}
			l.publish(ctx, broker.KindJobAdded, j.ID)
		}
		metrics.SchedulesDispatchedTotal.WithLabelValues(string(sc.CoalescePolicy)).Add(float64(len(result.Jobs)))

		for range result.Missed {
			l.publish(ctx, broker.KindJobDeadlineMissed, sc.ID)
		}

		updates = append(updates, result.Update)
		if result.Update.NextFireTime == nil {
			l.publish(ctx, broker.KindScheduleRemoved, sc.ID)
			l.cache.remove(sc.ID)
		} else {
			l.publish(ctx, broker.KindScheduleUpdated, sc.ID)
			cached := *sc
			cached.NextFireTime = result.Update.NextFireTime
			cached.LastFireTime = result.Update.LastFireTime
			l.cache.touch(cached)
		}
	}

	if len(updates) > 0 {
		if err := l.store.ReleaseSchedules(ctx, l.opts.NodeID, updates); err != nil {
			return time.Time{}, fmt.Errorf("release schedules: %w", err)
		}
	}

	if err := l.store.Cleanup(ctx); err != nil {
		l.logger.Warn("cleanup failed", "error", err)
	}

	return l.nextWake(ctx, now)
}

// nextWake computes the earliest of: the soonest upcoming, unleased
// schedule's NextFireTime; the loop's own poll interval (no lease or
// node record is renewed on it); or a broker wake-up, handled separately by the
// caller's select. It consults the local hot-schedule cache first,
// falling back to a store scan only when the cache has nothing to say.
func (l *Loop) nextWake(ctx context.Context, now time.Time) (time.Time, error) {
	wake := now.Add(l.opts.PollInterval)

	if cached, ok := l.cache.earliest(); ok {
		if cached.NextFireTime.Before(wake) {
			wake = *cached.NextFireTime
		}
		return wake, nil
	}

	schedules, err := l.store.GetSchedules(ctx, nil)
	if err != nil {
		return wake, nil // non-fatal: fall back to the poll interval.
	}
	for _, sc := range schedules {
		if sc.Paused || sc.NextFireTime == nil || sc.AcquiredBy != nil {
			continue
		}
		if sc.NextFireTime.Before(wake) {
			wake = *sc.NextFireTime
		}
	}
	return wake, nil
}

func (l *Loop) publish(ctx context.Context, kind broker.Kind, id string) {
	if err := l.broker.Publish(ctx, broker.Event{Kind: kind, ID: id, Timestamp: time.Now()}); err != nil {
		l.logger.Debug("publish failed", "kind", kind, "error", err)
	}
}

// isFatalStoreErr reports whether err should stop the loop outright
// rather than being retried with backoff. Only store.ErrFatal marks a
// non-retryable failure; everything else (including context
// cancellation surfaced through a store call) is treated as transient,
// since Stop/ctx cancellation is handled directly in run's select.
func isFatalStoreErr(err error) bool {
	var fatal *store.ErrFatal
	return errors.As(err, &fatal)
}
