package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/relaysched/relay"
	"github.com/relaysched/relay/broker/localbroker"
	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/store/memstore"
	"github.com/relaysched/relay/task"
	"github.com/relaysched/relay/trigger"
)

func TestScheduler_RunJob(t *testing.T) {
	s, err := relay.Configure(relay.Options{
		Store:        memstore.New(),
		Broker:       localbroker.New(),
		RunScheduler: true,
		RunWorker:    true,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}

	ctx := context.Background()
	if err := s.AddTask(ctx, task.Task{ID: "double"}, func(_ context.Context, args []any, _ map[string]any) (any, error) {
		n := args[0].(int)
		return n * 2, nil
	}, store.ConflictException); err != nil {
		t.Fatalf("add task: %v", err)
	}

	if err := s.StartInBackground(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(stopCtx)
		s.WaitUntilStopped()
	}()

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	result, err := s.RunJob(runCtx, "double", []any{21}, nil)
	if err != nil {
		t.Fatalf("run job: %v", err)
	}
	if result.ReturnValue != 42 {
		t.Fatalf("expected 42, got %v", result.ReturnValue)
	}
}

func TestScheduler_AddScheduleDispatchesAndAdvances(t *testing.T) {
	s, err := relay.Configure(relay.Options{
		Store:        memstore.New(),
		Broker:       localbroker.New(),
		RunScheduler: true,
		RunWorker:    true,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}

	ctx := context.Background()
	calls := make(chan struct{}, 8)
	if err := s.AddTask(ctx, task.Task{ID: "tick"}, func(context.Context, []any, map[string]any) (any, error) {
		calls <- struct{}{}
		return nil, nil
	}, store.ConflictException); err != nil {
		t.Fatalf("add task: %v", err)
	}

	tr, err := trigger.NewInterval(trigger.IntervalOptions{
		Seconds:   1,
		StartTime: time.Now().Add(-2 * time.Second),
	})
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	now := time.Now().Add(-2 * time.Second)
	if err := s.AddSchedule(ctx, schedule.Schedule{
		ID:             "tick-sched",
		TaskID:         "tick",
		Trigger:        tr,
		CoalescePolicy: schedule.CoalesceAll,
		NextFireTime:   &now,
	}, store.ConflictException); err != nil {
		t.Fatalf("add schedule: %v", err)
	}

	if err := s.StartInBackground(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(stopCtx)
		s.WaitUntilStopped()
	}()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the schedule to fire at least once")
	}
}

func TestScheduler_PauseSchedulePreventsAcquisition(t *testing.T) {
	st := memstore.New()
	s, err := relay.Configure(relay.Options{
		Store:        st,
		Broker:       localbroker.New(),
		RunScheduler: true,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}

	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	tr, err := trigger.NewDate(past)
	if err != nil {
		t.Fatalf("new date: %v", err)
	}
	if err := s.AddSchedule(ctx, schedule.Schedule{
		ID:             "paused-sched",
		TaskID:         "whatever",
		Trigger:        tr,
		CoalescePolicy: schedule.CoalesceAll,
		NextFireTime:   &past,
	}, store.ConflictException); err != nil {
		t.Fatalf("add schedule: %v", err)
	}
	if err := s.PauseSchedule(ctx, "paused-sched"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	sc, err := s.GetSchedule(ctx, "paused-sched")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !sc.Paused {
		t.Fatal("expected schedule to be paused")
	}

	if err := s.StartInBackground(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(stopCtx)
		s.WaitUntilStopped()
	}()

	time.Sleep(100 * time.Millisecond)
	jobs, err := st.GetJobs(ctx, nil)
	if err != nil {
		t.Fatalf("get jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected a paused schedule to never dispatch, got %d jobs", len(jobs))
	}
}
