package schedloop

import (
	"context"
	"testing"
	"time"

	"github.com/relaysched/relay/broker/localbroker"
	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/store/memstore"
	"github.com/relaysched/relay/trigger"
)

func TestLoop_StartStopTransitions(t *testing.T) {
	st := memstore.New()
	b := localbroker.New()
	defer b.Close()

	l := New(st, b, Options{
		NodeID:        "node-1",
		PollInterval:  10 * time.Millisecond,
		LeaseDuration: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := l.State(); got != StateRunning {
		t.Fatalf("expected state running, got %s", got)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := l.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	l.WaitUntilStopped()

	if got := l.State(); got != StateStopped {
		t.Fatalf("expected state stopped, got %s", got)
	}
}

func TestLoop_DispatchesDueSchedule(t *testing.T) {
	st := memstore.New()
	b := localbroker.New()
	defer b.Close()

	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	tr, err := trigger.NewDate(past)
	if err != nil {
		t.Fatalf("new date: %v", err)
	}
	sc := schedule.Schedule{
		ID:             "sc-due",
		TaskID:         "task-due",
		Trigger:        tr,
		CoalescePolicy: schedule.CoalesceAll,
		NextFireTime:   &past,
	}
	if err := st.AddSchedule(ctx, sc, store.ConflictException); err != nil {
		t.Fatalf("add schedule: %v", err)
	}

	l := New(st, b, Options{
		NodeID:        "node-1",
		PollInterval:  10 * time.Millisecond,
		LeaseDuration: time.Second,
	})
	if err := l.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		l.Stop(stopCtx)
		l.WaitUntilStopped()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := st.GetJobs(ctx, nil)
		if err != nil {
			t.Fatalf("get jobs: %v", err)
		}
		if len(jobs) > 0 {
			if jobs[0].TaskID != "task-due" {
				t.Fatalf("expected job for task-due, got %s", jobs[0].TaskID)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for scheduler loop to dispatch the due schedule")
}
