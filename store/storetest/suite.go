// Package storetest is a backend-agnostic contract suite: any store.Store
// implementation that passes Run satisfies the data store contract's
// atomicity and lease semantics, independent of how it persists state.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/relaysched/relay/job"
	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/task"
	"github.com/relaysched/relay/trigger"
)

// Run exercises store.Store's basic CRUD and lease-acquisition contract
// against s. Call it from each backend's own _test.go with a freshly
// constructed, empty Store.
func Run(t *testing.T, newStore func() store.Store) {
	t.Helper()

	t.Run("TaskAddGetRemove", func(t *testing.T) { testTaskAddGetRemove(t, newStore()) })
	t.Run("TaskConflictPolicies", func(t *testing.T) { testTaskConflictPolicies(t, newStore()) })
	t.Run("ScheduleAcquireRelease", func(t *testing.T) { testScheduleAcquireRelease(t, newStore()) })
	t.Run("ScheduleAcquireSkipsLeased", func(t *testing.T) { testScheduleAcquireSkipsLeased(t, newStore()) })
	t.Run("JobAcquireReleaseResult", func(t *testing.T) { testJobAcquireReleaseResult(t, newStore()) })
	t.Run("JobAcquireRespectsMaxRunningJobs", func(t *testing.T) { testJobAcquireRespectsMaxRunningJobs(t, newStore()) })
}

func testTaskAddGetRemove(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := task.Task{ID: "send-email", FuncReference: "pkg.SendEmail"}
	if err := s.AddTask(ctx, tk, store.ConflictException); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	got, err := s.GetTasks(ctx)
	if err != nil {
		t.Fatalf("GetTasks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "send-email" {
		t.Fatalf("GetTasks = %+v, want one task send-email", got)
	}
	if err := s.RemoveTask(ctx, "send-email"); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	got, err = s.GetTasks(ctx)
	if err != nil {
		t.Fatalf("GetTasks after remove: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("GetTasks after remove = %+v, want none", got)
	}
}

func testTaskConflictPolicies(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := task.Task{ID: "t1", FuncReference: "pkg.A"}
	if err := s.AddTask(ctx, tk, store.ConflictException); err != nil {
		t.Fatalf("AddTask first: %v", err)
	}

	if err := s.AddTask(ctx, tk, store.ConflictException); err == nil {
		t.Fatal("AddTask with ConflictException on duplicate id: want error, got nil")
	}

	if err := s.AddTask(ctx, task.Task{ID: "t1", FuncReference: "pkg.B"}, store.ConflictDoNothing); err != nil {
		t.Fatalf("AddTask with ConflictDoNothing: %v", err)
	}
	tasks, _ := s.GetTasks(ctx)
	if tasks[0].FuncReference != "pkg.A" {
		t.Fatalf("ConflictDoNothing overwrote existing task: got %q", tasks[0].FuncReference)
	}

	if err := s.AddTask(ctx, task.Task{ID: "t1", FuncReference: "pkg.C"}, store.ConflictReplace); err != nil {
		t.Fatalf("AddTask with ConflictReplace: %v", err)
	}
	tasks, _ = s.GetTasks(ctx)
	if tasks[0].FuncReference != "pkg.C" {
		t.Fatalf("ConflictReplace did not overwrite: got %q", tasks[0].FuncReference)
	}
}

func testScheduleAcquireRelease(t *testing.T, s store.Store) {
	ctx := context.Background()
	require(t, s.AddTask(ctx, task.Task{ID: "t1", FuncReference: "pkg.A"}, store.ConflictException))

	past := time.Now().Add(-time.Minute)
	trg, _ := trigger.NewDate(past)
	sc := schedule.Schedule{ID: "s1", TaskID: "t1", Trigger: trg, NextFireTime: &past}
	require(t, s.AddSchedule(ctx, sc, store.ConflictException))

	acquired, err := s.AcquireSchedules(ctx, "scheduler-a", time.Minute, 10)
	if err != nil {
		t.Fatalf("AcquireSchedules: %v", err)
	}
	if len(acquired) != 1 || acquired[0].ID != "s1" {
		t.Fatalf("AcquireSchedules = %+v, want one schedule s1", acquired)
	}

	future := time.Now().Add(time.Hour)
	err = s.ReleaseSchedules(ctx, "scheduler-a", []store.ScheduleUpdate{
		{ScheduleID: "s1", NextFireTime: &future},
	})
	if err != nil {
		t.Fatalf("ReleaseSchedules: %v", err)
	}

	got, err := s.GetSchedules(ctx, []string{"s1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("GetSchedules after release: %+v, err=%v", got, err)
	}
	if got[0].AcquiredBy != nil {
		t.Fatalf("GetSchedules after release: still leased by %q", *got[0].AcquiredBy)
	}
	if got[0].NextFireTime == nil || !got[0].NextFireTime.Equal(future) {
		t.Fatalf("GetSchedules after release: NextFireTime = %v, want %v", got[0].NextFireTime, future)
	}
}

func testScheduleAcquireSkipsLeased(t *testing.T, s store.Store) {
	ctx := context.Background()
	require(t, s.AddTask(ctx, task.Task{ID: "t1", FuncReference: "pkg.A"}, store.ConflictException))

	past := time.Now().Add(-time.Minute)
	trg, _ := trigger.NewDate(past)
	sc := schedule.Schedule{ID: "s1", TaskID: "t1", Trigger: trg, NextFireTime: &past}
	require(t, s.AddSchedule(ctx, sc, store.ConflictException))

	if _, err := s.AcquireSchedules(ctx, "scheduler-a", time.Hour, 10); err != nil {
		t.Fatalf("first AcquireSchedules: %v", err)
	}

	acquired, err := s.AcquireSchedules(ctx, "scheduler-b", time.Hour, 10)
	if err != nil {
		t.Fatalf("second AcquireSchedules: %v", err)
	}
	if len(acquired) != 0 {
		t.Fatalf("second AcquireSchedules = %+v, want none (still leased by scheduler-a)", acquired)
	}
}

func testJobAcquireReleaseResult(t *testing.T, s store.Store) {
	ctx := context.Background()
	require(t, s.AddTask(ctx, task.Task{ID: "t1", FuncReference: "pkg.A"}, store.ConflictException))

	due := time.Now().Add(-time.Second)
	j := job.Job{ID: "j1", TaskID: "t1", ScheduledFireTime: due}
	require(t, s.AddJob(ctx, j))

	if _, err := s.GetJobResult(ctx, "j1"); err != job.ErrResultNotReady {
		t.Fatalf("GetJobResult before run: err = %v, want ErrResultNotReady", err)
	}

	acquired, err := s.AcquireJobs(ctx, "worker-a", time.Minute, 10)
	if err != nil {
		t.Fatalf("AcquireJobs: %v", err)
	}
	if len(acquired) != 1 || acquired[0].ID != "j1" {
		t.Fatalf("AcquireJobs = %+v, want one job j1", acquired)
	}

	now := time.Now()
	result := job.Result{JobID: "j1", Outcome: job.OutcomeSuccess, StartedAt: now, FinishedAt: now}
	if err := s.ReleaseJob(ctx, "worker-a", "j1", result); err != nil {
		t.Fatalf("ReleaseJob: %v", err)
	}

	got, err := s.GetJobResult(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJobResult after release: %v", err)
	}
	if got.Outcome != job.OutcomeSuccess {
		t.Fatalf("GetJobResult.Outcome = %q, want success", got.Outcome)
	}

	jobs, err := s.GetJobs(ctx, nil)
	if err != nil {
		t.Fatalf("GetJobs after release: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("GetJobs after release = %+v, want none (job record consumed)", jobs)
	}
}

func testJobAcquireRespectsMaxRunningJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	cap := 1
	require(t, s.AddTask(ctx, task.Task{ID: "t1", FuncReference: "pkg.A", MaxRunningJobs: &cap}, store.ConflictException))

	due := time.Now().Add(-time.Second)
	require(t, s.AddJob(ctx, job.Job{ID: "j1", TaskID: "t1", ScheduledFireTime: due}))
	require(t, s.AddJob(ctx, job.Job{ID: "j2", TaskID: "t1", ScheduledFireTime: due}))

	first, err := s.AcquireJobs(ctx, "worker-a", time.Minute, 10)
	if err != nil {
		t.Fatalf("first AcquireJobs: %v", err)
	}
	if len(first) != 1 || first[0].ID != "j1" {
		t.Fatalf("first AcquireJobs = %+v, want only j1 (task t1 caps at %d running job)", first, cap)
	}

	// j2 is still due but t1 is already at capacity; a second worker must
	// not be handed it.
	second, err := s.AcquireJobs(ctx, "worker-b", time.Minute, 10)
	if err != nil {
		t.Fatalf("second AcquireJobs: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second AcquireJobs = %+v, want none (t1 at MaxRunningJobs)", second)
	}

	now := time.Now()
	require(t, s.ReleaseJob(ctx, "worker-a", "j1", job.Result{JobID: "j1", Outcome: job.OutcomeSuccess, StartedAt: now, FinishedAt: now}))

	// With j1's slot freed, j2 becomes acquirable.
	third, err := s.AcquireJobs(ctx, "worker-b", time.Minute, 10)
	if err != nil {
		t.Fatalf("third AcquireJobs: %v", err)
	}
	if len(third) != 1 || third[0].ID != "j2" {
		t.Fatalf("third AcquireJobs = %+v, want only j2 once t1's running slot freed", third)
	}
}

func require(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
