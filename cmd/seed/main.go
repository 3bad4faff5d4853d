// seed registers a handful of demo tasks, schedules, and one-shot jobs
// against a relay store for local dev testing. Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relaysched/relay/config"
	"github.com/relaysched/relay/job"
	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/store/memstore"
	"github.com/relaysched/relay/store/pgstore"
	"github.com/relaysched/relay/task"
	"github.com/relaysched/relay/trigger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	if err := seedTasks(ctx, st); err != nil {
		log.Fatalf("seed tasks: %v", err)
	}
	scheduleIDs, err := seedSchedules(ctx, st)
	if err != nil {
		log.Fatalf("seed schedules: %v", err)
	}
	jobIDs, err := seedJobs(ctx, st)
	if err != nil {
		log.Fatalf("seed jobs: %v", err)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Backend:   %s\n", cfg.Backend)
	fmt.Printf("  Tasks:     http_get, http_post, always_fail\n")
	fmt.Printf("  Schedules: %d\n", len(scheduleIDs))
	for _, id := range scheduleIDs {
		fmt.Printf("    %s\n", id)
	}
	fmt.Printf("  Jobs:      %d\n", len(jobIDs))
	for _, id := range jobIDs {
		fmt.Printf("    %s\n", id)
	}
	fmt.Println()
	fmt.Println("Start a scheduler and worker node to see the schedules fire and the")
	fmt.Println("jobs execute:")
	fmt.Println()
	fmt.Println("  go run ./cmd/scheduler")
	fmt.Println("  go run ./cmd/worker")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := pgstore.New(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

// seedTasks registers the task rows a worker node (see cmd/worker)
// resolves by ID at job-execution time. The seed script never runs a
// worker loop itself, so it only persists Task metadata here; it never
// needs to pass a task.Func.
func seedTasks(ctx context.Context, st store.Store) error {
	tasks := []task.Task{
		{ID: "http_get", FuncReference: "httptask.get"},
		{ID: "http_post", FuncReference: "httptask.post"},
		{ID: "always_fail", FuncReference: "seed.alwaysFail"},
	}
	for _, t := range tasks {
		if err := st.AddTask(ctx, t, store.ConflictReplace); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	return nil
}

// seedSchedules adds a handful of schedules exercising each coalesce
// policy and the interval, cron and date trigger kinds, mirroring the spread of retry/
// backoff combinations the teacher's seed script exercised over HTTP
// status codes, now expressed as the trigger algebra's own variety.
func seedSchedules(ctx context.Context, st store.Store) ([]string, error) {
	now := time.Now()

	everyMinute, err := trigger.NewInterval(trigger.IntervalOptions{
		Minutes:   1,
		StartTime: now.Add(-time.Minute),
	})
	if err != nil {
		return nil, err
	}

	hourly, err := trigger.NewCron(trigger.CronOptions{
		Minute:    "0",
		StartTime: now,
		Timezone:  time.UTC,
	})
	if err != nil {
		return nil, err
	}

	soon := now.Add(10 * time.Second)
	oneShot, err := trigger.NewDate(soon)
	if err != nil {
		return nil, err
	}

	graceTime := 30 * time.Second
	specs := []schedule.Schedule{
		{
			ID:               "seed-ping-every-minute",
			TaskID:           "http_get",
			Trigger:          everyMinute,
			Kwargs:           map[string]any{"url": "https://httpbin.org/get"},
			CoalescePolicy:   schedule.CoalesceLatest,
			MisfireGraceTime: &graceTime,
			NextFireTime:     scheduleFirstFireTime(everyMinute),
		},
		{
			ID:             "seed-hourly-report",
			TaskID:         "http_post",
			Trigger:        hourly,
			Kwargs:         map[string]any{"url": "https://httpbin.org/post", "body": "report"},
			CoalescePolicy: schedule.CoalesceAll,
			NextFireTime:   scheduleFirstFireTime(hourly),
		},
		{
			ID:             "seed-one-shot",
			TaskID:         "http_get",
			Trigger:        oneShot,
			Kwargs:         map[string]any{"url": "https://httpbin.org/delay/1"},
			CoalescePolicy: schedule.CoalesceEarliest,
			NextFireTime:   &soon,
		},
	}

	ids := make([]string, 0, len(specs))
	for _, sc := range specs {
		if err := st.AddSchedule(ctx, sc, store.ConflictReplace); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sc.ID, err)
		}
		ids = append(ids, sc.ID)
	}
	return ids, nil
}

// seedJobs submits a few one-shot jobs directly, bypassing any
// schedule, for immediate pickup by a running worker node.
func seedJobs(ctx context.Context, st store.Store) ([]string, error) {
	now := time.Now()
	jobs := []job.Job{
		{
			ID:                "seed-job-get",
			TaskID:            "http_get",
			ScheduledFireTime: now,
			Kwargs:            map[string]any{"url": "https://httpbin.org/get"},
			CreatedAt:         now,
		},
		{
			ID:                "seed-job-post",
			TaskID:            "http_post",
			ScheduledFireTime: now,
			Kwargs:            map[string]any{"url": "https://httpbin.org/status/500"},
			CreatedAt:         now,
		},
		{
			ID:                "seed-job-fail",
			TaskID:            "always_fail",
			ScheduledFireTime: now,
			CreatedAt:         now,
		},
	}

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if err := st.AddJob(ctx, j); err != nil {
			return nil, fmt.Errorf("job %s: %w", j.ID, err)
		}
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func scheduleFirstFireTime(tr trigger.Trigger) *time.Time {
	t, ok, err := tr.Next()
	if err != nil || !ok {
		return nil
	}
	return &t
}

