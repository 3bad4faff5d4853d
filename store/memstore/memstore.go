// Package memstore is the single-process reference Store backend:
// sync.Mutex-guarded maps, no external dependency. It is the façade's
// default backend and the implementation every store contract test runs
// against first.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaysched/relay/job"
	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/task"
)

// Store implements store.Store over in-memory maps guarded by a single
// mutex. Good enough for tests, a single-node deployment, or as the
// reference the other backends are checked against.
type Store struct {
	mu sync.Mutex

	tasks     map[string]task.Task
	schedules map[string]*schedule.Schedule
	jobs      map[string]*job.Job
	results   map[string]resultEntry
	resultTTL time.Duration

	now func() time.Time
}

type resultEntry struct {
	result  job.Result
	expires time.Time
}

// Option customizes a Store at construction.
type Option func(*Store)

// WithResultTTL sets how long a job result survives after ReleaseJob
// before Cleanup reaps it. Defaults to 24 hours.
func WithResultTTL(d time.Duration) Option { return func(s *Store) { s.resultTTL = d } }

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New builds an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tasks:     make(map[string]task.Task),
		schedules: make(map[string]*schedule.Schedule),
		jobs:      make(map[string]*job.Job),
		results:   make(map[string]resultEntry),
		resultTTL: 24 * time.Hour,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) AddTask(ctx context.Context, t task.Task, policy store.ConflictPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		switch policy {
		case store.ConflictException:
			return &store.ErrConflictingID{Kind: "task", ID: t.ID}
		case store.ConflictDoNothing:
			return nil
		}
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.tasks[t.ID] = t
	return nil
}

func (s *Store) GetTasks(ctx context.Context) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RemoveTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *Store) AddSchedule(ctx context.Context, sc schedule.Schedule, policy store.ConflictPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[sc.ID]; exists {
		switch policy {
		case store.ConflictException:
			return &store.ErrConflictingID{Kind: "schedule", ID: sc.ID}
		case store.ConflictDoNothing:
			return nil
		}
	}
	now := s.now()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	cp := sc
	s.schedules[sc.ID] = &cp
	return nil
}

func (s *Store) GetSchedules(ctx context.Context, ids []string) ([]schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []schedule.Schedule
	if len(ids) == 0 {
		for _, sc := range s.schedules {
			out = append(out, *sc)
		}
	} else {
		for _, id := range ids {
			if sc, ok := s.schedules[id]; ok {
				out = append(out, *sc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RemoveSchedules(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.schedules, id)
	}
	return nil
}

func (s *Store) AcquireSchedules(ctx context.Context, schedulerID string, leaseDuration time.Duration, limit int) ([]schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidates []*schedule.Schedule
	for _, sc := range s.schedules {
		if sc.Paused {
			continue
		}
		if sc.NextFireTime == nil || sc.NextFireTime.After(now) {
			continue
		}
		if sc.AcquiredUntil != nil && sc.AcquiredUntil.After(now) {
			continue
		}
		candidates = append(candidates, sc)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextFireTime.Before(*candidates[j].NextFireTime)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]schedule.Schedule, 0, len(candidates))
	acquiredUntil := now.Add(leaseDuration)
	for _, sc := range candidates {
		id := schedulerID
		sc.AcquiredBy = &id
		sc.AcquiredUntil = &acquiredUntil
		out = append(out, *sc)
	}
	return out, nil
}

func (s *Store) ReleaseSchedules(ctx context.Context, schedulerID string, updates []store.ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		sc, ok := s.schedules[u.ScheduleID]
		if !ok || sc.AcquiredBy == nil || *sc.AcquiredBy != schedulerID {
			continue
		}
		if u.NextFireTime == nil {
			delete(s.schedules, u.ScheduleID)
			continue
		}
		sc.NextFireTime = u.NextFireTime
		sc.LastFireTime = u.LastFireTime
		sc.AcquiredBy = nil
		sc.AcquiredUntil = nil
		sc.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) AddJob(ctx context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.now()
	}
	cp := j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *Store) GetJobs(ctx context.Context, ids []string) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []job.Job
	if len(ids) == 0 {
		for _, j := range s.jobs {
			out = append(out, *j)
		}
	} else {
		for _, id := range ids {
			if j, ok := s.jobs[id]; ok {
				out = append(out, *j)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AcquireJobs(ctx context.Context, workerID string, leaseDuration time.Duration, limit int) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	running := make(map[string]int) // task_id -> currently in-flight jobs
	var candidates []*job.Job
	for _, j := range s.jobs {
		if j.AcquiredUntil != nil && j.AcquiredUntil.After(now) {
			running[j.TaskID]++
			continue
		}
		if j.ScheduledFireTime.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ScheduledFireTime.Before(candidates[j].ScheduledFireTime)
	})

	out := make([]job.Job, 0, len(candidates))
	acquiredUntil := now.Add(leaseDuration)
	for _, j := range candidates {
		if limit > 0 && len(out) >= limit {
			break
		}
		if cap := s.tasks[j.TaskID].MaxRunningJobs; cap != nil && running[j.TaskID] >= *cap {
			continue // task is at its MaxRunningJobs cap; leave for a later cycle
		}
		id := workerID
		j.AcquiredBy = &id
		j.AcquiredUntil = &acquiredUntil
		j.StartedAt = &now
		running[j.TaskID]++
		out = append(out, *j)
	}
	return out, nil
}

func (s *Store) ReleaseJob(ctx context.Context, workerID string, jobID string, result job.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[jobID]; ok {
		if j.AcquiredBy == nil || *j.AcquiredBy != workerID {
			return nil
		}
		delete(s.jobs, jobID)
	}
	s.results[jobID] = resultEntry{result: result, expires: s.now().Add(s.resultTTL)}
	return nil
}

func (s *Store) GetJobResult(ctx context.Context, jobID string) (job.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.results[jobID]
	if !ok {
		return job.Result{}, job.ErrResultNotReady
	}
	if s.now().After(entry.expires) {
		delete(s.results, jobID)
		return job.Result{}, store.ErrResultExpired
	}
	return entry.result, nil
}

func (s *Store) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, sc := range s.schedules {
		if sc.AcquiredUntil != nil && sc.AcquiredUntil.Before(now) {
			sc.AcquiredBy = nil
			sc.AcquiredUntil = nil
		}
	}
	for _, j := range s.jobs {
		if j.AcquiredUntil != nil && j.AcquiredUntil.Before(now) {
			j.AcquiredBy = nil
			j.AcquiredUntil = nil
			j.StartedAt = nil
		}
	}
	for id, entry := range s.results {
		if now.After(entry.expires) {
			delete(s.results, id)
		}
	}
	return nil
}
