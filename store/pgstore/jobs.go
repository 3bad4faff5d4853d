package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaysched/relay/job"
	"github.com/relaysched/relay/store"
)

// resultTTL mirrors memstore's default; a Store constructed by tests that
// need a different TTL can issue DELETE/UPDATE against job_results.expires_at
// directly since pgstore has no in-memory config to override here.
const resultTTL = 24 * time.Hour

func (s *Store) AddJob(ctx context.Context, j job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, task_id, schedule_id, scheduled_fire_time, jitter_seconds,
			start_deadline, tags, args, kwargs, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		j.ID, j.TaskID, j.ScheduleID, j.ScheduledFireTime, j.Jitter.Seconds(),
		j.StartDeadline, j.Tags, j.Args, j.Kwargs,
	)
	if err != nil {
		return &store.ErrTransient{Err: err}
	}
	return nil
}

func (s *Store) GetJobs(ctx context.Context, ids []string) ([]job.Job, error) {
	var rows pgx.Rows
	var err error
	if len(ids) == 0 {
		rows, err = s.pool.Query(ctx, jobSelect+" ORDER BY id")
	} else {
		rows, err = s.pool.Query(ctx, jobSelect+" WHERE id = ANY($1) ORDER BY id", ids)
	}
	if err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	return out, nil
}

// AcquireJobs claims due jobs with FOR UPDATE SKIP LOCKED, the job-side
// analogue of AcquireSchedules. Candidates are then filtered in Go against
// each task's MaxRunningJobs cap (counting jobs already leased to some
// worker plus anything admitted earlier in this same batch) rather than
// pushed into the locking query, since FOR UPDATE cannot be combined with
// the window function a single-query cap check would need.
func (s *Store) AcquireJobs(ctx context.Context, workerID string, leaseDuration time.Duration, limit int) ([]job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, jobSelect+`
		WHERE scheduled_fire_time <= NOW()
		  AND (acquired_until IS NULL OR acquired_until <= NOW())
		ORDER BY scheduled_fire_time ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, &store.ErrTransient{Err: err}
	}

	var candidates []job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		candidates = append(candidates, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	taskIDs := make([]string, 0, len(candidates))
	seen := make(map[string]bool)
	for _, j := range candidates {
		if !seen[j.TaskID] {
			seen[j.TaskID] = true
			taskIDs = append(taskIDs, j.TaskID)
		}
	}
	caps, err := s.taskCaps(ctx, tx, taskIDs)
	if err != nil {
		return nil, err
	}
	running, err := s.runningJobCounts(ctx, tx, taskIDs)
	if err != nil {
		return nil, err
	}

	var out []job.Job
	for _, j := range candidates {
		if maxJobs, ok := caps[j.TaskID]; ok && maxJobs != nil && running[j.TaskID] >= *maxJobs {
			continue // task is at its MaxRunningJobs cap; leave for a later cycle
		}
		running[j.TaskID]++
		out = append(out, j)
	}
	if len(out) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	now := time.Now()
	acquiredUntil := now.Add(leaseDuration)
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET acquired_by = $1, acquired_until = $2, started_at = $3 WHERE id = ANY($4)`,
		workerID, acquiredUntil, now, ids,
	); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}

	for i := range out {
		out[i].AcquiredBy = &workerID
		out[i].AcquiredUntil = &acquiredUntil
		out[i].StartedAt = &now
	}
	return out, nil
}

// taskCaps returns each task's MaxRunningJobs, keyed by task_id; a task
// with no cap configured (NULL) is simply absent as a *int nil value, not
// omitted from the map, so callers can tell "unknown task" apart from "no
// cap".
func (s *Store) taskCaps(ctx context.Context, tx pgx.Tx, taskIDs []string) (map[string]*int, error) {
	rows, err := tx.Query(ctx, `SELECT id, max_running_jobs FROM tasks WHERE id = ANY($1)`, taskIDs)
	if err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	defer rows.Close()

	out := make(map[string]*int, len(taskIDs))
	for rows.Next() {
		var id string
		var maxJobs *int
		if err := rows.Scan(&id, &maxJobs); err != nil {
			return nil, &store.ErrTransient{Err: err}
		}
		out[id] = maxJobs
	}
	if err := rows.Err(); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	return out, nil
}

// runningJobCounts returns, per task_id, how many jobs are currently
// leased to some worker (acquired_by set, lease not yet expired) — the
// in-flight count MaxRunningJobs bounds.
func (s *Store) runningJobCounts(ctx context.Context, tx pgx.Tx, taskIDs []string) (map[string]int, error) {
	rows, err := tx.Query(ctx, `
		SELECT task_id, COUNT(*) FROM jobs
		WHERE task_id = ANY($1) AND acquired_by IS NOT NULL AND (acquired_until IS NULL OR acquired_until > NOW())
		GROUP BY task_id`, taskIDs)
	if err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	defer rows.Close()

	out := make(map[string]int, len(taskIDs))
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, &store.ErrTransient{Err: err}
		}
		out[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	return out, nil
}

func (s *Store) ReleaseJob(ctx context.Context, workerID string, jobID string, result job.Result) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &store.ErrTransient{Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM jobs WHERE id = $1 AND acquired_by = $2`, jobID, workerID)
	if err != nil {
		return &store.ErrTransient{Err: err}
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO job_results (job_id, outcome, return_value, error, started_at, finished_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO UPDATE SET
			outcome = EXCLUDED.outcome, return_value = EXCLUDED.return_value,
			error = EXCLUDED.error, started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at, expires_at = EXCLUDED.expires_at`,
		jobID, result.Outcome, result.ReturnValue, result.Error,
		result.StartedAt, result.FinishedAt, result.FinishedAt.Add(resultTTL),
	); err != nil {
		return &store.ErrTransient{Err: err}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetJobResult(ctx context.Context, jobID string) (job.Result, error) {
	var r job.Result
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, outcome, return_value, error, started_at, finished_at, expires_at
		FROM job_results WHERE job_id = $1`, jobID,
	).Scan(&r.JobID, &r.Outcome, &r.ReturnValue, &r.Error, &r.StartedAt, &r.FinishedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Result{}, job.ErrResultNotReady
		}
		return job.Result{}, &store.ErrTransient{Err: err}
	}
	if time.Now().After(expiresAt) {
		return job.Result{}, store.ErrResultExpired
	}
	return r, nil
}

// Cleanup expires stale leases and reaps results past their TTL; called
// periodically by every node, not only the lease holder.
func (s *Store) Cleanup(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE schedules SET acquired_by = NULL, acquired_until = NULL WHERE acquired_until < NOW()`,
	); err != nil {
		return &store.ErrTransient{Err: err}
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE jobs SET acquired_by = NULL, acquired_until = NULL, started_at = NULL WHERE acquired_until < NOW()`,
	); err != nil {
		return &store.ErrTransient{Err: err}
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM job_results WHERE expires_at < NOW()`); err != nil {
		return &store.ErrTransient{Err: err}
	}
	return nil
}

const jobSelect = `
	SELECT id, task_id, schedule_id, scheduled_fire_time, jitter_seconds,
	       start_deadline, tags, args, kwargs, created_at, started_at,
	       acquired_by, acquired_until
	FROM jobs`

func scanJob(row rowScanner) (job.Job, error) {
	var j job.Job
	var jitterSeconds float64
	err := row.Scan(
		&j.ID, &j.TaskID, &j.ScheduleID, &j.ScheduledFireTime, &jitterSeconds,
		&j.StartDeadline, &j.Tags, &j.Args, &j.Kwargs, &j.CreatedAt, &j.StartedAt,
		&j.AcquiredBy, &j.AcquiredUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, fmt.Errorf("pgstore: scan job: %w", err)
	}
	j.Jitter = secondsToDuration(jitterSeconds)
	return j, nil
}
