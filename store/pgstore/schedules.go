package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relaysched/relay/schedule"
	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/trigger"
)

func (s *Store) AddSchedule(ctx context.Context, sc schedule.Schedule, policy store.ConflictPolicy) error {
	var conflictClause string
	switch policy {
	case store.ConflictException:
		conflictClause = ""
	case store.ConflictDoNothing:
		conflictClause = "ON CONFLICT (id) DO NOTHING"
	default:
		conflictClause = `ON CONFLICT (id) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			trigger_kind = EXCLUDED.trigger_kind,
			trigger_state = EXCLUDED.trigger_state,
			args = EXCLUDED.args,
			kwargs = EXCLUDED.kwargs,
			paused = EXCLUDED.paused,
			coalesce_policy = EXCLUDED.coalesce_policy,
			misfire_grace_time = EXCLUDED.misfire_grace_time,
			max_jitter = EXCLUDED.max_jitter,
			next_fire_time = EXCLUDED.next_fire_time,
			updated_at = NOW()`
	}

	query := fmt.Sprintf(`
		INSERT INTO schedules (
			id, task_id, trigger_kind, trigger_state, args, kwargs, paused,
			coalesce_policy, misfire_grace_time, max_jitter, next_fire_time,
			last_fire_time, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		%s`, conflictClause)

	_, err := s.pool.Exec(ctx, query,
		sc.ID, sc.TaskID, sc.Trigger.Kind(), sc.Trigger.State(),
		sc.Args, sc.Kwargs, sc.Paused, sc.CoalescePolicy,
		durationSeconds(sc.MisfireGraceTime), durationSeconds(sc.MaxJitter),
		sc.NextFireTime, sc.LastFireTime,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &store.ErrConflictingID{Kind: "schedule", ID: sc.ID}
		}
		return &store.ErrTransient{Err: err}
	}
	return nil
}

func (s *Store) GetSchedules(ctx context.Context, ids []string) ([]schedule.Schedule, error) {
	var rows pgx.Rows
	var err error
	if len(ids) == 0 {
		rows, err = s.pool.Query(ctx, scheduleSelect+" ORDER BY id")
	} else {
		rows, err = s.pool.Query(ctx, scheduleSelect+" WHERE id = ANY($1) ORDER BY id", ids)
	}
	if err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	defer rows.Close()

	var out []schedule.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	return out, nil
}

func (s *Store) RemoveSchedules(ctx context.Context, ids []string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = ANY($1)`, ids)
	if err != nil {
		return &store.ErrTransient{Err: err}
	}
	return nil
}

// AcquireSchedules claims due, unpaused schedules with FOR UPDATE SKIP
// LOCKED so competing scheduler nodes partition the due set rather than
// racing over it.
func (s *Store) AcquireSchedules(ctx context.Context, schedulerID string, leaseDuration time.Duration, limit int) ([]schedule.Schedule, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, scheduleSelect+`
		WHERE next_fire_time <= NOW()
		  AND NOT paused
		  AND (acquired_until IS NULL OR acquired_until <= NOW())
		ORDER BY next_fire_time ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, &store.ErrTransient{Err: err}
	}

	var out []schedule.Schedule
	for rows.Next() {
		sc, scanErr := scanSchedule(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		out = append(out, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	if len(out) == 0 {
		return nil, nil
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	acquiredUntil := time.Now().Add(leaseDuration)
	if _, err := tx.Exec(ctx,
		`UPDATE schedules SET acquired_by = $1, acquired_until = $2 WHERE id = ANY($3)`,
		schedulerID, acquiredUntil, ids,
	); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}

	for i := range out {
		out[i].AcquiredBy = &schedulerID
		out[i].AcquiredUntil = &acquiredUntil
	}
	return out, nil
}

func (s *Store) ReleaseSchedules(ctx context.Context, schedulerID string, updates []store.ScheduleUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &store.ErrTransient{Err: err}
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if u.NextFireTime == nil {
			if _, err := tx.Exec(ctx,
				`DELETE FROM schedules WHERE id = $1 AND acquired_by = $2`,
				u.ScheduleID, schedulerID,
			); err != nil {
				return &store.ErrTransient{Err: err}
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE schedules
			SET next_fire_time = $3, last_fire_time = $4,
			    acquired_by = NULL, acquired_until = NULL, updated_at = NOW()
			WHERE id = $1 AND acquired_by = $2`,
			u.ScheduleID, schedulerID, u.NextFireTime, u.LastFireTime,
		); err != nil {
			return &store.ErrTransient{Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &store.ErrTransient{Err: err}
	}
	return nil
}

const scheduleSelect = `
	SELECT id, task_id, trigger_kind, trigger_state, args, kwargs, paused,
	       coalesce_policy, misfire_grace_time, max_jitter, next_fire_time,
	       last_fire_time, acquired_by, acquired_until, created_at, updated_at
	FROM schedules`

func scanSchedule(row rowScanner) (schedule.Schedule, error) {
	var sc schedule.Schedule
	var triggerKind string
	var triggerState trigger.State
	var misfireSeconds, maxJitterSeconds *float64

	err := row.Scan(
		&sc.ID, &sc.TaskID, &triggerKind, &triggerState, &sc.Args, &sc.Kwargs, &sc.Paused,
		&sc.CoalescePolicy, &misfireSeconds, &maxJitterSeconds, &sc.NextFireTime,
		&sc.LastFireTime, &sc.AcquiredBy, &sc.AcquiredUntil, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schedule.Schedule{}, schedule.ErrScheduleNotFound
		}
		return schedule.Schedule{}, fmt.Errorf("pgstore: scan schedule: %w", err)
	}

	t, err := trigger.FromState(triggerKind, triggerState)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("pgstore: restore trigger for schedule %s: %w", sc.ID, err)
	}
	sc.Trigger = t

	if misfireSeconds != nil {
		d := secondsToDuration(*misfireSeconds)
		sc.MisfireGraceTime = &d
	}
	if maxJitterSeconds != nil {
		d := secondsToDuration(*maxJitterSeconds)
		sc.MaxJitter = &d
	}
	return sc, nil
}
