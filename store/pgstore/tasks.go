package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relaysched/relay/store"
	"github.com/relaysched/relay/task"
)

func (s *Store) AddTask(ctx context.Context, t task.Task, policy store.ConflictPolicy) error {
	var conflictClause string
	switch policy {
	case store.ConflictException:
		conflictClause = ""
	case store.ConflictDoNothing:
		conflictClause = "ON CONFLICT (id) DO NOTHING"
	default: // store.ConflictReplace
		conflictClause = `ON CONFLICT (id) DO UPDATE SET
			func_reference = EXCLUDED.func_reference,
			max_running_jobs = EXCLUDED.max_running_jobs,
			misfire_grace_time = EXCLUDED.misfire_grace_time,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`
	}

	query := fmt.Sprintf(`
		INSERT INTO tasks (id, func_reference, max_running_jobs, misfire_grace_time, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		%s`, conflictClause)

	var misfireSeconds *float64
	if t.MisfireGraceTime != nil {
		v := t.MisfireGraceTime.Seconds()
		misfireSeconds = &v
	}

	_, err := s.pool.Exec(ctx, query, t.ID, t.FuncReference, t.MaxRunningJobs, misfireSeconds, t.Metadata)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &store.ErrConflictingID{Kind: "task", ID: t.ID}
		}
		return &store.ErrTransient{Err: err}
	}
	return nil
}

func (s *Store) GetTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, func_reference, max_running_jobs, misfire_grace_time, metadata, created_at, updated_at
		FROM tasks ORDER BY id`)
	if err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.ErrTransient{Err: err}
	}
	return out, nil
}

func (s *Store) RemoveTask(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return &store.ErrTransient{Err: err}
	}
	return nil
}

func scanTask(row rowScanner) (task.Task, error) {
	var t task.Task
	var misfireSeconds *float64
	err := row.Scan(&t.ID, &t.FuncReference, &t.MaxRunningJobs, &misfireSeconds, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrTaskNotFound
		}
		return task.Task{}, fmt.Errorf("pgstore: scan task: %w", err)
	}
	if misfireSeconds != nil {
		d := secondsToDuration(*misfireSeconds)
		t.MisfireGraceTime = &d
	}
	return t, nil
}
