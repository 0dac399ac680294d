// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/quzard/danmu-hub/internal/models"
)

const taskColumns = `id, title, unique_key, status, progress, message,
	task_type, parameters, scheduler_task_id, created_at, finished_at`

func scanTask(row interface{ Scan(...any) error }) (*models.TaskRecord, error) {
	var (
		t          models.TaskRecord
		createdAt  int64
		finishedAt sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.Title, &t.UniqueKey, (*string)(&t.Status), &t.Progress,
		&t.Message, &t.TaskType, &t.Parameters, &t.SchedulerTaskID, &createdAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.FinishedAt = scanNullUnix(finishedAt)
	return &t, nil
}

// InsertTask persists a freshly submitted task record.
func (db *DB) InsertTask(ctx context.Context, t *models.TaskRecord) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO task_history (id, title, unique_key, status, progress, message,
			task_type, parameters, scheduler_task_id, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.UniqueKey, string(t.Status), t.Progress, t.Message,
		t.TaskType, t.Parameters, t.SchedulerTaskID, t.CreatedAt.UTC().Unix(), nullableUnix(t.FinishedAt))
	return err
}

// UpdateTaskProgress writes a progress report for a task.
func (db *DB) UpdateTaskProgress(ctx context.Context, id string, status models.TaskStatus, progress int, message string) error {
	var finished any
	if status.Terminal() {
		finished = time.Now().UTC().Unix()
	}
	_, err := db.conn.ExecContext(ctx,
		`UPDATE task_history SET status = ?, progress = ?, message = ?,
			finished_at = COALESCE(?, finished_at)
		 WHERE id = ?`,
		string(status), progress, message, finished, id)
	return err
}

// GetTask fetches one task record.
func (db *DB) GetTask(ctx context.Context, id string) (*models.TaskRecord, error) {
	return scanTask(db.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM task_history WHERE id = ?`, id))
}

// FindActiveTaskByUniqueKey returns a pending/running/paused task with the
// given unique key, or nil.
func (db *DB) FindActiveTaskByUniqueKey(ctx context.Context, uniqueKey string) (*models.TaskRecord, error) {
	return scanTask(db.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM task_history
		 WHERE unique_key = ? AND status IN ('pending', 'running', 'paused')
		 ORDER BY created_at DESC LIMIT 1`, uniqueKey))
}

// FindRecentTaskByUniqueKey returns the most recent task with the given
// unique key created after the cutoff, regardless of state.
func (db *DB) FindRecentTaskByUniqueKey(ctx context.Context, uniqueKey string, since time.Time) (*models.TaskRecord, error) {
	return scanTask(db.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM task_history
		 WHERE unique_key = ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`, uniqueKey, since.UTC().Unix()))
}

// SearchTasks lists task records, newest first, optionally filtered by a
// status set and a case-insensitive title substring.
func (db *DB) SearchTasks(ctx context.Context, statuses []models.TaskStatus, titleLike string, limit int) ([]models.TaskRecord, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + taskColumns + ` FROM task_history WHERE 1=1`)
	var args []any
	if len(statuses) > 0 {
		b.WriteString(` AND status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`)
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	if titleLike != "" {
		b.WriteString(` AND title LIKE ?`)
		args = append(args, "%"+titleLike+"%")
	}
	b.WriteString(` ORDER BY created_at DESC LIMIT ?`)
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ForceFailStaleTasks marks every running/paused task as failed. Called
// once at startup so the queue view is consistent after a crash.
func (db *DB) ForceFailStaleTasks(ctx context.Context, message string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE task_history SET status = 'failed', message = ?, finished_at = ?
		 WHERE status IN ('running', 'paused')`,
		message, time.Now().UTC().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetTaskSchedulerID links an execution record back to the scheduler
// job that submitted it.
func (db *DB) SetTaskSchedulerID(ctx context.Context, taskID, schedulerTaskID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE task_history SET scheduler_task_id = ? WHERE id = ?`, schedulerTaskID, taskID)
	return err
}

// DeleteTask removes a task record. Operator-initiated only.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM task_history WHERE id = ?`, id)
	return err
}
