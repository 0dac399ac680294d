// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/quzard/danmu-hub/internal/models"
)

// ----------------------------------------------------------------------------
// config rows (backing store for config.Store)
// ----------------------------------------------------------------------------

// GetConfigValue reads one config row; missing keys return ("", false).
func (db *DB) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetConfigValue writes one config row, creating it if absent.
func (db *DB) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// EnsureConfigDefault creates a config row only if the key is absent, so
// operator-set values are never overwritten by default registration.
func (db *DB) EnsureConfigDefault(ctx context.Context, key, value, description string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO config (key, value, description) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET description = excluded.description`,
		key, value, description)
	return err
}

// ----------------------------------------------------------------------------
// webhook queue
// ----------------------------------------------------------------------------

// EnqueueWebhook persists a delayed webhook job.
func (db *DB) EnqueueWebhook(ctx context.Context, source, uniqueKey, payload string, runAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO webhook_queue (source, unique_key, payload, run_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		source, uniqueKey, payload, runAt.UTC().Unix(), time.Now().UTC().Unix())
	return err
}

// DueWebhooks returns queue items whose run_at has passed.
func (db *DB) DueWebhooks(ctx context.Context, now time.Time) ([]models.WebhookQueueItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, source, unique_key, payload, run_at, created_at
		 FROM webhook_queue WHERE run_at <= ? ORDER BY run_at ASC`, now.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WebhookQueueItem
	for rows.Next() {
		var (
			item           models.WebhookQueueItem
			runAt, created int64
		)
		if err := rows.Scan(&item.ID, &item.Source, &item.UniqueKey, &item.Payload, &runAt, &created); err != nil {
			return nil, err
		}
		item.RunAt = time.Unix(runAt, 0).UTC()
		item.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, item)
	}
	return out, rows.Err()
}

// DeleteWebhook removes a queue item once submitted (or permanently rejected).
func (db *DB) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM webhook_queue WHERE id = ?`, id)
	return err
}

// ----------------------------------------------------------------------------
// external API log
// ----------------------------------------------------------------------------

// LogExternalAPIAccess records one authentication attempt.
func (db *DB) LogExternalAPIAccess(ctx context.Context, ip, path string, status int, message string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO external_api_log (ip, path, status, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		ip, path, status, message, time.Now().UTC().Unix())
	return err
}

// ListExternalAPILog returns the most recent access log entries.
func (db *DB) ListExternalAPILog(ctx context.Context, limit int) ([]models.ExternalAPILogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, ip, path, status, message, created_at FROM external_api_log
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExternalAPILogEntry
	for rows.Next() {
		var (
			e         models.ExternalAPILogEntry
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.IP, &e.Path, &e.Status, &e.Message, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// scheduler tasks
// ----------------------------------------------------------------------------

// UpsertSchedulerTask stores a periodic job definition.
func (db *DB) UpsertSchedulerTask(ctx context.Context, t models.SchedulerTask) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO scheduler_task (id, name, job_type, interval_seconds, enabled, last_run_at, last_task_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, job_type = excluded.job_type,
			interval_seconds = excluded.interval_seconds, enabled = excluded.enabled`,
		t.ID, t.Name, t.JobType, t.IntervalSeconds, t.Enabled, nullableUnix(t.LastRunAt), t.LastTaskID)
	return err
}

// ListSchedulerTasks returns every periodic job definition.
func (db *DB) ListSchedulerTasks(ctx context.Context) ([]models.SchedulerTask, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, job_type, interval_seconds, enabled, last_run_at, last_task_id
		 FROM scheduler_task ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SchedulerTask
	for rows.Next() {
		var (
			t         models.SchedulerTask
			lastRunAt sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.JobType, &t.IntervalSeconds, &t.Enabled, &lastRunAt, &t.LastTaskID); err != nil {
			return nil, err
		}
		t.LastRunAt = scanNullUnix(lastRunAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordSchedulerRun bridges a scheduler task to the execution task it
// just submitted.
func (db *DB) RecordSchedulerRun(ctx context.Context, schedulerTaskID, executionTaskID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE scheduler_task SET last_run_at = ?, last_task_id = ? WHERE id = ?`,
		at.UTC().Unix(), executionTaskID, schedulerTaskID)
	return err
}

// GetSchedulerTask fetches one periodic job definition.
func (db *DB) GetSchedulerTask(ctx context.Context, id string) (*models.SchedulerTask, error) {
	var (
		t         models.SchedulerTask
		lastRunAt sql.NullInt64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, job_type, interval_seconds, enabled, last_run_at, last_task_id
		 FROM scheduler_task WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.JobType, &t.IntervalSeconds, &t.Enabled, &lastRunAt, &t.LastTaskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.LastRunAt = scanNullUnix(lastRunAt)
	return &t, nil
}

// ----------------------------------------------------------------------------
// title recognition rules
// ----------------------------------------------------------------------------

// GetRecognitionRules reads the stored rule text (single-row table).
func (db *DB) GetRecognitionRules(ctx context.Context) (string, error) {
	var content string
	err := db.conn.QueryRowContext(ctx,
		`SELECT content FROM title_recognition WHERE id = 1`).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return content, err
}

// SetRecognitionRules replaces the stored rule text.
func (db *DB) SetRecognitionRules(ctx context.Context, content string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO title_recognition (id, content, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		content, time.Now().UTC().Unix())
	return err
}
