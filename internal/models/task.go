// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package models

import "time"

// TaskStatus is the lifecycle state of a task record.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the status occupies the unique-key namespace
// (a second submit with the same key must be rejected).
func (s TaskStatus) Active() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusPaused:
		return true
	}
	return false
}

// TaskRecord is the persisted view of a task. It is created on submit and
// kept until an operator deletes it.
type TaskRecord struct {
	ID              string     `json:"id" db:"id"`
	Title           string     `json:"title" db:"title"`
	UniqueKey       string     `json:"unique_key,omitempty" db:"unique_key"`
	Status          TaskStatus `json:"status" db:"status"`
	Progress        int        `json:"progress" db:"progress"`
	Message         string     `json:"message,omitempty" db:"message"`
	TaskType        string     `json:"task_type,omitempty" db:"task_type"`
	Parameters      string     `json:"parameters,omitempty" db:"parameters"`
	SchedulerTaskID string     `json:"scheduler_task_id,omitempty" db:"scheduler_task_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// SchedulerTask is a named periodic job definition.
type SchedulerTask struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	JobType         string     `json:"job_type" db:"job_type"`
	IntervalSeconds int        `json:"interval_seconds" db:"interval_seconds"`
	Enabled         bool       `json:"enabled" db:"enabled"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	LastTaskID      string     `json:"last_task_id,omitempty" db:"last_task_id"`
}

// WebhookQueueItem is a delayed webhook job waiting for its run_at time.
type WebhookQueueItem struct {
	ID        int64     `json:"id" db:"id"`
	Source    string    `json:"source" db:"source"`
	UniqueKey string    `json:"unique_key" db:"unique_key"`
	Payload   string    `json:"payload" db:"payload"`
	RunAt     time.Time `json:"run_at" db:"run_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
