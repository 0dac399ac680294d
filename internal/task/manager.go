// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package task implements the single-writer task queue. Exactly one
// task runs at a time; new tasks wait in FIFO order. Cooperative
// signals let the running import pause for rate limits or finish early
// with a terminal message.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/metrics"
	"github.com/quzard/danmu-hub/internal/models"
)

// Store is the persistence the manager needs, satisfied by *database.DB.
type Store interface {
	InsertTask(ctx context.Context, t *models.TaskRecord) error
	UpdateTaskProgress(ctx context.Context, id string, status models.TaskStatus, progress int, message string) error
	GetTask(ctx context.Context, id string) (*models.TaskRecord, error)
	FindActiveTaskByUniqueKey(ctx context.Context, uniqueKey string) (*models.TaskRecord, error)
	FindRecentTaskByUniqueKey(ctx context.Context, uniqueKey string, since time.Time) (*models.TaskRecord, error)
	ForceFailStaleTasks(ctx context.Context, message string) (int64, error)
	DeleteTask(ctx context.Context, id string) error
}

// Fn is the body of a task. It reports progress through rc and may
// return the cooperative signals PauseForRateLimit or Success.
type Fn func(ctx context.Context, rc *RunContext) error

// PauseForRateLimit is the cooperative signal a task raises when a
// provider denied it. The manager marks the task paused, sleeps
// RetryAfter, then re-runs the body once.
type PauseForRateLimit struct {
	RetryAfter time.Duration
}

func (e *PauseForRateLimit) Error() string {
	return fmt.Sprintf("task paused for rate limit, retry after %s", e.RetryAfter.Round(time.Second))
}

// Success is the cooperative early-finish signal carrying the terminal
// message. It is not a failure.
type Success struct {
	Message string
}

func (e *Success) Error() string { return e.Message }

// ConflictError rejects a submit whose unique key collides with an
// active task or a recent terminal one.
type ConflictError struct {
	TaskID string
	Status models.TaskStatus
	Age    time.Duration
}

func (e *ConflictError) Error() string {
	if e.Status.Active() {
		return fmt.Sprintf("task %s with the same unique key is %s", e.TaskID, e.Status)
	}
	return fmt.Sprintf("task %s with the same unique key finished %s ago as %s",
		e.TaskID, e.Age.Round(time.Minute), e.Status)
}

// ErrTaskNotFound is returned for operations on unknown task ids.
var ErrTaskNotFound = errors.New("task: not found")

type pendingTask struct {
	id    string
	title string
	fn    Fn
}

type runningTask struct {
	id     string
	cancel context.CancelFunc

	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// Manager owns the queue and the single runner.
type Manager struct {
	store Store
	cfg   *config.Store

	// submitMu serializes Submit so the unique-key check and the
	// insert are one atomic step; without it two concurrent submits
	// of the same key can both pass the check.
	submitMu sync.Mutex

	mu      sync.Mutex
	queue   []*pendingTask
	running *runningTask
	wake    chan struct{}
}

// NewManager creates the manager. Call Recover once before Serve.
func NewManager(store Store, cfg *config.Store) *Manager {
	return &Manager{
		store: store,
		cfg:   cfg,
		wake:  make(chan struct{}, 1),
	}
}

// Recover force-fails tasks left running or paused by a previous
// process so the queue starts consistent.
func (m *Manager) Recover(ctx context.Context) error {
	n, err := m.store.ForceFailStaleTasks(ctx, "进程重启，任务中断")
	if err != nil {
		return err
	}
	if n > 0 {
		logging.Warn().Int64("count", n).Msg("stale tasks force-failed on startup")
	}
	return nil
}

// Submit persists a pending record and enqueues the task body. The
// unique key is checked against active tasks and against terminal tasks
// inside the configured duplicate window.
func (m *Manager) Submit(ctx context.Context, title, uniqueKey, taskType, parameters string, fn Fn) (string, error) {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	if uniqueKey != "" {
		if active, err := m.store.FindActiveTaskByUniqueKey(ctx, uniqueKey); err != nil {
			return "", err
		} else if active != nil {
			return "", &ConflictError{TaskID: active.ID, Status: active.Status}
		}

		windowHours := m.cfg.GetInt(ctx, config.KeyTaskDuplicateWindowHours, 3)
		if windowHours > 0 {
			since := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)
			if recent, err := m.store.FindRecentTaskByUniqueKey(ctx, uniqueKey, since); err != nil {
				return "", err
			} else if recent != nil {
				age := time.Duration(0)
				if recent.FinishedAt != nil {
					age = time.Since(*recent.FinishedAt)
				}
				return "", &ConflictError{TaskID: recent.ID, Status: recent.Status, Age: age}
			}
		}
	}

	record := &models.TaskRecord{
		ID:         uuid.New().String(),
		Title:      title,
		UniqueKey:  uniqueKey,
		Status:     models.TaskStatusPending,
		TaskType:   taskType,
		Parameters: parameters,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.InsertTask(ctx, record); err != nil {
		return "", err
	}
	metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusPending)).Inc()

	m.mu.Lock()
	m.queue = append(m.queue, &pendingTask{id: record.ID, title: title, fn: fn})
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	logging.Info().Str("task_id", record.ID).Str("title", title).Msg("task submitted")
	return record.ID, nil
}

// SubmitWithSchedulerID is Submit for scheduler-originated tasks,
// recording the bridge to the scheduler job.
func (m *Manager) SubmitWithSchedulerID(ctx context.Context, title, uniqueKey, taskType, schedulerTaskID string, fn Fn) (string, error) {
	id, err := m.Submit(ctx, title, uniqueKey, taskType, "", fn)
	if err != nil {
		return "", err
	}
	if schedulerTaskID != "" {
		// Best effort; the execution record itself is authoritative.
		if setter, ok := m.store.(interface {
			SetTaskSchedulerID(ctx context.Context, taskID, schedulerTaskID string) error
		}); ok {
			setter.SetTaskSchedulerID(ctx, id, schedulerTaskID)
		}
	}
	return id, nil
}

// Serve runs the queue until ctx is cancelled. Implements the
// supervisor service contract.
func (m *Manager) Serve(ctx context.Context) error {
	for {
		next := m.pop()
		if next == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.wake:
			}
			continue
		}
		m.run(ctx, next)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (m *Manager) pop() *pendingTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	return next
}

func (m *Manager) run(ctx context.Context, pt *pendingTask) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt := &runningTask{id: pt.id, cancel: cancel, resume: make(chan struct{})}
	m.mu.Lock()
	m.running = rt
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = nil
		m.mu.Unlock()
	}()

	metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusPending)).Dec()
	metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusRunning)).Inc()
	defer metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusRunning)).Dec()

	m.store.UpdateTaskProgress(ctx, pt.id, models.TaskStatusRunning, 0, "任务开始")
	rc := &RunContext{manager: m, task: rt}

	err := pt.fn(taskCtx, rc)

	var pause *PauseForRateLimit
	if errors.As(err, &pause) {
		logging.Info().Str("task_id", pt.id).Dur("retry_after", pause.RetryAfter).
			Msg("task paused for rate limit")
		m.store.UpdateTaskProgress(ctx, pt.id,
			models.TaskStatusPaused, rc.lastProgress(),
			fmt.Sprintf("触发流控，%s 后自动恢复", pause.RetryAfter.Round(time.Second)))

		select {
		case <-taskCtx.Done():
		case <-time.After(pause.RetryAfter):
			m.store.UpdateTaskProgress(ctx, pt.id, models.TaskStatusRunning, rc.lastProgress(), "流控解除，任务恢复")
			err = pt.fn(taskCtx, rc)
			if errors.As(err, &pause) {
				err = fmt.Errorf("rate limited again after pause: %w", err)
			}
		}
	}

	m.finish(ctx, taskCtx, pt.id, rc, err)
}

func (m *Manager) finish(ctx, taskCtx context.Context, id string, rc *RunContext, err error) {
	var success *Success
	switch {
	case err == nil:
		m.store.UpdateTaskProgress(ctx, id, models.TaskStatusCompleted, 100, rc.lastMessage("完成"))
		metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusCompleted)).Inc()
	case errors.As(err, &success):
		m.store.UpdateTaskProgress(ctx, id, models.TaskStatusCompleted, 100, success.Message)
		metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusCompleted)).Inc()
	case taskCtx.Err() != nil && ctx.Err() == nil:
		m.store.UpdateTaskProgress(ctx, id, models.TaskStatusCancelled, rc.lastProgress(), "任务已中止")
		metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusCancelled)).Inc()
	case ctx.Err() != nil:
		// Process shutdown; startup recovery will force-fail the row.
		logging.Warn().Str("task_id", id).Msg("task interrupted by shutdown")
	default:
		logging.Error().Err(err).Str("task_id", id).Msg("task failed")
		m.store.UpdateTaskProgress(ctx, id, models.TaskStatusFailed, rc.lastProgress(), trimError(err))
		metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusFailed)).Inc()
	}
}

// trimError reduces a failure to its single-line short form: the first
// line only, capped at 100 characters.
func trimError(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if r := []rune(msg); len(r) > 100 {
		msg = string(r[:100])
	}
	return msg
}

// Abort cancels the running task. History is kept.
func (m *Manager) Abort(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running == nil || m.running.id != id {
		return ErrTaskNotFound
	}
	m.running.cancel()
	// A paused task must not stay parked on the resume channel.
	m.running.mu.Lock()
	if m.running.paused {
		m.running.paused = false
		close(m.running.resume)
	}
	m.running.mu.Unlock()
	return nil
}

// CancelPending removes a queued task and marks its record cancelled.
func (m *Manager) CancelPending(ctx context.Context, id string) error {
	m.mu.Lock()
	found := false
	for i, pt := range m.queue {
		if pt.id == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return ErrTaskNotFound
	}
	metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusPending)).Dec()
	metrics.TasksByStatus.WithLabelValues(string(models.TaskStatusCancelled)).Inc()
	return m.store.UpdateTaskProgress(ctx, id, models.TaskStatusCancelled, 0, "排队中被取消")
}

// Pause asks the running task to hold at its next progress report.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running == nil || m.running.id != id {
		return ErrTaskNotFound
	}
	m.running.mu.Lock()
	defer m.running.mu.Unlock()
	if !m.running.paused {
		m.running.paused = true
		m.running.resume = make(chan struct{})
	}
	return nil
}

// Resume releases a paused task.
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running == nil || m.running.id != id {
		return ErrTaskNotFound
	}
	m.running.mu.Lock()
	defer m.running.mu.Unlock()
	if m.running.paused {
		m.running.paused = false
		close(m.running.resume)
	}
	return nil
}

// RunningTaskID returns the id of the task currently executing, or "".
func (m *Manager) RunningTaskID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running == nil {
		return ""
	}
	return m.running.id
}

// QueuedTaskIDs returns the pending queue in order.
func (m *Manager) QueuedTaskIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.queue))
	for i, pt := range m.queue {
		ids[i] = pt.id
	}
	return ids
}

// RunContext is handed to the task body for progress reporting.
type RunContext struct {
	manager *Manager
	task    *runningTask

	mu       sync.Mutex
	progress int
	message  string
}

// TaskID returns the id of the surrounding task.
func (rc *RunContext) TaskID() string { return rc.task.id }

// Progress persists a progress report. If an operator paused the task,
// the call blocks until resume or abort; it returns the context error
// once the task has been aborted.
func (rc *RunContext) Progress(ctx context.Context, percent int, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rc.mu.Lock()
	rc.progress = percent
	rc.message = message
	rc.mu.Unlock()

	rc.task.mu.Lock()
	paused := rc.task.paused
	resume := rc.task.resume
	rc.task.mu.Unlock()

	status := models.TaskStatusRunning
	if paused {
		status = models.TaskStatusPaused
	}
	rc.manager.store.UpdateTaskProgress(ctx, rc.task.id, status, percent, message)

	if paused {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
			rc.manager.store.UpdateTaskProgress(ctx, rc.task.id, models.TaskStatusRunning, percent, message)
		}
	}
	return ctx.Err()
}

func (rc *RunContext) lastProgress() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.progress
}

func (rc *RunContext) lastMessage(def string) string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if strings.TrimSpace(rc.message) == "" {
		return def
	}
	return rc.message
}
