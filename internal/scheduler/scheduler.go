// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package scheduler runs the named periodic jobs: the delayed-webhook
// drain, incremental and full refresh sweeps and cache GC. Every
// trigger submits a real task so operators can watch it in the task
// list; the scheduler row keeps the bridge to the latest execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quzard/danmu-hub/internal/importer"
	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/task"
)

// Job types persisted in scheduler_task rows.
const (
	JobWebhookDrain       = "webhook_drain"
	JobIncrementalRefresh = "incremental_refresh"
	JobFullRefresh        = "full_refresh"
	JobCacheGC            = "cache_gc"
)

// ErrUnknownJob is returned when a scheduler row carries a job type the
// binary does not implement.
var ErrUnknownJob = errors.New("scheduler: unknown job type")

// Store is the repo surface the scheduler needs, satisfied by
// *database.DB.
type Store interface {
	ListSchedulerTasks(ctx context.Context) ([]models.SchedulerTask, error)
	GetSchedulerTask(ctx context.Context, id string) (*models.SchedulerTask, error)
	UpsertSchedulerTask(ctx context.Context, t models.SchedulerTask) error
	RecordSchedulerRun(ctx context.Context, schedulerTaskID, executionTaskID string, at time.Time) error
	GetTask(ctx context.Context, id string) (*models.TaskRecord, error)
	ListRefreshTargets(ctx context.Context, onlyIncremental bool) ([]models.RefreshTarget, error)
	RecordIncrementalRefreshResult(ctx context.Context, sourceID int64, success bool) error
	PruneExpiredCache(ctx context.Context) (int64, error)
}

// Submitter is the task-manager surface the scheduler submits through.
type Submitter interface {
	SubmitWithSchedulerID(ctx context.Context, title, uniqueKey, taskType, schedulerTaskID string, fn task.Fn) (string, error)
}

// Refresher executes one source refresh, satisfied by *importer.Engine.
type Refresher interface {
	RunGeneric(ctx context.Context, rc importer.Reporter, job importer.GenericImport) error
}

// Drainer submits due delayed-webhook rows, satisfied by
// *webhook.Dispatcher.
type Drainer interface {
	DrainDue(ctx context.Context, now time.Time) (int, error)
}

// Scheduler owns the tick loop.
type Scheduler struct {
	store  Store
	tasks  Submitter
	engine Refresher
	hooks  Drainer

	tick time.Duration
	now  func() time.Time
}

// New creates the scheduler with a 30s sweep interval.
func New(store Store, tasks Submitter, engine Refresher, hooks Drainer) *Scheduler {
	return &Scheduler{
		store:  store,
		tasks:  tasks,
		engine: engine,
		hooks:  hooks,
		tick:   30 * time.Second,
		now:    time.Now,
	}
}

func defaults() []models.SchedulerTask {
	return []models.SchedulerTask{
		{ID: "webhook-drain", Name: "延迟 Webhook 导入", JobType: JobWebhookDrain, IntervalSeconds: 300, Enabled: true},
		{ID: "incremental-refresh", Name: "增量刷新", JobType: JobIncrementalRefresh, IntervalSeconds: 6 * 3600, Enabled: true},
		{ID: "full-refresh", Name: "全量刷新", JobType: JobFullRefresh, IntervalSeconds: 7 * 24 * 3600, Enabled: false},
		{ID: "cache-gc", Name: "过期缓存清理", JobType: JobCacheGC, IntervalSeconds: 3600, Enabled: true},
	}
}

// EnsureDefaults seeds the scheduler rows missing from the store.
// Existing rows are left alone so operator edits survive restarts.
func (s *Scheduler) EnsureDefaults(ctx context.Context) error {
	for _, def := range defaults() {
		existing, err := s.store.GetSchedulerTask(ctx, def.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.store.UpsertSchedulerTask(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// Serve runs the sweep loop until ctx is cancelled. Implements the
// supervisor service contract.
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.EnsureDefaults(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	rows, err := s.store.ListSchedulerTasks(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("scheduler sweep failed")
		return
	}

	now := s.now().UTC()
	for _, row := range rows {
		if !row.Enabled || !due(row, now) {
			continue
		}
		if _, err := s.Trigger(ctx, row); err != nil {
			logging.Warn().Err(err).Str("scheduler_task", row.ID).Msg("scheduler trigger failed")
		}
	}
}

func due(row models.SchedulerTask, now time.Time) bool {
	if row.IntervalSeconds <= 0 {
		return false
	}
	if row.LastRunAt == nil {
		return true
	}
	return now.Sub(*row.LastRunAt) >= time.Duration(row.IntervalSeconds)*time.Second
}

// Trigger submits the execution task for one scheduler row and records
// the bridge. A still-active previous execution skips the trigger.
func (s *Scheduler) Trigger(ctx context.Context, row models.SchedulerTask) (string, error) {
	if row.LastTaskID != "" {
		prev, err := s.store.GetTask(ctx, row.LastTaskID)
		if err != nil {
			return "", err
		}
		if prev != nil && prev.Status.Active() {
			return prev.ID, nil
		}
	}

	fn, err := s.body(row.JobType)
	if err != nil {
		return "", err
	}

	execID, err := s.tasks.SubmitWithSchedulerID(ctx, row.Name, "", "scheduled", row.ID, fn)
	if err != nil {
		return "", err
	}
	if err := s.store.RecordSchedulerRun(ctx, row.ID, execID, s.now().UTC()); err != nil {
		return execID, err
	}
	return execID, nil
}

// TriggerByID is Trigger for API callers that only know the row id.
func (s *Scheduler) TriggerByID(ctx context.Context, schedulerTaskID string) (string, error) {
	row, err := s.store.GetSchedulerTask(ctx, schedulerTaskID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", fmt.Errorf("scheduler task %s not found", schedulerTaskID)
	}
	return s.Trigger(ctx, *row)
}

func (s *Scheduler) body(jobType string) (task.Fn, error) {
	switch jobType {
	case JobWebhookDrain:
		return s.drainWebhooks, nil
	case JobIncrementalRefresh:
		return func(ctx context.Context, rc *task.RunContext) error {
			return s.refresh(ctx, rc, true)
		}, nil
	case JobFullRefresh:
		return func(ctx context.Context, rc *task.RunContext) error {
			return s.refresh(ctx, rc, false)
		}, nil
	case JobCacheGC:
		return s.pruneCache, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobType)
}

func (s *Scheduler) drainWebhooks(ctx context.Context, rc *task.RunContext) error {
	n, err := s.hooks.DrainDue(ctx, s.now().UTC())
	if err != nil {
		return err
	}
	return &task.Success{Message: fmt.Sprintf("提交了 %d 个延迟导入", n)}
}

func (s *Scheduler) pruneCache(ctx context.Context, rc *task.RunContext) error {
	n, err := s.store.PruneExpiredCache(ctx)
	if err != nil {
		return err
	}
	return &task.Success{Message: fmt.Sprintf("清理过期缓存 %d 条", n)}
}

// refresh re-imports every target source. Presence checks make the
// sweep incremental by construction; the full sweep only differs in
// target selection and in skipping the failure bookkeeping.
func (s *Scheduler) refresh(ctx context.Context, rc *task.RunContext, incremental bool) error {
	targets, err := s.store.ListRefreshTargets(ctx, incremental)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return &task.Success{Message: "没有需要刷新的源"}
	}

	ok, failed := 0, 0
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		pct := 100 * i / len(targets)
		if err := rc.Progress(ctx, pct, fmt.Sprintf("刷新 %s (%d/%d)", t.Anime.Title, i+1, len(targets))); err != nil {
			return err
		}

		job := importer.GenericImport{
			Provider:           t.Source.ProviderName,
			MediaID:            t.Source.MediaID,
			Title:              t.Anime.Title,
			MediaType:          t.Anime.MediaType,
			Season:             t.Anime.Season,
			Year:               t.Anime.Year,
			PreassignedAnimeID: &t.Anime.ID,
		}
		if incremental {
			sourceID := t.Source.ID
			job.RefreshSourceID = &sourceID
		}

		err := s.engine.RunGeneric(ctx, rc, job)
		var done *task.Success
		switch {
		case errors.As(err, &done):
			ok++
		case err == nil:
			ok++
		default:
			var pause *task.PauseForRateLimit
			if errors.As(err, &pause) {
				return err
			}
			failed++
			logging.Warn().Err(err).Int64("source_id", t.Source.ID).Str("title", t.Anime.Title).
				Msg("refresh failed for source")
			if incremental {
				if err := s.store.RecordIncrementalRefreshResult(ctx, t.Source.ID, false); err != nil {
					logging.Warn().Err(err).Int64("source_id", t.Source.ID).
						Msg("refresh failure bookkeeping failed")
				}
			}
		}
	}
	return &task.Success{Message: fmt.Sprintf("刷新完成: 成功 %d，失败 %d", ok, failed)}
}
