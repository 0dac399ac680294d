// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package webhook

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/importer"
	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/metrics"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/task"
)

// ErrUnknownSource is returned for a webhook path with no normalizer.
var ErrUnknownSource = errors.New("unknown webhook source")

// Submitter is the task-manager surface the dispatcher submits through.
type Submitter interface {
	Submit(ctx context.Context, title, uniqueKey, taskType, parameters string, fn task.Fn) (string, error)
}

// Queue persists delayed webhook jobs, satisfied by *database.DB.
type Queue interface {
	EnqueueWebhook(ctx context.Context, source, uniqueKey, payload string, runAt time.Time) error
	DueWebhooks(ctx context.Context, now time.Time) ([]models.WebhookQueueItem, error)
	DeleteWebhook(ctx context.Context, id int64) error
}

// Runner executes a normalized job, satisfied by *importer.Engine.
type Runner interface {
	RunWebhook(ctx context.Context, rc importer.Reporter, job models.WebhookJob) error
}

// Dispatcher turns raw media-server payloads into queued or submitted
// import jobs.
type Dispatcher struct {
	tasks  Submitter
	queue  Queue
	engine Runner
	cfg    *config.Store
	prober SeasonProber

	mu            sync.Mutex
	filterPattern string
	filter        *regexp.Regexp
}

// New creates a dispatcher. prober may be nil; Emby Series events then
// fall back to a single season-1 job.
func New(tasks Submitter, queue Queue, engine Runner, cfg *config.Store, prober SeasonProber) *Dispatcher {
	return &Dispatcher{tasks: tasks, queue: queue, engine: engine, cfg: cfg, prober: prober}
}

// Dispatch normalizes a payload and submits or queues the resulting
// jobs. It returns the number of jobs accepted; when every job was a
// duplicate the task manager's conflict error is passed through so the
// API can answer 409.
func (d *Dispatcher) Dispatch(ctx context.Context, source string, payload []byte) (int, error) {
	jobs, err := d.normalize(ctx, source, payload)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(source, "invalid").Inc()
		return 0, err
	}
	if len(jobs) == 0 {
		metrics.WebhooksReceived.WithLabelValues(source, "ignored").Inc()
		return 0, nil
	}

	delayed := d.cfg.GetBool(ctx, config.KeyWebhookDelayedImport, false)

	accepted := 0
	var conflict error
	for _, job := range jobs {
		if !d.filterAllows(ctx, job.Title) {
			metrics.WebhooksReceived.WithLabelValues(source, "filtered").Inc()
			logging.Debug().Str("source", source).Str("title", job.Title).Msg("webhook dropped by filter")
			continue
		}

		if delayed {
			if err := d.enqueue(ctx, job); err != nil {
				return accepted, err
			}
			metrics.WebhooksReceived.WithLabelValues(source, "queued").Inc()
			accepted++
			continue
		}

		if _, err := d.submit(ctx, job); err != nil {
			var ce *task.ConflictError
			if errors.As(err, &ce) {
				metrics.WebhooksReceived.WithLabelValues(source, "duplicate").Inc()
				conflict = err
				continue
			}
			return accepted, err
		}
		metrics.WebhooksReceived.WithLabelValues(source, "accepted").Inc()
		accepted++
	}

	if accepted == 0 && conflict != nil {
		return 0, conflict
	}
	return accepted, nil
}

func (d *Dispatcher) normalize(ctx context.Context, source string, payload []byte) ([]models.WebhookJob, error) {
	switch source {
	case SourceEmby:
		var w models.EmbyWebhook
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("decode emby payload: %w", err)
		}
		return normalizeEmby(ctx, w, d.prober), nil
	case SourceJellyfin:
		var w models.JellyfinWebhook
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("decode jellyfin payload: %w", err)
		}
		return normalizeJellyfin(w), nil
	case SourcePlex:
		var w models.PlexWebhook
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("decode plex payload: %w", err)
		}
		return normalizePlex(w), nil
	case SourceTautulli:
		var w models.TautulliWebhook
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("decode tautulli payload: %w", err)
		}
		return normalizeTautulli(w), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
}

// filterAllows applies the configured regex to a normalized title. A
// broken pattern fails open and is logged once per evaluation.
func (d *Dispatcher) filterAllows(ctx context.Context, title string) bool {
	pattern := d.cfg.Get(ctx, config.KeyWebhookFilterRegex, "")
	if pattern == "" {
		return true
	}

	d.mu.Lock()
	if pattern != d.filterPattern {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logging.Warn().Err(err).Str("pattern", pattern).Msg("invalid webhook filter regex")
			re = nil
		}
		d.filterPattern = pattern
		d.filter = re
	}
	re := d.filter
	d.mu.Unlock()

	if re == nil {
		return true
	}
	matched := re.MatchString(title)
	if d.cfg.Get(ctx, config.KeyWebhookFilterMode, "blacklist") == "whitelist" {
		return matched
	}
	return !matched
}

func (d *Dispatcher) enqueue(ctx context.Context, job models.WebhookJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	delay := time.Duration(d.cfg.GetInt(ctx, config.KeyWebhookDelayedImportHours, 24)) * time.Hour
	return d.queue.EnqueueWebhook(ctx, job.Source, jobKey(job), string(payload), time.Now().UTC().Add(delay))
}

func (d *Dispatcher) submit(ctx context.Context, job models.WebhookJob) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return d.tasks.Submit(ctx, jobTitle(job), jobKey(job), "webhook", string(payload),
		func(taskCtx context.Context, rc *task.RunContext) error {
			return d.engine.RunWebhook(taskCtx, rc, job)
		})
}

// DrainDue submits every queued job whose run_at has passed. Rows are
// removed once submitted; duplicates are dropped silently.
func (d *Dispatcher) DrainDue(ctx context.Context, now time.Time) (int, error) {
	items, err := d.queue.DueWebhooks(ctx, now)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, item := range items {
		var job models.WebhookJob
		if err := json.Unmarshal([]byte(item.Payload), &job); err != nil {
			logging.Warn().Err(err).Int64("id", item.ID).Msg("dropping undecodable webhook queue row")
			if err := d.queue.DeleteWebhook(ctx, item.ID); err != nil {
				return submitted, err
			}
			continue
		}

		if _, err := d.submit(ctx, job); err != nil {
			var ce *task.ConflictError
			if !errors.As(err, &ce) {
				return submitted, err
			}
			logging.Debug().Str("unique_key", item.UniqueKey).Msg("queued webhook duplicates an active task")
		} else {
			submitted++
		}
		if err := d.queue.DeleteWebhook(ctx, item.ID); err != nil {
			return submitted, err
		}
	}
	return submitted, nil
}

// jobKey is the dedup key: one key per (source-agnostic) target work
// and episode, so the same item announced by two servers collapses.
func jobKey(job models.WebhookJob) string {
	episode := "all"
	if job.EpisodeIndex != nil {
		episode = fmt.Sprintf("%d", *job.EpisodeIndex)
	}
	return fmt.Sprintf("webhook-%s-s%d-e%s-%s", job.Title, job.Season, episode, job.MediaType)
}

func jobTitle(job models.WebhookJob) string {
	if job.EpisodeIndex != nil {
		return fmt.Sprintf("Webhook导入: %s S%02dE%02d", job.Title, job.Season, *job.EpisodeIndex)
	}
	if job.MediaType == models.MediaTypeMovie {
		return fmt.Sprintf("Webhook导入: %s", job.Title)
	}
	return fmt.Sprintf("Webhook导入: %s 第%d季", job.Title, job.Season)
}
