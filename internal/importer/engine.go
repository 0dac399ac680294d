// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package importer executes the import jobs: generic provider imports,
// operator-edited episode lists, auto search-and-import and manual
// URL/XML payloads. The generic job runs in four phases: episode
// enumeration, source validation, iterative download and refresh
// bookkeeping.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/danmaku"
	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/metadata"
	"github.com/quzard/danmu-hub/internal/metrics"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/ratelimit"
	"github.com/quzard/danmu-hub/internal/recognizer"
	"github.com/quzard/danmu-hub/internal/scraper"
	"github.com/quzard/danmu-hub/internal/search"
	"github.com/quzard/danmu-hub/internal/task"
)

// Store is the repo surface the import engine needs, satisfied by
// *database.DB.
type Store interface {
	GetAnimeByIdentity(ctx context.Context, title string, season int, year *int) (*models.Anime, error)
	GetAnimeByID(ctx context.Context, id int64) (*models.Anime, error)
	GetAnimeByMetadataID(ctx context.Context, idType, id string, season int) (*models.Anime, error)
	CreateAnime(ctx context.Context, a *models.Anime) (*models.Anime, error)
	UpdateAnimeImage(ctx context.Context, animeID int64, imageURL, localPath string) error
	UpsertAnimeMetadata(ctx context.Context, animeID int64, ids models.MetadataIDs) error
	UpsertAnimeAliases(ctx context.Context, al models.AnimeAliases) error
	GetSourceByProvider(ctx context.Context, provider, mediaID string) (*models.Source, error)
	GetSourceByID(ctx context.Context, id int64) (*models.Source, error)
	ListSourcesByAnime(ctx context.Context, animeID int64) ([]models.Source, error)
	LinkSource(ctx context.Context, animeID int64, provider, mediaID string) (*models.Source, error)
	RecordIncrementalRefreshResult(ctx context.Context, sourceID int64, success bool) error
	GetEpisode(ctx context.Context, sourceID int64, index int) (*models.Episode, error)
	PresentEpisodeIndices(ctx context.Context, sourceID int64) (map[int]bool, error)
	CommitEpisode(ctx context.Context, e *models.Episode) error
}

// ImageDownloader fetches a remote poster and returns a local path.
type ImageDownloader interface {
	Download(ctx context.Context, url string) (string, error)
}

// Reporter is the progress surface a job reports through, satisfied by
// *task.RunContext.
type Reporter interface {
	TaskID() string
	Progress(ctx context.Context, percent int, message string) error
}

// GenericImport is the canonical import job.
type GenericImport struct {
	Provider           string
	MediaID            string
	Title              string
	MediaType          models.MediaType
	Season             int
	Year               *int
	ImageURL           string
	EpisodeIndex       *int
	SelectedEpisodes   []int
	MetadataIDs        models.MetadataIDs
	IsFallback         bool
	PreassignedAnimeID *int64

	// RefreshSourceID marks the job as running on behalf of an
	// incremental-refresh source for phase D bookkeeping.
	RefreshSourceID *int64
}

// Engine wires the import phases together.
type Engine struct {
	store    Store
	blobs    *danmaku.Store
	scrapers *scraper.Registry
	meta     *metadata.Registry
	recog    *recognizer.Recognizer
	cfg      *config.Store
	limiter  *ratelimit.Limiter
	pipeline *search.Pipeline
	images   ImageDownloader
}

// New creates the engine. images may be nil; imports then carry a
// warning instead of a local poster.
func New(store Store, blobs *danmaku.Store, scrapers *scraper.Registry, meta *metadata.Registry, recog *recognizer.Recognizer, cfg *config.Store, limiter *ratelimit.Limiter, pipeline *search.Pipeline, images ImageDownloader) *Engine {
	return &Engine{
		store:    store,
		blobs:    blobs,
		scrapers: scrapers,
		meta:     meta,
		recog:    recog,
		cfg:      cfg,
		limiter:  limiter,
		pipeline: pipeline,
		images:   images,
	}
}

// episodeOutcomes buckets per-episode results for the terminal report.
type episodeOutcomes struct {
	mu         sync.Mutex
	successful []int
	skipped    []int
	failed     []int
	reasons    []string
}

func (o *episodeOutcomes) success(idx int) {
	o.mu.Lock()
	o.successful = append(o.successful, idx)
	o.mu.Unlock()
}

func (o *episodeOutcomes) skip(idx int) {
	o.mu.Lock()
	o.skipped = append(o.skipped, idx)
	o.mu.Unlock()
}

func (o *episodeOutcomes) fail(idx int, reason string) {
	o.mu.Lock()
	o.failed = append(o.failed, idx)
	if reason != "" && len(o.reasons) < 5 {
		o.reasons = append(o.reasons, fmt.Sprintf("第%d集: %s", idx, firstLine(reason)))
	}
	o.mu.Unlock()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

func (o *episodeOutcomes) report(imageWarning string) string {
	var parts []string
	if len(o.successful) > 0 {
		parts = append(parts, fmt.Sprintf("导入 %s", EncodeRanges(o.successful)))
	}
	if len(o.skipped) > 0 {
		parts = append(parts, fmt.Sprintf("跳过 %s", EncodeRanges(o.skipped)))
	}
	if len(o.failed) > 0 {
		msg := fmt.Sprintf("失败 %d 集", len(o.failed))
		if len(o.reasons) > 0 {
			msg += " (" + strings.Join(o.reasons, "; ") + ")"
		}
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		parts = append(parts, "无可导入的分集")
	}
	if imageWarning != "" {
		parts = append(parts, imageWarning)
	}
	return strings.Join(parts, "，")
}

// RunGeneric executes the four import phases. Returned errors follow
// the task manager's cooperative protocol: *task.Success for a terminal
// message, *task.PauseForRateLimit on provider denial.
func (e *Engine) RunGeneric(ctx context.Context, rc Reporter, job GenericImport) error {
	adapter, err := e.scrapers.Get(job.Provider)
	if err != nil {
		return fmt.Errorf("provider %s: %w", job.Provider, err)
	}
	if job.MediaType == models.MediaTypeMovie {
		job.Season = 1
	}

	rc.Progress(ctx, 5, "枚举分集")
	episodes, prefetched, err := e.enumerate(ctx, adapter, &job)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return errors.New("源没有可用分集")
	}

	// Library-driven partial import short-circuit: everything selected
	// is already present.
	if len(job.SelectedEpisodes) > 0 {
		episodes, err = e.filterSelected(ctx, &job, episodes)
		if err != nil {
			return err
		}
		if len(episodes) == 0 {
			return &task.Success{Message: fmt.Sprintf("跳过: %s，均已存在", EncodeRanges(job.SelectedEpisodes))}
		}
	}

	rc.Progress(ctx, 15, "校验源")
	source, firstComments, imageWarning, err := e.validateSource(ctx, adapter, &job, episodes, prefetched)
	if err != nil {
		return err
	}

	outcomes := &episodeOutcomes{}
	if err := e.download(ctx, rc, adapter, &job, source, episodes, firstComments, outcomes); err != nil {
		return err
	}

	if job.RefreshSourceID != nil {
		refreshed := len(outcomes.successful) > 0 || len(outcomes.skipped) > 0
		if err := e.store.RecordIncrementalRefreshResult(ctx, *job.RefreshSourceID, refreshed); err != nil {
			logging.Warn().Err(err).Int64("source_id", *job.RefreshSourceID).
				Msg("incremental refresh bookkeeping failed")
		}
	}

	return &task.Success{Message: outcomes.report(imageWarning)}
}

// enumerate is phase A: list episodes, with the single-episode failover
// when the provider cannot enumerate.
func (e *Engine) enumerate(ctx context.Context, adapter scraper.Scraper, job *GenericImport) ([]models.ProviderEpisodeInfo, []models.Comment, error) {
	episodes, err := adapter.GetEpisodes(ctx, job.MediaID, job.EpisodeIndex, &job.MediaType)
	if err != nil {
		return nil, nil, fmt.Errorf("枚举分集失败: %w", err)
	}

	if len(episodes) == 0 && job.EpisodeIndex != nil {
		// Failover: some providers only answer direct comment queries.
		comments, err := e.fetchComments(ctx, adapter, job, job.MediaID, nil)
		if err != nil {
			return nil, nil, err
		}
		if len(comments) > 0 {
			idx := *job.EpisodeIndex
			return []models.ProviderEpisodeInfo{{
				ProviderEpisodeID: "failover",
				Title:             fmt.Sprintf("第%d集", idx),
				EpisodeIndex:      idx,
			}}, comments, nil
		}
	}

	if job.EpisodeIndex != nil {
		target := *job.EpisodeIndex
		for _, ep := range episodes {
			if ep.EpisodeIndex == target {
				return []models.ProviderEpisodeInfo{ep}, nil, nil
			}
		}
		if len(episodes) > 0 {
			return nil, nil, fmt.Errorf("源中不存在第%d集", target)
		}
	}
	return episodes, nil, nil
}

// filterSelected trims the enumeration to the curated indices. Unknown
// indices are dropped silently and reported as skipped.
func (e *Engine) filterSelected(ctx context.Context, job *GenericImport, episodes []models.ProviderEpisodeInfo) ([]models.ProviderEpisodeInfo, error) {
	selected := make(map[int]bool, len(job.SelectedEpisodes))
	for _, idx := range job.SelectedEpisodes {
		selected[idx] = true
	}

	var present map[int]bool
	if source, err := e.store.GetSourceByProvider(ctx, job.Provider, job.MediaID); err != nil {
		return nil, err
	} else if source != nil {
		present, err = e.store.PresentEpisodeIndices(ctx, source.ID)
		if err != nil {
			return nil, err
		}
	}

	var out []models.ProviderEpisodeInfo
	for _, ep := range episodes {
		if !selected[ep.EpisodeIndex] {
			continue
		}
		if present[ep.EpisodeIndex] {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

// validateSource is phase B: prove one non-empty episode fetch before
// any Anime/Source row is created.
func (e *Engine) validateSource(ctx context.Context, adapter scraper.Scraper, job *GenericImport, episodes []models.ProviderEpisodeInfo, prefetched []models.Comment) (*models.Source, []models.Comment, string, error) {
	first := episodes[0]
	comments := prefetched
	if comments == nil {
		var err error
		comments, err = e.fetchComments(ctx, adapter, job, first.ProviderEpisodeID, nil)
		if err != nil {
			return nil, nil, "", err
		}
	}
	if len(comments) == 0 {
		return nil, nil, "", fmt.Errorf("源校验失败: 第%d集没有弹幕", first.EpisodeIndex)
	}

	var imageWarning string
	localImage := ""
	if job.ImageURL != "" {
		if e.images == nil {
			imageWarning = "海报未下载"
		} else if path, err := e.images.Download(ctx, job.ImageURL); err != nil {
			logging.Warn().Err(err).Str("url", job.ImageURL).Msg("image download failed")
			imageWarning = "海报下载失败"
		} else {
			localImage = path
		}
	}

	anime, err := e.ensureAnime(ctx, job)
	if err != nil {
		return nil, nil, "", err
	}
	if job.ImageURL != "" {
		if err := e.store.UpdateAnimeImage(ctx, anime.ID, job.ImageURL, localImage); err != nil {
			logging.Warn().Err(err).Int64("anime_id", anime.ID).Msg("image path update failed")
		}
	}
	if !job.MetadataIDs.IsEmpty() {
		if err := e.store.UpsertAnimeMetadata(ctx, anime.ID, job.MetadataIDs); err != nil {
			return nil, nil, "", err
		}
	}

	source, err := e.store.LinkSource(ctx, anime.ID, job.Provider, job.MediaID)
	if err != nil {
		return nil, nil, "", err
	}
	return source, comments, imageWarning, nil
}

func (e *Engine) ensureAnime(ctx context.Context, job *GenericImport) (*models.Anime, error) {
	if job.PreassignedAnimeID != nil {
		anime, err := e.store.GetAnimeByID(ctx, *job.PreassignedAnimeID)
		if err != nil {
			return nil, err
		}
		return anime, nil
	}

	title := e.recog.PostStore(job.Title)
	anime, err := e.store.GetAnimeByIdentity(ctx, title, job.Season, job.Year)
	if err != nil {
		return nil, err
	}
	if anime != nil {
		return anime, nil
	}
	return e.store.CreateAnime(ctx, &models.Anime{
		Title:     title,
		MediaType: job.MediaType,
		Season:    job.Season,
		Year:      job.Year,
		ImageURL:  job.ImageURL,
	})
}

// download is phase C. firstComments are the already fetched phase B
// comments for episodes[0].
func (e *Engine) download(ctx context.Context, rc Reporter, adapter scraper.Scraper, job *GenericImport, source *models.Source, episodes []models.ProviderEpisodeInfo, firstComments []models.Comment, outcomes *episodeOutcomes) error {
	smartRefresh := e.cfg.GetBool(ctx, config.KeySmartRefreshEnabled, false)

	commit := func(ep models.ProviderEpisodeInfo, comments []models.Comment) error {
		canonical := e.recog.TransformEpisode(job.Title, ep.EpisodeIndex)
		path, count, err := e.blobs.Write(source.ID, canonical, comments)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := e.store.CommitEpisode(ctx, &models.Episode{
			SourceID:          source.ID,
			EpisodeIndex:      canonical,
			Title:             ep.Title,
			URL:               ep.URL,
			ProviderEpisodeID: ep.ProviderEpisodeID,
			DanmakuFilePath:   path,
			CommentCount:      count,
			FetchedAt:         &now,
		}); err != nil {
			return err
		}
		metrics.EpisodesImported.WithLabelValues(job.Provider).Inc()
		return nil
	}

	handle := func(i int, ep models.ProviderEpisodeInfo) error {
		canonical := e.recog.TransformEpisode(job.Title, ep.EpisodeIndex)

		var comments []models.Comment
		if i == 0 && firstComments != nil {
			comments = firstComments
		} else {
			existing, err := e.store.GetEpisode(ctx, source.ID, canonical)
			if err != nil {
				return err
			}
			if existing != nil && existing.Present() && !smartRefresh {
				outcomes.skip(ep.EpisodeIndex)
				return nil
			}
			comments, err = e.fetchComments(ctx, adapter, job, ep.ProviderEpisodeID, rc)
			if err != nil {
				var rlErr *ratelimit.Error
				if errors.As(err, &rlErr) {
					return &task.PauseForRateLimit{RetryAfter: rlErr.RetryAfter}
				}
				outcomes.fail(ep.EpisodeIndex, err.Error())
				return nil
			}
			if len(comments) == 0 {
				outcomes.fail(ep.EpisodeIndex, "没有弹幕")
				return nil
			}
			if smartRefresh && existing != nil && existing.Present() && len(comments) <= existing.CommentCount {
				outcomes.skip(ep.EpisodeIndex)
				return nil
			}
		}

		if err := commit(ep, comments); err != nil {
			outcomes.fail(ep.EpisodeIndex, err.Error())
			return nil
		}
		outcomes.success(ep.EpisodeIndex)
		return nil
	}

	// Bounded fan-out is reserved for the trivial single-target case;
	// full-season imports stay serial so presence checks and rate-limit
	// pauses remain exact.
	if job.EpisodeIndex != nil && len(episodes) == 1 {
		sem := semaphore.NewWeighted(3)
		var wg sync.WaitGroup
		errCh := make(chan error, len(episodes))
		for i, ep := range episodes {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				if err := handle(i, ep); err != nil {
					errCh <- err
				}
			}()
		}
		wg.Wait()
		close(errCh)
		if err := <-errCh; err != nil {
			return err
		}
		return ctx.Err()
	}

	total := len(episodes)
	for i, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		pct := 20 + 75*i/total
		if err := rc.Progress(ctx, pct, fmt.Sprintf("下载第%d集 (%d/%d)", ep.EpisodeIndex, i+1, total)); err != nil {
			return err
		}
		if err := handle(i, ep); err != nil {
			return err
		}
	}
	return nil
}

// fetchComments wraps the provider comment call with the correct rate
// limit bucket (direct or fallback) and outcome telemetry.
func (e *Engine) fetchComments(ctx context.Context, adapter scraper.Scraper, job *GenericImport, providerEpisodeID string, rc Reporter) ([]models.Comment, error) {
	if job.IsFallback {
		if err := e.limiter.CheckFallback(ctx, ratelimit.FallbackMatch, job.Provider); err != nil {
			metrics.RateLimitDenials.WithLabelValues(ratelimit.FallbackMatchKey).Inc()
			return nil, err
		}
	} else {
		if err := e.limiter.Check(ctx, job.Provider); err != nil {
			metrics.RateLimitDenials.WithLabelValues(job.Provider).Inc()
			return nil, err
		}
	}

	var progress scraper.ProgressFunc
	if rc != nil {
		progress = func(percent int, message string) {
			logging.Trace().Int("percent", percent).Str("message", message).Msg("comment fetch progress")
		}
	}

	comments, err := adapter.GetComments(ctx, providerEpisodeID, progress)
	if err != nil {
		metrics.CommentFetches.WithLabelValues(job.Provider, "error").Inc()
		return nil, fmt.Errorf("获取弹幕失败: %w", err)
	}
	if len(comments) == 0 {
		metrics.CommentFetches.WithLabelValues(job.Provider, "empty").Inc()
		return nil, nil
	}

	metrics.CommentFetches.WithLabelValues(job.Provider, "ok").Inc()
	if job.IsFallback {
		e.limiter.IncrementFallback(ctx, ratelimit.FallbackMatch, job.Provider)
	} else {
		e.limiter.Increment(ctx, job.Provider)
	}
	return comments, nil
}

// MissingEpisodes computes which selected indices are absent for a
// source after applying the recognizer's episode transform.
func (e *Engine) MissingEpisodes(ctx context.Context, title string, sourceID int64, wanted []int) ([]int, error) {
	present, err := e.store.PresentEpisodeIndices(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	var missing []int
	for _, idx := range wanted {
		if !present[e.recog.TransformEpisode(title, idx)] {
			missing = append(missing, idx)
		}
	}
	sort.Ints(missing)
	return missing, nil
}
