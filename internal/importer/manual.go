// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/quzard/danmu-hub/internal/metrics"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/scraper"
	"github.com/quzard/danmu-hub/internal/task"
)

// RunURL imports one episode of an existing source from an episode URL.
// The source's own provider resolves the URL to an episode id.
func (e *Engine) RunURL(ctx context.Context, rc Reporter, req models.URLImportRequest) error {
	source, err := e.store.GetSourceByID(ctx, req.SourceID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("source %d not found", req.SourceID)
	}
	adapter, err := e.scrapers.Get(source.ProviderName)
	if err != nil {
		return fmt.Errorf("provider %s: %w", source.ProviderName, err)
	}
	resolver, ok := adapter.(scraper.URLIDProvider)
	if !ok {
		return fmt.Errorf("provider %s does not support url import", source.ProviderName)
	}

	rc.Progress(ctx, 10, "解析分集链接")
	episodeID, err := resolver.GetIDFromURL(ctx, req.URL)
	if err != nil {
		return fmt.Errorf("解析链接失败: %w", err)
	}

	rc.Progress(ctx, 40, "下载弹幕")
	probe := GenericImport{Provider: source.ProviderName, MediaID: source.MediaID}
	comments, err := e.fetchComments(ctx, adapter, &probe, episodeID, rc)
	if err != nil {
		return err
	}
	if len(comments) == 0 {
		return fmt.Errorf("链接没有弹幕")
	}

	return e.commitManual(ctx, source, req.EpisodeIndex, episodeID, req.URL, comments)
}

// RunXML imports a raw danmaku payload (XML or plain text) into one
// episode of an existing source, no network involved.
func (e *Engine) RunXML(ctx context.Context, rc Reporter, req models.XMLImportRequest) error {
	source, err := e.store.GetSourceByID(ctx, req.SourceID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("source %d not found", req.SourceID)
	}

	rc.Progress(ctx, 30, "解析弹幕内容")
	comments := scraper.ParsePayload(req.Content)
	if len(comments) == 0 {
		return fmt.Errorf("内容中没有可解析的弹幕")
	}

	return e.commitManual(ctx, source, req.EpisodeIndex, scraper.CustomProviderName, "", comments)
}

func (e *Engine) commitManual(ctx context.Context, source *models.Source, episodeIndex int, providerEpisodeID, url string, comments []models.Comment) error {
	anime, err := e.store.GetAnimeByID(ctx, source.AnimeID)
	if err != nil {
		return err
	}
	title := ""
	if anime != nil {
		title = anime.Title
	}

	canonical := e.recog.TransformEpisode(title, episodeIndex)
	path, count, err := e.blobs.Write(source.ID, canonical, comments)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := e.store.CommitEpisode(ctx, &models.Episode{
		SourceID:          source.ID,
		EpisodeIndex:      canonical,
		Title:             fmt.Sprintf("第%d集", episodeIndex),
		URL:               url,
		ProviderEpisodeID: providerEpisodeID,
		DanmakuFilePath:   path,
		CommentCount:      count,
		FetchedAt:         &now,
	}); err != nil {
		return err
	}
	metrics.EpisodesImported.WithLabelValues(source.ProviderName).Inc()
	return &task.Success{Message: fmt.Sprintf("导入第%d集，共 %d 条弹幕", episodeIndex, count)}
}
