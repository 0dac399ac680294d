// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package webhook normalizes media-server notifications into WebhookJob
// envelopes and dispatches them, delayed or immediate, to the task
// manager. Downstream code never sees the originating server.
package webhook

import (
	"context"
	"strconv"
	"strings"

	"github.com/quzard/danmu-hub/internal/importer"
	"github.com/quzard/danmu-hub/internal/models"
)

// Source names, also used as metric labels and queue rows.
const (
	SourceEmby     = "emby"
	SourceJellyfin = "jellyfin"
	SourcePlex     = "plex"
	SourceTautulli = "tautulli"
)

// SeasonProber discovers the season numbers of a series on the
// originating media server. Used for Emby Series events, which carry no
// season of their own.
type SeasonProber interface {
	Seasons(ctx context.Context, seriesID string) ([]int, error)
}

func normalizeEmby(ctx context.Context, w models.EmbyWebhook, prober SeasonProber) []models.WebhookJob {
	switch w.Event {
	case "library.new", "item.markplayed", "item.rate":
	default:
		return nil
	}
	if w.Item == nil {
		return nil
	}
	item := w.Item
	ids := idsFromMap(item.ProviderIds)

	switch item.Type {
	case "Episode":
		job := models.WebhookJob{
			Source:    SourceEmby,
			MediaType: models.MediaTypeTVSeries,
			Title:     firstNonEmpty(item.SeriesName, item.Name),
			Season:    orOne(item.ParentIndexNumber),
			IDs:       ids,
		}
		if item.IndexNumber > 0 {
			idx := item.IndexNumber
			job.EpisodeIndex = &idx
		}
		return []models.WebhookJob{job}

	case "Movie":
		job := models.WebhookJob{
			Source:    SourceEmby,
			MediaType: models.MediaTypeMovie,
			Title:     item.Name,
			Season:    1,
			IDs:       ids,
		}
		if item.ProductionYear > 0 {
			year := item.ProductionYear
			job.Year = &year
		}
		return []models.WebhookJob{job}

	case "Series":
		// One full-season job per discoverable season.
		seasons := []int{1}
		if prober != nil && item.SeriesID != "" {
			if probed, err := prober.Seasons(ctx, item.SeriesID); err == nil && len(probed) > 0 {
				seasons = probed
			}
		}
		jobs := make([]models.WebhookJob, 0, len(seasons))
		for _, season := range seasons {
			jobs = append(jobs, models.WebhookJob{
				Source:    SourceEmby,
				MediaType: models.MediaTypeTVSeries,
				Title:     firstNonEmpty(item.SeriesName, item.Name),
				Season:    orOne(season),
				IDs:       ids,
			})
		}
		return jobs
	}
	return nil
}

func normalizeJellyfin(w models.JellyfinWebhook) []models.WebhookJob {
	if w.NotificationType != "ItemAdded" {
		return nil
	}
	ids := models.MetadataIDs{
		TMDBID:    w.ProviderTMDB,
		IMDBID:    w.ProviderIMDB,
		TVDBID:    w.ProviderTVDB,
		DoubanID:  w.ProviderDouban,
		BangumiID: w.ProviderBangumi,
	}

	var year *int
	if w.Year > 0 {
		y := w.Year
		year = &y
	} else if y := yearFromDate(w.PremiereDate); y != nil {
		year = y
	}

	switch w.ItemType {
	case "Episode":
		job := models.WebhookJob{
			Source:    SourceJellyfin,
			MediaType: models.MediaTypeTVSeries,
			Title:     firstNonEmpty(w.SeriesName, w.Name),
			Season:    orOne(w.SeasonNumber),
			Year:      year,
			IDs:       ids,
		}
		if w.EpisodeNumber > 0 {
			idx := w.EpisodeNumber
			job.EpisodeIndex = &idx
		}
		return []models.WebhookJob{job}
	case "Movie":
		return []models.WebhookJob{{
			Source:    SourceJellyfin,
			MediaType: models.MediaTypeMovie,
			Title:     w.Name,
			Season:    1,
			Year:      year,
			IDs:       ids,
		}}
	}
	return nil
}

func normalizePlex(w models.PlexWebhook) []models.WebhookJob {
	if w.Event != "library.new" || w.Metadata == nil {
		return nil
	}
	item := w.Metadata
	ids := idsFromGUIDs(item.GUID)

	var year *int
	if item.Year > 0 {
		y := item.Year
		year = &y
	}

	switch item.Type {
	case "episode":
		job := models.WebhookJob{
			Source:    SourcePlex,
			MediaType: models.MediaTypeTVSeries,
			Title:     firstNonEmpty(item.GrandparentTitle, item.Title),
			Season:    orOne(item.ParentIndex),
			Year:      year,
			IDs:       ids,
		}
		if item.Index > 0 {
			idx := item.Index
			job.EpisodeIndex = &idx
		}
		return []models.WebhookJob{job}
	case "movie":
		return []models.WebhookJob{{
			Source:    SourcePlex,
			MediaType: models.MediaTypeMovie,
			Title:     item.Title,
			Season:    1,
			Year:      year,
			IDs:       ids,
		}}
	case "show":
		return []models.WebhookJob{{
			Source:    SourcePlex,
			MediaType: models.MediaTypeTVSeries,
			Title:     item.Title,
			Season:    1,
			Year:      year,
			IDs:       ids,
		}}
	}
	return nil
}

func normalizeTautulli(w models.TautulliWebhook) []models.WebhookJob {
	if w.Action != "" && w.Action != "created" {
		return nil
	}
	ids := models.MetadataIDs{
		TMDBID:    w.TMDBID,
		IMDBID:    w.IMDBID,
		TVDBID:    w.TVDBID,
		DoubanID:  w.DoubanID,
		BangumiID: w.BangumiID,
	}

	var year *int
	if y, err := strconv.Atoi(strings.TrimSpace(w.Year)); err == nil && y > 0 {
		year = &y
	}

	switch w.MediaType {
	case "movie":
		return []models.WebhookJob{{
			Source:    SourceTautulli,
			MediaType: models.MediaTypeMovie,
			Title:     firstNonEmpty(w.Title, w.ShowName),
			Season:    1,
			Year:      year,
			IDs:       ids,
		}}
	case "show":
		return []models.WebhookJob{{
			Source:    SourceTautulli,
			MediaType: models.MediaTypeTVSeries,
			Title:     firstNonEmpty(w.ShowName, w.Title),
			Season:    1,
			Year:      year,
			IDs:       ids,
		}}
	case "episode":
	default:
		return nil
	}

	season := 1
	if n, err := strconv.Atoi(strings.TrimSpace(w.Season)); err == nil && n > 0 {
		season = n
	}
	base := models.WebhookJob{
		Source:    SourceTautulli,
		MediaType: models.MediaTypeTVSeries,
		Title:     firstNonEmpty(w.ShowName, w.Title),
		Season:    season,
		Year:      year,
		IDs:       ids,
	}
	if strings.TrimSpace(w.Episode) == "" {
		return []models.WebhookJob{base}
	}

	// Tautulli may batch a range string; fan out one job per episode.
	indices, err := importer.DecodeRanges(w.Episode)
	if err != nil {
		return []models.WebhookJob{base}
	}
	jobs := make([]models.WebhookJob, 0, len(indices))
	for i := range indices {
		job := base
		job.EpisodeIndex = &indices[i]
		jobs = append(jobs, job)
	}
	return jobs
}

// idsFromMap extracts the known catalogue identifiers from an Emby
// ProviderIds map, key case ignored.
func idsFromMap(m map[string]string) models.MetadataIDs {
	var ids models.MetadataIDs
	for k, v := range m {
		if v == "" {
			continue
		}
		switch strings.ToLower(k) {
		case "tmdb":
			ids.TMDBID = v
		case "imdb":
			ids.IMDBID = v
		case "tvdb":
			ids.TVDBID = v
		case "douban":
			ids.DoubanID = v
		case "bangumi":
			ids.BangumiID = v
		}
	}
	return ids
}

// idsFromGUIDs parses Plex guid entries such as "tmdb://123456".
func idsFromGUIDs(guids []models.PlexItemGUID) models.MetadataIDs {
	var ids models.MetadataIDs
	for _, g := range guids {
		scheme, id, ok := strings.Cut(g.ID, "://")
		if !ok || id == "" {
			continue
		}
		switch strings.ToLower(scheme) {
		case "tmdb":
			ids.TMDBID = id
		case "imdb":
			ids.IMDBID = id
		case "tvdb":
			ids.TVDBID = id
		case "douban":
			ids.DoubanID = id
		case "bangumi":
			ids.BangumiID = id
		}
	}
	return ids
}

func yearFromDate(date string) *int {
	if len(date) < 4 {
		return nil
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y < 1900 {
		return nil
	}
	return &y
}

func orOne(n int) int {
	if n > 0 {
		return n
	}
	return 1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
