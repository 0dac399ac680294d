// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package importer

import (
	"context"
	"fmt"
	"sort"

	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/task"
)

// RunEdited imports an operator-curated episode list. Episodes already
// present for the same source are dropped up front; the Anime/Source
// creation rule is identical to the generic import.
func (e *Engine) RunEdited(ctx context.Context, rc Reporter, req models.EditedImportRequest) error {
	adapter, err := e.scrapers.Get(req.Provider)
	if err != nil {
		return fmt.Errorf("provider %s: %w", req.Provider, err)
	}

	job := GenericImport{
		Provider:    req.Provider,
		MediaID:     req.MediaID,
		Title:       req.Title,
		MediaType:   models.MediaType(req.MediaType),
		Season:      req.Season,
		Year:        req.Year,
		ImageURL:    req.ImageURL,
		MetadataIDs: req.IDs,
	}
	if job.MediaType == models.MediaTypeMovie {
		job.Season = 1
	}

	episodes := append([]models.ProviderEpisodeInfo(nil), req.Episodes...)
	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].EpisodeIndex < episodes[j].EpisodeIndex
	})

	rc.Progress(ctx, 5, "预检已存在的分集")
	var present map[int]bool
	if source, err := e.store.GetSourceByProvider(ctx, req.Provider, req.MediaID); err != nil {
		return err
	} else if source != nil {
		present, err = e.store.PresentEpisodeIndices(ctx, source.ID)
		if err != nil {
			return err
		}
	}

	var todo []models.ProviderEpisodeInfo
	var alreadyPresent []int
	for _, ep := range episodes {
		canonical := e.recog.TransformEpisode(req.Title, ep.EpisodeIndex)
		if present[canonical] {
			alreadyPresent = append(alreadyPresent, ep.EpisodeIndex)
			continue
		}
		todo = append(todo, ep)
	}
	if len(todo) == 0 {
		return &task.Success{Message: fmt.Sprintf("跳过: %s，均已存在", EncodeRanges(alreadyPresent))}
	}

	rc.Progress(ctx, 15, "校验源")
	source, firstComments, imageWarning, err := e.validateSource(ctx, adapter, &job, todo, nil)
	if err != nil {
		return err
	}

	outcomes := &episodeOutcomes{}
	for _, idx := range alreadyPresent {
		outcomes.skip(idx)
	}
	if err := e.download(ctx, rc, adapter, &job, source, todo, firstComments, outcomes); err != nil {
		return err
	}
	return &task.Success{Message: outcomes.report(imageWarning)}
}
