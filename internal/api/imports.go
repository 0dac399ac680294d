// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quzard/danmu-hub/internal/importer"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/task"
)

func (s *Server) handleImportAuto(w http.ResponseWriter, r *http.Request) {
	var req models.AutoImportRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	uniqueKey := fmt.Sprintf("auto-%s-%s-s%v-e%s", req.SearchType, req.SearchTerm, intOrAll(req.Season), orAll(req.Episode))
	taskID, err := s.tasks.Submit(r.Context(), fmt.Sprintf("自动导入: %s", req.SearchTerm), uniqueKey, "auto_import", req.SearchTerm,
		func(ctx context.Context, rc *task.RunContext) error {
			return s.engine.RunAuto(ctx, rc, req)
		})
	if err != nil {
		respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, models.TaskSubmitResponse{Message: "任务已提交", TaskID: taskID})
}

func (s *Server) handleImportDirect(w http.ResponseWriter, r *http.Request) {
	var req models.DirectImportRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidate, ok := s.lookupSearch(req.SearchID, req.ResultIndex)
	if !ok {
		respondError(w, http.StatusNotFound, "搜索结果不存在或已过期")
		return
	}

	job := importer.GenericImport{
		Provider:     candidate.Provider,
		MediaID:      candidate.MediaID,
		Title:        candidate.Title,
		MediaType:    candidate.MediaType,
		Season:       candidate.Season,
		Year:         candidate.Year,
		ImageURL:     candidate.ImageURL,
		EpisodeIndex: req.Episode,
		MetadataIDs:  req.IDs,
	}

	uniqueKey := fmt.Sprintf("direct-%s-%s-e%v", candidate.Provider, candidate.MediaID, intOrAll(req.Episode))
	taskID, err := s.tasks.Submit(r.Context(), fmt.Sprintf("导入: %s", candidate.Title), uniqueKey, "direct_import", candidate.MediaID,
		func(ctx context.Context, rc *task.RunContext) error {
			return s.engine.RunGeneric(ctx, rc, job)
		})
	if err != nil {
		respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, models.TaskSubmitResponse{Message: "任务已提交", TaskID: taskID})
}

func (s *Server) handleImportEdited(w http.ResponseWriter, r *http.Request) {
	var req models.EditedImportRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	uniqueKey := fmt.Sprintf("edited-%s-%s", req.Provider, req.MediaID)
	taskID, err := s.tasks.Submit(r.Context(), fmt.Sprintf("编辑导入: %s", req.Title), uniqueKey, "edited_import", req.MediaID,
		func(ctx context.Context, rc *task.RunContext) error {
			return s.engine.RunEdited(ctx, rc, req)
		})
	if err != nil {
		respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, models.TaskSubmitResponse{Message: "任务已提交", TaskID: taskID})
}

func (s *Server) handleImportURL(w http.ResponseWriter, r *http.Request) {
	var req models.URLImportRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	uniqueKey := fmt.Sprintf("url-%d-e%d", req.SourceID, req.EpisodeIndex)
	taskID, err := s.tasks.Submit(r.Context(), fmt.Sprintf("链接导入: 第%d集", req.EpisodeIndex), uniqueKey, "url_import", req.URL,
		func(ctx context.Context, rc *task.RunContext) error {
			return s.engine.RunURL(ctx, rc, req)
		})
	if err != nil {
		respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, models.TaskSubmitResponse{Message: "任务已提交", TaskID: taskID})
}

func (s *Server) handleImportXML(w http.ResponseWriter, r *http.Request) {
	var req models.XMLImportRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	uniqueKey := fmt.Sprintf("xml-%d-e%d", req.SourceID, req.EpisodeIndex)
	taskID, err := s.tasks.Submit(r.Context(), fmt.Sprintf("文件导入: 第%d集", req.EpisodeIndex), uniqueKey, "xml_import", "",
		func(ctx context.Context, rc *task.RunContext) error {
			return s.engine.RunXML(ctx, rc, req)
		})
	if err != nil {
		respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, models.TaskSubmitResponse{Message: "任务已提交", TaskID: taskID})
}

func intOrAll(n *int) string {
	if n == nil {
		return "all"
	}
	return fmt.Sprintf("%d", *n)
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}
