// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quzard/danmu-hub/internal/models"
)

type configValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.cfg.Editable(key) {
		respondError(w, http.StatusNotFound, "未知配置项")
		return
	}
	respondJSON(w, http.StatusOK, configValue{Key: key, Value: s.cfg.Get(r.Context(), key, "")})
}

func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.cfg.Editable(key) {
		respondError(w, http.StatusNotFound, "未知配置项")
		return
	}

	var req models.ConfigUpdateRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Set(r.Context(), key, req.Value); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "配置已更新"})
}

func (s *Server) handleRecognitionGet(w http.ResponseWriter, r *http.Request) {
	content, err := s.db.GetRecognitionRules(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"content": content})
}

// handleRecognitionUpdate applies the new rule text in memory first so
// malformed lines surface as warnings, then persists it.
func (s *Server) handleRecognitionUpdate(w http.ResponseWriter, r *http.Request) {
	var req models.RecognitionUpdateRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	warnings := s.recog.Update(req.Content)
	if err := s.db.SetRecognitionRules(r.Context(), req.Content); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if warnings == nil {
		warnings = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

func (s *Server) handleSchedulerList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.ListSchedulerTasks(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []models.SchedulerTask{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": rows})
}

func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	taskID, err := s.scheduler.TriggerByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"taskId": taskID})
}
