// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/task"
)

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	var statuses []models.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" && raw != "all" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, models.TaskStatus(part))
			}
		}
	}
	limit, _ := queryInt(r, "limit")

	tasks, err := s.db.SearchTasks(r.Context(), statuses, r.URL.Query().Get("search"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []models.TaskRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleTaskAbort cancels the running task. With force=true the failed
// state is also written directly, for tasks stuck outside the
// cooperative cancellation path.
func (s *Server) handleTaskAbort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"

	err := s.tasks.Abort(id)
	if err != nil && !force {
		respondTaskError(w, err)
		return
	}
	if force {
		if err := s.db.UpdateTaskProgress(r.Context(), id, models.TaskStatusFailed, 0, "任务被强制中止"); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "任务已中止"})
}

func (s *Server) handleTaskPause(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Pause(chi.URLParam(r, "id")); err != nil {
		respondTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "任务已暂停"})
}

func (s *Server) handleTaskResume(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Resume(chi.URLParam(r, "id")); err != nil {
		respondTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "任务已恢复"})
}

// handleTaskDelete removes a history row. Pending tasks are cancelled
// out of the queue first; active rows cannot be deleted.
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.tasks.CancelPending(r.Context(), id); err == nil {
		respondJSON(w, http.StatusOK, map[string]string{"message": "任务已取消"})
		return
	}

	record, err := s.db.GetTask(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, "任务不存在")
		return
	}
	if record.Status.Active() {
		respondError(w, http.StatusConflict, "任务正在执行，无法删除")
		return
	}
	if err := s.db.DeleteTask(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "任务已删除"})
}

// handleTaskExecution resolves a scheduler job id to its most recent
// execution task, so callers can poll a triggered run to completion.
func (s *Server) handleTaskExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	row, err := s.db.GetSchedulerTask(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "定时任务不存在")
		return
	}

	resp := models.TaskExecutionResponse{SchedulerTaskID: row.ID, ExecutionTaskID: row.LastTaskID}
	if row.LastTaskID != "" {
		record, err := s.db.GetTask(r.Context(), row.LastTaskID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if record != nil {
			resp.Status = string(record.Status)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondTaskError(w http.ResponseWriter, err error) {
	if errors.Is(err, task.ErrTaskNotFound) {
		respondError(w, http.StatusNotFound, "任务不存在或未在执行")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
