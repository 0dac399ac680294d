// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quzard/danmu-hub/internal/task"
	"github.com/quzard/danmu-hub/internal/webhook"
)

const maxWebhookBody = 1 << 20

// handleWebhook extracts the raw payload in whatever shape the media
// server posts it. Plex wraps JSON in a multipart form field, Jellyfin
// posts either JSON or a urlencoded payload field, Emby and Tautulli
// post plain JSON bodies.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	payload, err := extractWebhookPayload(r, source)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, err := s.hooks.Dispatch(r.Context(), source, payload)
	if err != nil {
		var conflict *task.ConflictError
		switch {
		case errors.As(err, &conflict):
			respondError(w, http.StatusConflict, conflict.Error())
		case errors.Is(err, webhook.ErrUnknownSource):
			respondError(w, http.StatusNotFound, "未知的 webhook 来源")
		default:
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

func extractWebhookPayload(r *http.Request, source string) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxWebhookBody)

	switch source {
	case webhook.SourcePlex:
		if err := r.ParseMultipartForm(maxWebhookBody); err != nil {
			return nil, errors.New("无法解析 multipart 请求")
		}
		field := r.FormValue("payload")
		if field == "" {
			return nil, errors.New("缺少 payload 字段")
		}
		return []byte(field), nil
	case webhook.SourceJellyfin:
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			if err := r.ParseForm(); err != nil {
				return nil, errors.New("无法解析表单请求")
			}
			field := r.PostFormValue("payload")
			if field == "" {
				return nil, errors.New("缺少 payload 字段")
			}
			return []byte(field), nil
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.New("请求体读取失败")
	}
	return body, nil
}
