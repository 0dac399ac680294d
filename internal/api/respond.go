// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/task"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn().Err(err).Msg("response encode failed")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondSubmitError maps submit failures: duplicate unique keys answer
// 409, everything else is a server error.
func respondSubmitError(w http.ResponseWriter, err error) {
	var conflict *task.ConflictError
	if errors.As(err, &conflict) {
		respondError(w, http.StatusConflict, conflict.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// decodeBody unmarshals and validates a JSON request body.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return s.validate.Struct(dst)
}
