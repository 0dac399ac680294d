// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package api

import (
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quzard/danmu-hub/internal/logging"
)

// handleRateLimitStatus answers a one-shot JSON snapshot, or with
// stream=true an SSE feed refreshed every second until the client
// disconnects.
func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") != "true" {
		status, err := s.limiter.Status(r.Context(), s.scrapers.Names())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, status)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		status, err := s.limiter.Status(r.Context(), s.scrapers.Names())
		if err != nil {
			logging.Warn().Err(err).Msg("rate limit status read failed")
			return
		}
		payload, err := json.Marshal(status)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
