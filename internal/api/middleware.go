// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/metrics"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// authenticate checks the api_key query parameter or X-API-Key header
// against the stored key with a constant-time compare. Failures are
// written to the external API log.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configured := s.cfg.Get(r.Context(), config.KeyExternalAPIKey, "")
		if configured == "" {
			s.logAccess(r, http.StatusForbidden, "api key not configured")
			respondError(w, http.StatusForbidden, "外部 API 未启用")
			return
		}

		presented := r.URL.Query().Get("api_key")
		if presented == "" {
			presented = r.Header.Get("X-API-Key")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
			s.logAccess(r, http.StatusUnauthorized, "invalid api key")
			respondError(w, http.StatusUnauthorized, "无效的 API Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logAccess(r *http.Request, status int, message string) {
	if err := s.db.LogExternalAPIAccess(r.Context(), r.RemoteAddr, r.URL.Path, status, message); err != nil {
		logging.Warn().Err(err).Msg("external api log write failed")
	}
}

// countRequests records per-route counters using the chi route pattern
// so path parameters do not explode the label space.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		class := fmt.Sprintf("%dxx", ww.status/100)
		metrics.HTTPRequests.WithLabelValues(route, class).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE working through the recorder.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
