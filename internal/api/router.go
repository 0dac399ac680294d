// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package api serves the external control API, the media-server webhook
// endpoints and the Prometheus metrics listener on one chi router.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/database"
	"github.com/quzard/danmu-hub/internal/importer"
	"github.com/quzard/danmu-hub/internal/ratelimit"
	"github.com/quzard/danmu-hub/internal/recognizer"
	"github.com/quzard/danmu-hub/internal/scheduler"
	"github.com/quzard/danmu-hub/internal/scraper"
	"github.com/quzard/danmu-hub/internal/search"
	"github.com/quzard/danmu-hub/internal/task"
	"github.com/quzard/danmu-hub/internal/webhook"
)

// Server bundles the handler dependencies.
type Server struct {
	db        *database.DB
	cfg       *config.Store
	tasks     *task.Manager
	pipeline  *search.Pipeline
	engine    *importer.Engine
	hooks     *webhook.Dispatcher
	scheduler *scheduler.Scheduler
	limiter   *ratelimit.Limiter
	scrapers  *scraper.Registry
	recog     *recognizer.Recognizer
	validate  *validator.Validate

	searchMu sync.Mutex
	searches map[string]*cachedSearch
}

// New creates the server.
func New(db *database.DB, cfg *config.Store, tasks *task.Manager, pipeline *search.Pipeline,
	engine *importer.Engine, hooks *webhook.Dispatcher, sched *scheduler.Scheduler,
	limiter *ratelimit.Limiter, scrapers *scraper.Registry, recog *recognizer.Recognizer) *Server {
	return &Server{
		db:        db,
		cfg:       cfg,
		tasks:     tasks,
		pipeline:  pipeline,
		engine:    engine,
		hooks:     hooks,
		scheduler: sched,
		limiter:   limiter,
		scrapers:  scrapers,
		recog:     recog,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		searches:  make(map[string]*cachedSearch),
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/webhook", func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Use(s.authenticate)
		r.Post("/{source}", s.handleWebhook)
	})

	r.Route("/api/control", func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Use(s.authenticate)
		r.Use(s.countRequests)

		r.Get("/search", s.handleSearch)
		r.Get("/episodes", s.handleEpisodes)

		r.Post("/import/auto", s.handleImportAuto)
		r.Post("/import/direct", s.handleImportDirect)
		r.Post("/import/edited", s.handleImportEdited)
		r.Post("/import/url", s.handleImportURL)
		r.Post("/import/xml", s.handleImportXML)

		r.Get("/tasks", s.handleTaskList)
		r.Delete("/tasks/{id}", s.handleTaskDelete)
		r.Post("/tasks/{id}/abort", s.handleTaskAbort)
		r.Post("/tasks/{id}/pause", s.handleTaskPause)
		r.Post("/tasks/{id}/resume", s.handleTaskResume)
		r.Get("/tasks/{id}/execution", s.handleTaskExecution)

		r.Get("/rate-limit/status", s.handleRateLimitStatus)

		r.Get("/config/{key}", s.handleConfigGet)
		r.Put("/config/{key}", s.handleConfigSet)

		r.Get("/recognition", s.handleRecognitionGet)
		r.Put("/recognition", s.handleRecognitionUpdate)

		r.Get("/scheduler", s.handleSchedulerList)
		r.Post("/scheduler/{id}/run", s.handleSchedulerRun)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "数据库不可用")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HTTPService adapts the server to the supervisor service contract.
type HTTPService struct {
	Addr   string
	Server *Server
}

// Serve runs the listener until ctx is cancelled.
func (h *HTTPService) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.Addr,
		Handler:           h.Server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
