// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package main is the entry point for the DanmuHub server.
//
// DanmuHub aggregates danmaku (scrolling comments) from provider sites
// into a local library, driven by media-server webhooks, a control API
// and periodic refresh jobs.
//
// The server initializes components in the following order:
//
//  1. Bootstrap configuration: koanf-layered defaults, config file and
//     DANMU_* environment variables
//  2. SQLite database and the file-backed danmaku store
//  3. Runtime config store, recognition rules and provider registries
//  4. Signed rate-limit policy and its file watcher
//  5. Search pipeline, import engine, task manager, webhook dispatcher
//     and scheduler
//  6. Supervisor tree: jobs layer (task manager, scheduler, policy
//     watcher) and api layer (HTTP listener)
//
// Shutdown is signal driven: SIGINT/SIGTERM cancel the root context,
// the supervisor drains its services and unstopped services are
// reported before exit.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quzard/danmu-hub/internal/aimatch"
	"github.com/quzard/danmu-hub/internal/api"
	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/danmaku"
	"github.com/quzard/danmu-hub/internal/database"
	"github.com/quzard/danmu-hub/internal/importer"
	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/metadata"
	"github.com/quzard/danmu-hub/internal/ratelimit"
	"github.com/quzard/danmu-hub/internal/recognizer"
	"github.com/quzard/danmu-hub/internal/scheduler"
	"github.com/quzard/danmu-hub/internal/scraper"
	"github.com/quzard/danmu-hub/internal/search"
	"github.com/quzard/danmu-hub/internal/supervisor"
	"github.com/quzard/danmu-hub/internal/task"
	"github.com/quzard/danmu-hub/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Timestamp: true,
	})

	logging.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("db_path", cfg.Database.Path).
		Str("data_dir", cfg.Server.DataDir).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	blobs, err := danmaku.NewStore(cfg.Server.DataDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize danmaku store")
	}
	posters, err := importer.NewPosterStore(filepath.Join(cfg.Server.DataDir, "images"))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize poster store")
	}

	cfgStore := config.NewStore(db)
	if err := cfgStore.RegisterDefaults(ctx, config.Defaults()); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register config defaults")
	}

	recog := recognizer.New()
	if rules, err := db.GetRecognitionRules(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to load recognition rules")
	} else if rules != "" {
		if warnings := recog.Update(rules); len(warnings) > 0 {
			logging.Warn().Strs("warnings", warnings).Msg("Recognition rules compiled with warnings")
		}
	}

	scrapers := scraper.NewRegistry()
	scrapers.Register(scraper.NewCustom())

	limiter := ratelimit.New(db, scrapers.Quota, filepath.Join(cfg.Server.DataDir, "policy"))

	meta := metadata.NewRegistry()
	meta.Register(metadata.NewTMDB(func() string {
		return cfgStore.Get(context.Background(), config.KeyTMDBAPIKey, "")
	}, 30*time.Second))

	ai := aimatch.NewManager()
	pipeline := search.New(scrapers, meta, recog, cfgStore, ai, limiter, db)
	engine := importer.New(db, blobs, scrapers, meta, recog, cfgStore, limiter, pipeline, posters)

	tasks := task.NewManager(db, cfgStore)
	if err := tasks.Recover(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to recover task history")
	}

	hooks := webhook.New(tasks, db, engine, cfgStore, nil)
	sched := scheduler.New(db, tasks, engine, hooks)
	if err := sched.EnsureDefaults(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to seed scheduler jobs")
	}

	server := api.New(db, cfgStore, tasks, pipeline, engine, hooks, sched, limiter, scrapers, recog)

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddJobService("task-manager", supervisor.ServiceFunc(tasks.Serve))
	tree.AddJobService("scheduler", sched)
	tree.AddJobService("policy-watcher", supervisor.ServiceFunc(limiter.Watch))
	tree.AddAPIService("http", &api.HTTPService{Addr: cfg.Server.ListenAddr, Server: server})
	logging.Info().Str("addr", cfg.Server.ListenAddr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Server stopped gracefully")
}
