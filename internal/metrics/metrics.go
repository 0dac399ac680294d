// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderSearchDuration tracks per-adapter single-search timing.
	ProviderSearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "danmuhub",
		Name:      "provider_search_duration_seconds",
		Help:      "Duration of one provider search call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// CommentFetches counts comment downloads by provider and outcome.
	CommentFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "danmuhub",
		Name:      "comment_fetches_total",
		Help:      "Comment fetch attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	// TasksByStatus tracks the current number of tasks per status.
	TasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "danmuhub",
		Name:      "tasks",
		Help:      "Current task count per status.",
	}, []string{"status"})

	// WebhooksReceived counts normalized webhook jobs by source and result.
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "danmuhub",
		Name:      "webhooks_received_total",
		Help:      "Webhook payloads by source and dispatch result.",
	}, []string{"source", "result"})

	// EpisodesImported counts committed episodes by provider.
	EpisodesImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "danmuhub",
		Name:      "episodes_imported_total",
		Help:      "Episodes committed with danmaku, by provider.",
	}, []string{"provider"})

	// RateLimitDenials counts denied rate-limit checks by bucket key.
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "danmuhub",
		Name:      "rate_limit_denials_total",
		Help:      "Denied rate-limit checks by bucket.",
	}, []string{"bucket"})

	// HTTPRequests counts control API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "danmuhub",
		Name:      "http_requests_total",
		Help:      "Control API requests by route and status class.",
	}, []string{"route", "status"})
)
