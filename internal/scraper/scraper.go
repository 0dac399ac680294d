// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package scraper defines the provider adapter trait and the registry
// that holds the configured adapters, the process-wide search lock and
// per-provider timing telemetry.
package scraper

import (
	"context"

	"github.com/quzard/danmu-hub/internal/models"
)

// EpisodeInfo narrows a search to a specific episode when known.
type EpisodeInfo struct {
	Season  int
	Episode int
}

// ProgressFunc reports fetch progress as a percentage and message.
type ProgressFunc func(percent int, message string)

// Scraper is the trait every provider adapter implements.
//
// get_comments returns the full list or nil on hard failure, never a
// partial list. Optional capabilities (URL parsing, per-provider quota)
// are separate interfaces discovered by type assertion.
type Scraper interface {
	// ProviderName is the stable name used as the rate-limit bucket key.
	ProviderName() string

	// Search returns ordered candidates for the given title set. An empty
	// result is not an error.
	Search(ctx context.Context, titles []string, episode *EpisodeInfo) ([]models.ProviderSearchInfo, error)

	// GetEpisodes returns ordered episode descriptors for a media id. When
	// targetEpisode is non-nil the adapter may return fewer items.
	GetEpisodes(ctx context.Context, mediaID string, targetEpisode *int, dbMediaType *models.MediaType) ([]models.ProviderEpisodeInfo, error)

	// GetComments returns the full comment list for a provider episode id,
	// or nil on hard failure.
	GetComments(ctx context.Context, providerEpisodeID string, progress ProgressFunc) ([]models.Comment, error)
}

// URLInfoProvider is implemented by adapters that can resolve a media
// page URL into a search candidate (URL-import flow).
type URLInfoProvider interface {
	GetInfoFromURL(ctx context.Context, url string) (*models.ProviderSearchInfo, error)
}

// URLIDProvider is implemented by adapters that can extract a provider
// episode id from an episode URL (supplemental-URL flow).
type URLIDProvider interface {
	GetIDFromURL(ctx context.Context, url string) (string, error)
}

// QuotaProvider is implemented by adapters that declare a per-window
// request quota. Adapters without it are unlimited.
type QuotaProvider interface {
	RateLimitQuota() int64
}
