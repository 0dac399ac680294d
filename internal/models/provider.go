// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package models

import "time"

// ProviderSearchInfo is one candidate returned by a provider search.
type ProviderSearchInfo struct {
	Provider            string    `json:"provider"`
	MediaID             string    `json:"media_id"`
	Title               string    `json:"title"`
	MediaType           MediaType `json:"media_type"`
	Season              int       `json:"season"`
	Year                *int      `json:"year,omitempty"`
	ImageURL            string    `json:"image_url,omitempty"`
	EpisodeCount        int       `json:"episode_count,omitempty"`
	CurrentEpisodeIndex *int      `json:"current_episode_index,omitempty"`
}

// ProviderEpisodeInfo is one episode descriptor returned by a provider.
type ProviderEpisodeInfo struct {
	ProviderEpisodeID string `json:"provider_episode_id"`
	Title             string `json:"title"`
	EpisodeIndex      int    `json:"episode_index"`
	URL               string `json:"url,omitempty"`
}

// RateLimitState is one persisted rate-limit bucket. Key is a provider
// name or one of the reserved bucket keys.
type RateLimitState struct {
	Key           string    `json:"key" db:"key"`
	RequestCount  int64     `json:"request_count" db:"request_count"`
	LastResetTime time.Time `json:"last_reset_time" db:"last_reset_time"`
}

// SearchCacheEntry is a cached provider search result list.
type SearchCacheEntry struct {
	Key       string    `json:"key" db:"key"`
	Provider  string    `json:"provider,omitempty" db:"provider"`
	Payload   string    `json:"payload" db:"payload"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// ExternalAPILogEntry records one authentication attempt against the
// external control API.
type ExternalAPILogEntry struct {
	ID        int64     `json:"id" db:"id"`
	IP        string    `json:"ip" db:"ip"`
	Path      string    `json:"path" db:"path"`
	Status    int       `json:"status" db:"status"`
	Message   string    `json:"message,omitempty" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RateLimitStatus is the introspection shape served by the control API.
type RateLimitStatus struct {
	GlobalEnabled       bool                      `json:"globalEnabled"`
	GlobalRequestCount  int64                     `json:"globalRequestCount"`
	GlobalLimit         int64                     `json:"globalLimit"`
	GlobalPeriod        string                    `json:"globalPeriod"`
	SecondsUntilReset   int64                     `json:"secondsUntilReset"`
	FallbackTotalCount  int64                     `json:"fallbackTotalCount"`
	FallbackTotalLimit  int64                     `json:"fallbackTotalLimit"`
	FallbackMatchCount  int64                     `json:"fallbackMatchCount"`
	FallbackSearchCount int64                     `json:"fallbackSearchCount"`
	Providers           []ProviderRateLimitStatus `json:"providers"`
}

// ProviderRateLimitStatus is one provider's rate-limit bucket view.
// Quota is "∞" for unlimited providers.
type ProviderRateLimitStatus struct {
	ProviderName  string `json:"providerName"`
	DirectCount   int64  `json:"directCount"`
	FallbackCount int64  `json:"fallbackCount"`
	RequestCount  int64  `json:"requestCount"`
	Quota         string `json:"quota"`
}
