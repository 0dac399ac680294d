// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package metadata defines the external catalogue adapter trait and the
// registry that aggregates alias and detail lookups across sources.
package metadata

import (
	"context"

	"github.com/quzard/danmu-hub/internal/models"
)

// Result is one catalogue entry returned by a metadata source.
type Result struct {
	SourceName    string             `json:"source"`
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	OriginalTitle string             `json:"original_title,omitempty"`
	MediaType     models.MediaType   `json:"media_type"`
	Year          *int               `json:"year,omitempty"`
	ImageURL      string             `json:"image_url,omitempty"`
	EpisodeCount  int                `json:"episode_count,omitempty"`
	Aliases       []string           `json:"aliases,omitempty"`
	IDs           models.MetadataIDs `json:"ids"`
}

// Source is the trait every catalogue adapter implements.
type Source interface {
	// Name is the stable source name ("tmdb", "tvdb", ...), also used as
	// the search-type discriminator in auto import.
	Name() string

	// Search returns catalogue candidates for a title. A nil mediaType
	// searches both TV and movie catalogues.
	Search(ctx context.Context, title string, mediaType *models.MediaType) ([]Result, error)

	// Details fetches one entry by its source-local id, including external
	// ids and alternative titles.
	Details(ctx context.Context, id string, mediaType models.MediaType) (*Result, error)
}

// ReverseLookupProvider is implemented by sources that can map a set of
// external ids to a Chinese title.
type ReverseLookupProvider interface {
	ChineseTitle(ctx context.Context, ids models.MetadataIDs, mediaType *models.MediaType) (string, error)
}
