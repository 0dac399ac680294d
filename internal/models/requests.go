// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package models

// AutoImportRequest is the body of POST /api/control/import/auto.
type AutoImportRequest struct {
	SearchType string `json:"searchType" validate:"required,oneof=keyword tmdb tvdb douban imdb bangumi"`
	SearchTerm string `json:"searchTerm" validate:"required,min=1"`
	Season     *int   `json:"season,omitempty" validate:"omitempty,min=1"`
	Episode    string `json:"episode,omitempty"`
	MediaType  string `json:"mediaType,omitempty" validate:"omitempty,oneof=tv_series movie"`
}

// DirectImportRequest is the body of POST /api/control/import/direct.
// It references a prior search by id and candidate index.
type DirectImportRequest struct {
	SearchID    string      `json:"searchId" validate:"required"`
	ResultIndex int         `json:"resultIndex" validate:"min=0"`
	Episode     *int        `json:"episode,omitempty" validate:"omitempty,min=1"`
	IDs         MetadataIDs `json:"ids"`
}

// EditedImportRequest is the body of POST /api/control/import/edited.
type EditedImportRequest struct {
	Provider  string                `json:"provider" validate:"required"`
	MediaID   string                `json:"mediaId" validate:"required"`
	Title     string                `json:"title" validate:"required"`
	MediaType string                `json:"mediaType" validate:"required,oneof=tv_series movie"`
	Season    int                   `json:"season" validate:"min=1"`
	Year      *int                  `json:"year,omitempty"`
	ImageURL  string                `json:"imageUrl,omitempty"`
	IDs       MetadataIDs           `json:"ids"`
	Episodes  []ProviderEpisodeInfo `json:"episodes" validate:"required,min=1,dive"`
}

// URLImportRequest is the body of POST /api/control/import/url.
type URLImportRequest struct {
	SourceID     int64  `json:"sourceId" validate:"required,min=1"`
	EpisodeIndex int    `json:"episodeIndex" validate:"required,min=1"`
	URL          string `json:"url" validate:"required,url"`
}

// XMLImportRequest is the body of POST /api/control/import/xml.
type XMLImportRequest struct {
	SourceID     int64  `json:"sourceId" validate:"required,min=1"`
	EpisodeIndex int    `json:"episodeIndex" validate:"required,min=1"`
	Content      string `json:"content" validate:"required,min=1"`
}

// ConfigUpdateRequest is the body of PUT /api/control/config/{key}.
type ConfigUpdateRequest struct {
	Value string `json:"value"`
}

// RecognitionUpdateRequest replaces the title recognition rule text.
type RecognitionUpdateRequest struct {
	Content string `json:"content"`
}

// TaskSubmitResponse acknowledges an accepted import job.
type TaskSubmitResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"taskId"`
}

// SearchResponse is the body of GET /api/control/search.
type SearchResponse struct {
	SearchID string               `json:"searchId"`
	Results  []ProviderSearchInfo `json:"results"`
}

// TaskExecutionResponse maps a scheduler task to its latest execution.
type TaskExecutionResponse struct {
	SchedulerTaskID string `json:"schedulerTaskId"`
	ExecutionTaskID string `json:"executionTaskId,omitempty"`
	Status          string `json:"status,omitempty"`
}
