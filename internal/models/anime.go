// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package models

import "time"

// MediaType classifies a work.
type MediaType string

const (
	MediaTypeTVSeries MediaType = "tv_series"
	MediaTypeMovie    MediaType = "movie"
)

// Anime is a work in the library. Identity is (normalized title, season,
// year); movies always carry season 1.
type Anime struct {
	ID             int64     `json:"id" db:"id"`
	Title          string    `json:"title" db:"title"`
	MediaType      MediaType `json:"media_type" db:"media_type"`
	Season         int       `json:"season" db:"season"`
	Year           *int      `json:"year,omitempty" db:"year"`
	ImageURL       string    `json:"image_url,omitempty" db:"image_url"`
	LocalImagePath string    `json:"local_image_path,omitempty" db:"local_image_path"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// MetadataIDs carries the external catalogue identifiers for a work.
// Empty strings mean "unknown"; persistence follows update-if-empty.
type MetadataIDs struct {
	TMDBID    string `json:"tmdb_id,omitempty" db:"tmdb_id"`
	TVDBID    string `json:"tvdb_id,omitempty" db:"tvdb_id"`
	IMDBID    string `json:"imdb_id,omitempty" db:"imdb_id"`
	DoubanID  string `json:"douban_id,omitempty" db:"douban_id"`
	BangumiID string `json:"bangumi_id,omitempty" db:"bangumi_id"`
}

// IsEmpty reports whether no identifier is set.
func (m MetadataIDs) IsEmpty() bool {
	return m.TMDBID == "" && m.TVDBID == "" && m.IMDBID == "" && m.DoubanID == "" && m.BangumiID == ""
}

// AnimeAliases holds the alternative names of a work, used only for
// matching. At most three CN aliases are kept.
type AnimeAliases struct {
	AnimeID   int64  `json:"anime_id" db:"anime_id"`
	NameEN    string `json:"name_en,omitempty" db:"name_en"`
	NameJP    string `json:"name_jp,omitempty" db:"name_jp"`
	NameRomaji string `json:"name_romaji,omitempty" db:"name_romaji"`
	AliasCN1  string `json:"alias_cn_1,omitempty" db:"alias_cn_1"`
	AliasCN2  string `json:"alias_cn_2,omitempty" db:"alias_cn_2"`
	AliasCN3  string `json:"alias_cn_3,omitempty" db:"alias_cn_3"`
}

// All returns the non-empty alias strings.
func (a AnimeAliases) All() []string {
	var out []string
	for _, s := range []string{a.NameEN, a.NameJP, a.NameRomaji, a.AliasCN1, a.AliasCN2, a.AliasCN3} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Source binds a provider media id to a work. At most one source per
// anime may be favorited; incremental refresh auto-disables after ten
// consecutive failures.
type Source struct {
	ID                         int64     `json:"id" db:"id"`
	AnimeID                    int64     `json:"anime_id" db:"anime_id"`
	ProviderName               string    `json:"provider_name" db:"provider_name"`
	MediaID                    string    `json:"media_id" db:"media_id"`
	Favorited                  bool      `json:"favorited" db:"favorited"`
	IncrementalRefreshEnabled  bool      `json:"incremental_refresh_enabled" db:"incremental_refresh_enabled"`
	IncrementalRefreshFailures int       `json:"incremental_refresh_failures" db:"incremental_refresh_failures"`
	CreatedAt                  time.Time `json:"created_at" db:"created_at"`
}

// MaxIncrementalRefreshFailures is the consecutive-failure count at which
// incremental refresh is switched off for a source.
const MaxIncrementalRefreshFailures = 10

// RefreshTarget pairs a source with its work for the scheduler's
// refresh sweeps.
type RefreshTarget struct {
	Anime  Anime  `json:"anime"`
	Source Source `json:"source"`
}

// Episode is one episode of a source. Unique on (source_id, episode_index).
// An episode is "present" when a danmaku file exists and the comment count
// is positive; rows are only created when comments are about to be written.
type Episode struct {
	ID                int64  `json:"id" db:"id"`
	SourceID          int64  `json:"source_id" db:"source_id"`
	EpisodeIndex      int    `json:"episode_index" db:"episode_index"`
	Title             string `json:"title" db:"title"`
	URL               string `json:"url,omitempty" db:"url"`
	ProviderEpisodeID string `json:"provider_episode_id" db:"provider_episode_id"`
	DanmakuFilePath   string `json:"danmaku_file_path,omitempty" db:"danmaku_file_path"`
	CommentCount      int    `json:"comment_count" db:"comment_count"`
	FetchedAt         *time.Time `json:"fetched_at,omitempty" db:"fetched_at"`
}

// Present reports whether the episode already has a stored danmaku file
// with at least one comment.
func (e Episode) Present() bool {
	return e.DanmakuFilePath != "" && e.CommentCount > 0
}

// Comment is a single danmaku entry. Comments for an episode are stored
// out of row as one file blob; no ordering is guaranteed.
type Comment struct {
	Timestamp float64 `json:"t"`
	Style     string  `json:"p"`
	Text      string  `json:"m"`
}
