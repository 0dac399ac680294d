// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package models

// WebhookJob is the normalized job envelope every media-server payload is
// reduced to at the edge. Downstream dispatch never branches on the
// originating server.
type WebhookJob struct {
	Source       string      `json:"source"`
	MediaType    MediaType   `json:"media_type"`
	Title        string      `json:"title"`
	Season       int         `json:"season"`
	EpisodeIndex *int        `json:"episode_index,omitempty"`
	Year         *int        `json:"year,omitempty"`
	IDs          MetadataIDs `json:"ids"`
}

// ============================================================================
// Emby Webhook Models
// ============================================================================
// Emby posts JSON notifications. Relevant events: library.new,
// item.markplayed, item.rate on Episode/Movie/Series items.

// EmbyWebhook is the payload posted by Emby's webhook plugin.
type EmbyWebhook struct {
	Event string          `json:"Event"`
	Item  *EmbyWebhookItem `json:"Item,omitempty"`
}

// EmbyWebhookItem is the media item inside an Emby webhook.
type EmbyWebhookItem struct {
	Name              string            `json:"Name"`
	Type              string            `json:"Type"` // "Episode", "Movie", "Series"
	SeriesName        string            `json:"SeriesName,omitempty"`
	IndexNumber       int               `json:"IndexNumber,omitempty"`
	ParentIndexNumber int               `json:"ParentIndexNumber,omitempty"`
	ProductionYear    int               `json:"ProductionYear,omitempty"`
	ProviderIds       map[string]string `json:"ProviderIds,omitempty"`
	ID                string            `json:"Id,omitempty"`
	SeriesID          string            `json:"SeriesId,omitempty"`
}

// ============================================================================
// Jellyfin Webhook Models
// ============================================================================
// Jellyfin's webhook plugin posts either JSON or a urlencoded form with a
// "payload" field. Relevant notification: ItemAdded on Episode/Movie.

// JellyfinWebhook is the payload posted by the Jellyfin webhook plugin.
type JellyfinWebhook struct {
	NotificationType string `json:"NotificationType"`
	ItemType         string `json:"ItemType"` // "Episode", "Movie"
	Name             string `json:"Name"`
	SeriesName       string `json:"SeriesName,omitempty"`
	SeasonNumber     int    `json:"SeasonNumber,omitempty"`
	EpisodeNumber    int    `json:"EpisodeNumber,omitempty"`
	Year             int    `json:"Year,omitempty"`
	PremiereDate     string `json:"PremiereDate,omitempty"`

	// Provider ids arrive as flat "Provider_tmdb"-style keys.
	ProviderTMDB    string `json:"Provider_tmdb,omitempty"`
	ProviderIMDB    string `json:"Provider_imdb,omitempty"`
	ProviderTVDB    string `json:"Provider_tvdb,omitempty"`
	ProviderDouban  string `json:"Provider_douban,omitempty"`
	ProviderBangumi string `json:"Provider_bangumi,omitempty"`
}

// ============================================================================
// Plex Webhook Models
// ============================================================================
// Native Plex webhooks arrive as multipart/form-data with the JSON payload
// in a "payload" field. Relevant event: library.new.

// PlexWebhook is the decoded payload of a native Plex webhook.
type PlexWebhook struct {
	Event    string           `json:"event"`
	Metadata *PlexWebhookItem `json:"Metadata,omitempty"`
}

// PlexWebhookItem is the media item inside a Plex webhook.
type PlexWebhookItem struct {
	Type             string         `json:"type"` // "episode", "movie", "show"
	Title            string         `json:"title"`
	GrandparentTitle string         `json:"grandparentTitle,omitempty"`
	ParentIndex      int            `json:"parentIndex,omitempty"`
	Index            int            `json:"index,omitempty"`
	Year             int            `json:"year,omitempty"`
	GUID             []PlexItemGUID `json:"Guid,omitempty"`
}

// PlexItemGUID is one external identifier, e.g. "tmdb://123456".
type PlexItemGUID struct {
	ID string `json:"id"`
}

// ============================================================================
// Tautulli Webhook Models
// ============================================================================
// Tautulli notification agents post flat JSON. The episode field may carry
// a multi-episode range string such as "1-3,6,8".

// TautulliWebhook is the payload posted by a Tautulli notification agent.
type TautulliWebhook struct {
	Action    string `json:"action,omitempty"`
	MediaType string `json:"media_type"` // "episode", "movie", "show"
	Title     string `json:"title,omitempty"`
	ShowName  string `json:"show_name,omitempty"`
	Season    string `json:"season,omitempty"`
	Episode   string `json:"episode,omitempty"`
	Year      string `json:"year,omitempty"`

	TMDBID    string `json:"tmdb_id,omitempty"`
	IMDBID    string `json:"imdb_id,omitempty"`
	TVDBID    string `json:"tvdb_id,omitempty"`
	DoubanID  string `json:"douban_id,omitempty"`
	BangumiID string `json:"bangumi_id,omitempty"`
}
