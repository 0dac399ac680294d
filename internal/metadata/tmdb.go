// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quzard/danmu-hub/internal/lang"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/scraper"
)

// ErrNoAPIKey is returned when a TMDB call is attempted without a key.
var ErrNoAPIKey = errors.New("tmdb: api key not configured")

const (
	tmdbDefaultBaseURL = "https://api.themoviedb.org/3"
	tmdbImageBaseURL   = "https://image.tmdb.org/t/p/w500"
)

// TMDB is the themoviedb.org catalogue adapter. Requests are made in
// zh-CN so that details double as the Chinese reverse lookup.
type TMDB struct {
	client  *scraper.Client
	apiKey  func() string
	baseURL string
}

// NewTMDB creates the adapter. apiKey is read per call so that key
// changes take effect without reconstruction.
func NewTMDB(apiKey func() string, timeout time.Duration) *TMDB {
	return &TMDB{
		client:  scraper.NewClient("tmdb", timeout),
		apiKey:  apiKey,
		baseURL: tmdbDefaultBaseURL,
	}
}

// Name implements Source.
func (t *TMDB) Name() string { return "tmdb" }

type tmdbSearchPage struct {
	Results []tmdbEntry `json:"results"`
}

type tmdbEntry struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	OriginalName  string `json:"original_name"`
	Title         string `json:"title"`
	OriginalTitle string `json:"original_title"`
	FirstAirDate  string `json:"first_air_date"`
	ReleaseDate   string `json:"release_date"`
	PosterPath    string `json:"poster_path"`

	NumberOfEpisodes int `json:"number_of_episodes"`

	ExternalIDs *tmdbExternalIDs `json:"external_ids"`

	AlternativeTitles *struct {
		Results []tmdbAltTitle `json:"results"`
		Titles  []tmdbAltTitle `json:"titles"`
	} `json:"alternative_titles"`
}

type tmdbExternalIDs struct {
	IMDBID string `json:"imdb_id"`
	TVDBID int64  `json:"tvdb_id"`
}

type tmdbAltTitle struct {
	Country string `json:"iso_3166_1"`
	Title   string `json:"title"`
}

type tmdbFindPage struct {
	TVResults    []tmdbEntry `json:"tv_results"`
	MovieResults []tmdbEntry `json:"movie_results"`
}

func (t *TMDB) get(ctx context.Context, path string, params url.Values, out any) error {
	key := t.apiKey()
	if key == "" {
		return ErrNoAPIKey
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", key)
	params.Set("language", "zh-CN")

	body, err := t.client.Get(ctx, t.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("tmdb: decode %s: %w", path, err)
	}
	return nil
}

// Search implements Source. With a nil mediaType both catalogues are
// queried, TV first.
func (t *TMDB) Search(ctx context.Context, title string, mediaType *models.MediaType) ([]Result, error) {
	var kinds []models.MediaType
	if mediaType != nil {
		kinds = []models.MediaType{*mediaType}
	} else {
		kinds = []models.MediaType{models.MediaTypeTVSeries, models.MediaTypeMovie}
	}

	var results []Result
	for _, kind := range kinds {
		path := "/search/tv"
		if kind == models.MediaTypeMovie {
			path = "/search/movie"
		}
		var page tmdbSearchPage
		params := url.Values{"query": {title}}
		if err := t.get(ctx, path, params, &page); err != nil {
			if len(results) > 0 {
				return results, nil
			}
			return nil, err
		}
		for _, entry := range page.Results {
			results = append(results, t.toResult(entry, kind))
		}
	}
	return results, nil
}

// Details implements Source, appending external ids and alternative
// titles in one round trip.
func (t *TMDB) Details(ctx context.Context, id string, mediaType models.MediaType) (*Result, error) {
	path := "/tv/" + url.PathEscape(id)
	if mediaType == models.MediaTypeMovie {
		path = "/movie/" + url.PathEscape(id)
	}
	var entry tmdbEntry
	params := url.Values{"append_to_response": {"external_ids,alternative_titles"}}
	if err := t.get(ctx, path, params, &entry); err != nil {
		return nil, err
	}
	res := t.toResult(entry, mediaType)
	return &res, nil
}

// ChineseTitle implements ReverseLookupProvider. A known TMDB id is
// resolved via zh-CN details; otherwise IMDB and TVDB ids go through
// the /find endpoint.
func (t *TMDB) ChineseTitle(ctx context.Context, ids models.MetadataIDs, mediaType *models.MediaType) (string, error) {
	if ids.TMDBID != "" {
		kinds := []models.MediaType{models.MediaTypeTVSeries, models.MediaTypeMovie}
		if mediaType != nil {
			kinds = []models.MediaType{*mediaType}
		}
		for _, kind := range kinds {
			res, err := t.Details(ctx, ids.TMDBID, kind)
			if err != nil {
				continue
			}
			if lang.IsChinese(res.Title) {
				return res.Title, nil
			}
		}
		return "", nil
	}

	type external struct{ id, source string }
	var lookups []external
	if ids.IMDBID != "" {
		lookups = append(lookups, external{ids.IMDBID, "imdb_id"})
	}
	if ids.TVDBID != "" {
		lookups = append(lookups, external{ids.TVDBID, "tvdb_id"})
	}
	for _, lu := range lookups {
		var page tmdbFindPage
		params := url.Values{"external_source": {lu.source}}
		if err := t.get(ctx, "/find/"+url.PathEscape(lu.id), params, &page); err != nil {
			continue
		}
		for _, entry := range page.TVResults {
			if lang.IsChinese(entry.Name) {
				return entry.Name, nil
			}
		}
		for _, entry := range page.MovieResults {
			if lang.IsChinese(entry.Title) {
				return entry.Title, nil
			}
		}
	}
	return "", nil
}

func (t *TMDB) toResult(entry tmdbEntry, kind models.MediaType) Result {
	title, original, date := entry.Name, entry.OriginalName, entry.FirstAirDate
	if kind == models.MediaTypeMovie {
		title, original, date = entry.Title, entry.OriginalTitle, entry.ReleaseDate
	}

	res := Result{
		SourceName:    t.Name(),
		ID:            strconv.FormatInt(entry.ID, 10),
		Title:         title,
		OriginalTitle: original,
		MediaType:     kind,
		EpisodeCount:  entry.NumberOfEpisodes,
		IDs:           models.MetadataIDs{TMDBID: strconv.FormatInt(entry.ID, 10)},
	}
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			res.Year = &y
		}
	}
	if entry.PosterPath != "" {
		res.ImageURL = tmdbImageBaseURL + entry.PosterPath
	}
	if entry.ExternalIDs != nil {
		res.IDs.IMDBID = entry.ExternalIDs.IMDBID
		if entry.ExternalIDs.TVDBID != 0 {
			res.IDs.TVDBID = strconv.FormatInt(entry.ExternalIDs.TVDBID, 10)
		}
	}
	if entry.AlternativeTitles != nil {
		alts := entry.AlternativeTitles.Results
		if kind == models.MediaTypeMovie {
			alts = entry.AlternativeTitles.Titles
		}
		for _, alt := range alts {
			if s := strings.TrimSpace(alt.Title); s != "" && s != res.Title {
				res.Aliases = append(res.Aliases, s)
			}
		}
	}
	return res
}
