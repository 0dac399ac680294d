// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quzard/danmu-hub/internal/models"
)

func newTestTMDB(t *testing.T, handler http.HandlerFunc) *TMDB {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter := NewTMDB(func() string { return "test-key" }, 5*time.Second)
	adapter.baseURL = server.URL
	return adapter
}

func TestTMDBSearchTV(t *testing.T) {
	adapter := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/tv" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("api_key"); got != "test-key" {
			t.Errorf("api_key = %q", got)
		}
		if got := r.URL.Query().Get("language"); got != "zh-CN" {
			t.Errorf("language = %q", got)
		}
		w.Write([]byte(`{"results":[{"id":1429,"name":"进击的巨人","original_name":"進撃の巨人","first_air_date":"2013-04-07","poster_path":"/abc.jpg"}]}`))
	})

	tv := models.MediaTypeTVSeries
	results, err := adapter.Search(context.Background(), "进击的巨人", &tv)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	res := results[0]
	if res.ID != "1429" || res.Title != "进击的巨人" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Year == nil || *res.Year != 2013 {
		t.Errorf("year = %v, want 2013", res.Year)
	}
	if res.ImageURL != tmdbImageBaseURL+"/abc.jpg" {
		t.Errorf("image = %q", res.ImageURL)
	}
	if res.IDs.TMDBID != "1429" {
		t.Errorf("tmdb id = %q", res.IDs.TMDBID)
	}
}

func TestTMDBDetailsExternalIDs(t *testing.T) {
	adapter := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/1429" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":1429,"name":"进击的巨人","number_of_episodes":25,
			"external_ids":{"imdb_id":"tt2560140","tvdb_id":267440},
			"alternative_titles":{"results":[{"iso_3166_1":"US","title":"Attack on Titan"}]}}`))
	})

	res, err := adapter.Details(context.Background(), "1429", models.MediaTypeTVSeries)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if res.EpisodeCount != 25 {
		t.Errorf("episode count = %d", res.EpisodeCount)
	}
	if res.IDs.IMDBID != "tt2560140" || res.IDs.TVDBID != "267440" {
		t.Errorf("external ids = %+v", res.IDs)
	}
	if len(res.Aliases) != 1 || res.Aliases[0] != "Attack on Titan" {
		t.Errorf("aliases = %v", res.Aliases)
	}
}

func TestTMDBChineseTitleByIMDB(t *testing.T) {
	adapter := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/find/tt2560140" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("external_source"); got != "imdb_id" {
			t.Errorf("external_source = %q", got)
		}
		w.Write([]byte(`{"tv_results":[{"id":1429,"name":"进击的巨人"}],"movie_results":[]}`))
	})

	cn, err := adapter.ChineseTitle(context.Background(), models.MetadataIDs{IMDBID: "tt2560140"}, nil)
	if err != nil {
		t.Fatalf("ChineseTitle: %v", err)
	}
	if cn != "进击的巨人" {
		t.Errorf("cn = %q", cn)
	}
}

func TestTMDBNoAPIKey(t *testing.T) {
	adapter := NewTMDB(func() string { return "" }, time.Second)
	if _, err := adapter.Search(context.Background(), "anything", nil); err != ErrNoAPIKey {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
}
