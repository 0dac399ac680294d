// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package webhook

import (
	"context"
	"testing"

	"github.com/quzard/danmu-hub/internal/models"
)

func TestNormalizeEmbyEpisode(t *testing.T) {
	jobs := normalizeEmby(context.Background(), models.EmbyWebhook{
		Event: "library.new",
		Item: &models.EmbyWebhookItem{
			Type:              "Episode",
			Name:              "第三话",
			SeriesName:        "葬送的芙莉莲",
			ParentIndexNumber: 1,
			IndexNumber:       3,
			ProviderIds:       map[string]string{"Tmdb": "209867", "IMDB": "tt22248376"},
		},
	}, nil)
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	job := jobs[0]
	if job.Title != "葬送的芙莉莲" || job.Season != 1 {
		t.Errorf("job = %+v", job)
	}
	if job.EpisodeIndex == nil || *job.EpisodeIndex != 3 {
		t.Errorf("episode = %v", job.EpisodeIndex)
	}
	if job.IDs.TMDBID != "209867" || job.IDs.IMDBID != "tt22248376" {
		t.Errorf("ids = %+v", job.IDs)
	}
	if job.MediaType != models.MediaTypeTVSeries {
		t.Errorf("media type = %s", job.MediaType)
	}
}

func TestNormalizeEmbyIgnoresOtherEvents(t *testing.T) {
	jobs := normalizeEmby(context.Background(), models.EmbyWebhook{
		Event: "playback.start",
		Item:  &models.EmbyWebhookItem{Type: "Episode", Name: "x"},
	}, nil)
	if len(jobs) != 0 {
		t.Errorf("jobs = %v", jobs)
	}
}

type fakeProber struct{ seasons []int }

func (f fakeProber) Seasons(ctx context.Context, seriesID string) ([]int, error) {
	return f.seasons, nil
}

func TestNormalizeEmbySeriesFansOutPerSeason(t *testing.T) {
	jobs := normalizeEmby(context.Background(), models.EmbyWebhook{
		Event: "library.new",
		Item: &models.EmbyWebhookItem{
			Type:       "Series",
			SeriesName: "某动画",
			SeriesID:   "42",
		},
	}, fakeProber{seasons: []int{1, 2, 3}})
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	for i, job := range jobs {
		if job.Season != i+1 {
			t.Errorf("job %d season = %d", i, job.Season)
		}
		if job.EpisodeIndex != nil {
			t.Errorf("series job %d carries an episode index", i)
		}
	}
}

func TestNormalizeJellyfinYearFromPremiereDate(t *testing.T) {
	jobs := normalizeJellyfin(models.JellyfinWebhook{
		NotificationType: "ItemAdded",
		ItemType:         "Episode",
		SeriesName:       "某动画",
		SeasonNumber:     2,
		EpisodeNumber:    5,
		PremiereDate:     "2023-10-06T00:00:00Z",
		ProviderTMDB:     "100",
	})
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	job := jobs[0]
	if job.Year == nil || *job.Year != 2023 {
		t.Errorf("year = %v", job.Year)
	}
	if job.Season != 2 || job.EpisodeIndex == nil || *job.EpisodeIndex != 5 {
		t.Errorf("job = %+v", job)
	}
	if job.IDs.TMDBID != "100" {
		t.Errorf("ids = %+v", job.IDs)
	}
}

func TestNormalizePlexGUIDs(t *testing.T) {
	jobs := normalizePlex(models.PlexWebhook{
		Event: "library.new",
		Metadata: &models.PlexWebhookItem{
			Type:             "episode",
			GrandparentTitle: "某动画",
			ParentIndex:      1,
			Index:            7,
			GUID: []models.PlexItemGUID{
				{ID: "tmdb://209867"},
				{ID: "tvdb://424536"},
				{ID: "plex://episode/abc"},
			},
		},
	})
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	job := jobs[0]
	if job.IDs.TMDBID != "209867" || job.IDs.TVDBID != "424536" {
		t.Errorf("ids = %+v", job.IDs)
	}
	if job.Title != "某动画" || job.EpisodeIndex == nil || *job.EpisodeIndex != 7 {
		t.Errorf("job = %+v", job)
	}
}

func TestNormalizeTautulliEpisodeRange(t *testing.T) {
	jobs := normalizeTautulli(models.TautulliWebhook{
		Action:    "created",
		MediaType: "episode",
		ShowName:  "某动画",
		Season:    "2",
		Episode:   "1-3,6",
	})
	if len(jobs) != 4 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	want := []int{1, 2, 3, 6}
	for i, job := range jobs {
		if job.EpisodeIndex == nil || *job.EpisodeIndex != want[i] {
			t.Errorf("job %d episode = %v, want %d", i, job.EpisodeIndex, want[i])
		}
		if job.Season != 2 || job.Title != "某动画" {
			t.Errorf("job %d = %+v", i, job)
		}
	}
}

func TestNormalizeTautulliMovie(t *testing.T) {
	jobs := normalizeTautulli(models.TautulliWebhook{
		MediaType: "movie",
		Title:     "某剧场版",
		Year:      "2021",
		TMDBID:    "555",
	})
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	job := jobs[0]
	if job.MediaType != models.MediaTypeMovie || job.Season != 1 {
		t.Errorf("job = %+v", job)
	}
	if job.Year == nil || *job.Year != 2021 || job.IDs.TMDBID != "555" {
		t.Errorf("job = %+v", job)
	}
}
