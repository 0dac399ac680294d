// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/quzard/danmu-hub/internal/models"
)

func ptr(n int) *int { return &n }

func TestScoreCandidate(t *testing.T) {
	resolved := &autoRequest{title: "某动画", year: ptr(2023)}

	exactWithYear := scoreCandidate(resolved, models.ProviderSearchInfo{Title: "某动画", Year: ptr(2023)})
	exactNoYear := scoreCandidate(resolved, models.ProviderSearchInfo{Title: "某动画"})
	wrongYear := scoreCandidate(resolved, models.ProviderSearchInfo{Title: "某动画", Year: ptr(2019)})
	fuzzyOnly := scoreCandidate(resolved, models.ProviderSearchInfo{Title: "某动画 特别篇"})

	if exactWithYear <= exactNoYear {
		t.Errorf("year match %d should beat no year %d", exactWithYear, exactNoYear)
	}
	if exactNoYear <= wrongYear {
		t.Errorf("no year %d should beat year mismatch %d", exactNoYear, wrongYear)
	}
	if exactNoYear <= fuzzyOnly {
		t.Errorf("exact title %d should beat fuzzy %d", exactNoYear, fuzzyOnly)
	}
}

func TestChooseCandidatePrefersYearMatch(t *testing.T) {
	s := &fakeScraper{name: "fake"}
	e, _ := newTestEngine(t, s)

	resolved := &autoRequest{title: "某动画", year: ptr(2023)}
	candidates := []models.ProviderSearchInfo{
		{Provider: "fake", MediaID: "a", Title: "某动画"},
		{Provider: "fake", MediaID: "b", Title: "某动画", Year: ptr(2023)},
		{Provider: "fake", MediaID: "c", Title: "某动画 外传", Year: ptr(2023)},
	}

	chosen, err := e.chooseCandidate(context.Background(), fakeReporter{}, resolved, candidates)
	if err != nil {
		t.Fatalf("chooseCandidate: %v", err)
	}
	if chosen.MediaID != "b" {
		t.Errorf("chosen = %q, want b", chosen.MediaID)
	}
}

func TestSortByScoreBreaksTiesByDisplayOrder(t *testing.T) {
	indices := []int{0, 1, 2}
	scores := []int{50, 90, 90}
	// Index 2 ranks earlier than index 1 in display order.
	order := func(i int) int { return map[int]int{0: 0, 1: 2, 2: 1}[i] }
	sortByScore(indices, scores, order)
	want := []int{2, 1, 0}
	for i := range want {
		if indices[i] != want[i] {
			t.Fatalf("indices = %v, want %v", indices, want)
		}
	}
}

func TestLibraryCheckAlreadyInLibrary(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	anime, _ := seedSource(t, db, "某动画", "fake", "m1")
	if err := db.UpsertAnimeMetadata(ctx, anime.ID, models.MetadataIDs{TMDBID: "100"}); err != nil {
		t.Fatal(err)
	}

	resolved := &autoRequest{title: "别名标题", ids: models.MetadataIDs{TMDBID: "100"}}
	handled, err := e.libraryCheck(ctx, fakeReporter{}, resolved)
	if !handled {
		t.Fatal("library hit not handled")
	}
	msg := wantSuccess(t, err).Message
	if !strings.Contains(msg, "已在媒体库中") {
		t.Errorf("message = %q", msg)
	}
}

func TestLibraryCheckImportsMissingEpisodes(t *testing.T) {
	s := &fakeScraper{
		name:     "fake",
		episodes: episodeList(1, 2),
		comments: map[string][]models.Comment{
			"ep1": nComments(3),
			"ep2": nComments(4),
		},
	}
	e, db := newTestEngine(t, s)
	ctx := context.Background()

	anime, source := seedSource(t, db, "某动画", "fake", "m1")
	if err := db.UpsertAnimeMetadata(ctx, anime.ID, models.MetadataIDs{TMDBID: "100"}); err != nil {
		t.Fatal(err)
	}
	seedEpisode(t, db, source.ID, 1, 5)

	resolved := &autoRequest{
		title:    "某动画",
		ids:      models.MetadataIDs{TMDBID: "100"},
		episodes: []int{1, 2},
	}
	handled, err := e.libraryCheck(ctx, fakeReporter{}, resolved)
	if !handled {
		t.Fatal("library hit not handled")
	}
	msg := wantSuccess(t, err).Message
	if !strings.Contains(msg, "导入 2") {
		t.Errorf("report = %q", msg)
	}

	ep2, err := db.GetEpisode(ctx, source.ID, 2)
	if err != nil || ep2 == nil {
		t.Fatalf("episode 2 lookup: %v %v", ep2, err)
	}
	if ep2.CommentCount != 4 {
		t.Errorf("episode 2 count = %d", ep2.CommentCount)
	}
}

func TestResolveAutoRequestKeywordGrammar(t *testing.T) {
	e, _ := newTestEngine(t)

	resolved, err := e.resolveAutoRequest(context.Background(), fakeReporter{}, models.AutoImportRequest{
		SearchType: "keyword",
		SearchTerm: "鬼灭之刃 S02E03",
	})
	if err != nil {
		t.Fatalf("resolveAutoRequest: %v", err)
	}
	if resolved.title != "鬼灭之刃" {
		t.Errorf("title = %q", resolved.title)
	}
	if resolved.season == nil || *resolved.season != 2 {
		t.Errorf("season = %v", resolved.season)
	}
	if len(resolved.episodes) != 1 || resolved.episodes[0] != 3 {
		t.Errorf("episodes = %v", resolved.episodes)
	}
}

func TestResolveAutoRequestEpisodeRange(t *testing.T) {
	e, _ := newTestEngine(t)

	resolved, err := e.resolveAutoRequest(context.Background(), fakeReporter{}, models.AutoImportRequest{
		SearchType: "keyword",
		SearchTerm: "某动画",
		Episode:    "1-3,7",
	})
	if err != nil {
		t.Fatalf("resolveAutoRequest: %v", err)
	}
	want := []int{1, 2, 3, 7}
	if len(resolved.episodes) != len(want) {
		t.Fatalf("episodes = %v, want %v", resolved.episodes, want)
	}
	for i := range want {
		if resolved.episodes[i] != want[i] {
			t.Fatalf("episodes = %v, want %v", resolved.episodes, want)
		}
	}
}
