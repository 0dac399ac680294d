// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package importer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emmansun/gmsm/sm2"

	"github.com/quzard/danmu-hub/internal/aimatch"
	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/danmaku"
	"github.com/quzard/danmu-hub/internal/database"
	"github.com/quzard/danmu-hub/internal/metadata"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/ratelimit"
	"github.com/quzard/danmu-hub/internal/recognizer"
	"github.com/quzard/danmu-hub/internal/scraper"
	"github.com/quzard/danmu-hub/internal/search"
	"github.com/quzard/danmu-hub/internal/task"
)

type fakeReporter struct{}

func (fakeReporter) TaskID() string { return "task-test" }

func (fakeReporter) Progress(ctx context.Context, percent int, message string) error { return nil }

// fakeScraper serves canned episode lists and per-episode comments.
type fakeScraper struct {
	name     string
	searches []models.ProviderSearchInfo
	episodes []models.ProviderEpisodeInfo
	comments map[string][]models.Comment
	fetches  int
}

func (f *fakeScraper) ProviderName() string { return f.name }

func (f *fakeScraper) Search(ctx context.Context, titles []string, episode *scraper.EpisodeInfo) ([]models.ProviderSearchInfo, error) {
	return f.searches, nil
}

func (f *fakeScraper) GetEpisodes(ctx context.Context, mediaID string, targetEpisode *int, dbMediaType *models.MediaType) ([]models.ProviderEpisodeInfo, error) {
	return f.episodes, nil
}

func (f *fakeScraper) GetComments(ctx context.Context, providerEpisodeID string, progress scraper.ProgressFunc) ([]models.Comment, error) {
	f.fetches++
	return f.comments[providerEpisodeID], nil
}

func nComments(n int) []models.Comment {
	out := make([]models.Comment, n)
	for i := range out {
		out[i] = models.Comment{Timestamp: float64(i), Style: "1,25,16777215", Text: fmt.Sprintf("弹幕%d", i)}
	}
	return out
}

func episodeList(indices ...int) []models.ProviderEpisodeInfo {
	out := make([]models.ProviderEpisodeInfo, 0, len(indices))
	for _, idx := range indices {
		out = append(out, models.ProviderEpisodeInfo{
			ProviderEpisodeID: fmt.Sprintf("ep%d", idx),
			Title:             fmt.Sprintf("第%d集", idx),
			EpisodeIndex:      idx,
		})
	}
	return out
}

func newTestEngine(t *testing.T, scrapers ...scraper.Scraper) (*Engine, *database.DB) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs, err := danmaku.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("danmaku store: %v", err)
	}

	policyDir := t.TempDir()
	priv, err := sm2.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if err := ratelimit.WritePolicy(policyDir, ratelimit.Policy{Enabled: false, GlobalPeriod: "hour"}, priv); err != nil {
		t.Fatal(err)
	}

	reg := scraper.NewRegistry()
	for _, s := range scrapers {
		reg.Register(s)
	}
	limiter := ratelimit.New(db, reg.Quota, policyDir)
	cfg := config.NewStore(db)
	recog := recognizer.New()
	meta := metadata.NewRegistry()
	pipeline := search.New(reg, meta, recog, cfg, aimatch.NewManager(), limiter, db)

	return New(db, blobs, reg, meta, recog, cfg, limiter, pipeline, nil), db
}

// seedSource creates an anime with one linked source and returns both.
func seedSource(t *testing.T, db *database.DB, title, provider, mediaID string) (*models.Anime, *models.Source) {
	t.Helper()
	ctx := context.Background()
	anime, err := db.CreateAnime(ctx, &models.Anime{Title: title, MediaType: models.MediaTypeTVSeries, Season: 1})
	if err != nil {
		t.Fatalf("create anime: %v", err)
	}
	source, err := db.LinkSource(ctx, anime.ID, provider, mediaID)
	if err != nil {
		t.Fatalf("link source: %v", err)
	}
	return anime, source
}

func seedEpisode(t *testing.T, db *database.DB, sourceID int64, index, count int) {
	t.Helper()
	if err := db.CommitEpisode(context.Background(), &models.Episode{
		SourceID:        sourceID,
		EpisodeIndex:    index,
		Title:           fmt.Sprintf("第%d集", index),
		DanmakuFilePath: "seed.json",
		CommentCount:    count,
	}); err != nil {
		t.Fatalf("seed episode %d: %v", index, err)
	}
}

func wantSuccess(t *testing.T, err error) *task.Success {
	t.Helper()
	var s *task.Success
	if !errors.As(err, &s) {
		t.Fatalf("err = %v, want *task.Success", err)
	}
	return s
}

func TestRunGenericFullImport(t *testing.T) {
	s := &fakeScraper{
		name:     "fake",
		episodes: episodeList(1, 2, 3),
		comments: map[string][]models.Comment{
			"ep1": nComments(4),
			"ep2": nComments(2),
			"ep3": nComments(6),
		},
	}
	e, db := newTestEngine(t, s)
	ctx := context.Background()

	err := e.RunGeneric(ctx, fakeReporter{}, GenericImport{
		Provider:  "fake",
		MediaID:   "m1",
		Title:     "某动画",
		MediaType: models.MediaTypeTVSeries,
		Season:    1,
	})
	msg := wantSuccess(t, err).Message
	if !strings.Contains(msg, "导入 1-3") {
		t.Errorf("report = %q", msg)
	}

	anime, err := db.GetAnimeByIdentity(ctx, "某动画", 1, nil)
	if err != nil || anime == nil {
		t.Fatalf("anime lookup: %v %v", anime, err)
	}
	source, err := db.GetSourceByProvider(ctx, "fake", "m1")
	if err != nil || source == nil {
		t.Fatalf("source lookup: %v %v", source, err)
	}
	present, err := db.PresentEpisodeIndices(ctx, source.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(present) != 3 {
		t.Errorf("present episodes = %v", present)
	}
}

func TestEmptyFirstEpisodeCreatesNoRows(t *testing.T) {
	s := &fakeScraper{
		name:     "fake",
		episodes: episodeList(1, 2),
		comments: map[string][]models.Comment{"ep2": nComments(3)},
	}
	e, db := newTestEngine(t, s)
	ctx := context.Background()

	err := e.RunGeneric(ctx, fakeReporter{}, GenericImport{
		Provider:  "fake",
		MediaID:   "m1",
		Title:     "空源",
		MediaType: models.MediaTypeTVSeries,
		Season:    1,
	})
	if err == nil || !strings.Contains(err.Error(), "源校验失败") {
		t.Fatalf("err = %v, want validation failure", err)
	}

	anime, err := db.GetAnimeByIdentity(ctx, "空源", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if anime != nil {
		t.Error("anime row created despite failed validation")
	}
	source, err := db.GetSourceByProvider(ctx, "fake", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if source != nil {
		t.Error("source row created despite failed validation")
	}
}

func TestSelectedEpisodesAllPresentShortCircuits(t *testing.T) {
	s := &fakeScraper{name: "fake", episodes: episodeList(1, 2)}
	e, db := newTestEngine(t, s)

	_, source := seedSource(t, db, "某动画", "fake", "m1")
	seedEpisode(t, db, source.ID, 1, 5)
	seedEpisode(t, db, source.ID, 2, 5)

	err := e.RunGeneric(context.Background(), fakeReporter{}, GenericImport{
		Provider:         "fake",
		MediaID:          "m1",
		Title:            "某动画",
		MediaType:        models.MediaTypeTVSeries,
		Season:           1,
		SelectedEpisodes: []int{1, 2},
	})
	msg := wantSuccess(t, err).Message
	if !strings.Contains(msg, "跳过: 1-2，均已存在") {
		t.Errorf("report = %q", msg)
	}
	if s.fetches != 0 {
		t.Errorf("provider fetched %d times for a no-op import", s.fetches)
	}
}

func TestPresentEpisodesSkippedWithoutSmartRefresh(t *testing.T) {
	s := &fakeScraper{
		name:     "fake",
		episodes: episodeList(1, 2),
		comments: map[string][]models.Comment{
			"ep1": nComments(3),
			"ep2": nComments(3),
		},
	}
	e, db := newTestEngine(t, s)

	_, source := seedSource(t, db, "某动画", "fake", "m1")
	seedEpisode(t, db, source.ID, 2, 10)

	err := e.RunGeneric(context.Background(), fakeReporter{}, GenericImport{
		Provider:  "fake",
		MediaID:   "m1",
		Title:     "某动画",
		MediaType: models.MediaTypeTVSeries,
		Season:    1,
	})
	msg := wantSuccess(t, err).Message
	if !strings.Contains(msg, "导入 1") || !strings.Contains(msg, "跳过 2") {
		t.Errorf("report = %q", msg)
	}
}

func TestSmartRefreshOnlyOverwritesWithMoreComments(t *testing.T) {
	s := &fakeScraper{
		name:     "fake",
		episodes: episodeList(1, 2, 3),
		comments: map[string][]models.Comment{
			"ep1": nComments(3),
			"ep2": nComments(5),
			"ep3": nComments(20),
		},
	}
	e, db := newTestEngine(t, s)
	ctx := context.Background()

	_, source := seedSource(t, db, "某动画", "fake", "m1")
	seedEpisode(t, db, source.ID, 2, 10)
	seedEpisode(t, db, source.ID, 3, 10)

	if err := db.SetConfigValue(ctx, config.KeySmartRefreshEnabled, "true"); err != nil {
		t.Fatal(err)
	}

	err := e.RunGeneric(ctx, fakeReporter{}, GenericImport{
		Provider:  "fake",
		MediaID:   "m1",
		Title:     "某动画",
		MediaType: models.MediaTypeTVSeries,
		Season:    1,
	})
	msg := wantSuccess(t, err).Message
	// Episode 2 stays at 10 comments (5 is not an improvement), episode 3
	// is refreshed to 20.
	if !strings.Contains(msg, "跳过 2") {
		t.Errorf("report = %q, want episode 2 skipped", msg)
	}
	ep3, err := db.GetEpisode(ctx, source.ID, 3)
	if err != nil || ep3 == nil {
		t.Fatalf("episode 3 lookup: %v %v", ep3, err)
	}
	if ep3.CommentCount != 20 {
		t.Errorf("episode 3 count = %d, want 20", ep3.CommentCount)
	}
}

func TestRunEditedPreflightSkipsPresent(t *testing.T) {
	s := &fakeScraper{
		name:     "fake",
		comments: map[string][]models.Comment{"ep3": nComments(7)},
	}
	e, db := newTestEngine(t, s)

	anime, source := seedSource(t, db, "某动画", "fake", "m1")
	seedEpisode(t, db, source.ID, 1, 5)
	seedEpisode(t, db, source.ID, 2, 5)

	err := e.RunEdited(context.Background(), fakeReporter{}, models.EditedImportRequest{
		Provider:  "fake",
		MediaID:   "m1",
		Title:     anime.Title,
		MediaType: string(models.MediaTypeTVSeries),
		Season:    1,
		Episodes:  episodeList(3, 1, 2),
	})
	msg := wantSuccess(t, err).Message
	if !strings.Contains(msg, "导入 3") || !strings.Contains(msg, "跳过 1-2") {
		t.Errorf("report = %q", msg)
	}
}

func TestRunEditedAllPresentShortCircuits(t *testing.T) {
	s := &fakeScraper{name: "fake"}
	e, db := newTestEngine(t, s)

	anime, source := seedSource(t, db, "某动画", "fake", "m1")
	seedEpisode(t, db, source.ID, 1, 5)

	err := e.RunEdited(context.Background(), fakeReporter{}, models.EditedImportRequest{
		Provider:  "fake",
		MediaID:   "m1",
		Title:     anime.Title,
		MediaType: string(models.MediaTypeTVSeries),
		Season:    1,
		Episodes:  episodeList(1),
	})
	msg := wantSuccess(t, err).Message
	if !strings.Contains(msg, "均已存在") {
		t.Errorf("report = %q", msg)
	}
}

func TestRunXMLImportsPayload(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	_, source := seedSource(t, db, "某动画", "fake", "m1")

	err := e.RunXML(ctx, fakeReporter{}, models.XMLImportRequest{
		SourceID:     source.ID,
		EpisodeIndex: 5,
		Content:      `<i><d p="12.5,1,25,16777215">前方高能</d><d p="30,1,25,16777215">哈哈</d></i>`,
	})
	msg := wantSuccess(t, err).Message
	if !strings.Contains(msg, "导入第5集，共 2 条弹幕") {
		t.Errorf("message = %q", msg)
	}

	ep, err := db.GetEpisode(ctx, source.ID, 5)
	if err != nil || ep == nil {
		t.Fatalf("episode lookup: %v %v", ep, err)
	}
	if ep.CommentCount != 2 || !ep.Present() {
		t.Errorf("episode = %+v", ep)
	}
}

func TestRunXMLRejectsEmptyPayload(t *testing.T) {
	e, db := newTestEngine(t)
	_, source := seedSource(t, db, "某动画", "fake", "m1")

	err := e.RunXML(context.Background(), fakeReporter{}, models.XMLImportRequest{
		SourceID:     source.ID,
		EpisodeIndex: 1,
		Content:      "   \n  ",
	})
	if err == nil || !strings.Contains(err.Error(), "没有可解析的弹幕") {
		t.Fatalf("err = %v", err)
	}
}

func TestMissingEpisodes(t *testing.T) {
	e, db := newTestEngine(t)
	_, source := seedSource(t, db, "某动画", "fake", "m1")
	seedEpisode(t, db, source.ID, 1, 5)
	seedEpisode(t, db, source.ID, 3, 5)

	missing, err := e.MissingEpisodes(context.Background(), "某动画", source.ID, []int{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	want := []int{2, 4}
	if len(missing) != len(want) || missing[0] != 2 || missing[1] != 4 {
		t.Errorf("missing = %v, want %v", missing, want)
	}
}
