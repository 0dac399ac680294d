// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/quzard/danmu-hub/internal/aimatch"
	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/lang"
	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/metadata"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/scraper"
	"github.com/quzard/danmu-hub/internal/search"
	"github.com/quzard/danmu-hub/internal/task"
)

// autoRequest is the resolved form of an auto-import request.
type autoRequest struct {
	title     string
	season    *int
	episodes  []int
	year      *int
	mediaType *models.MediaType
	ids       models.MetadataIDs
	imageURL  string
}

// RunAuto resolves an auto-import request: metadata bootstrap, library
// check, pipeline search, candidate scoring and the generic import.
func (e *Engine) RunAuto(ctx context.Context, rc Reporter, req models.AutoImportRequest) error {
	resolved, err := e.resolveAutoRequest(ctx, rc, req)
	if err != nil {
		return err
	}
	return e.runResolved(ctx, rc, resolved)
}

// RunWebhook imports a normalized media-server webhook job. The job
// skips keyword parsing; titles and ids arrive pre-extracted.
func (e *Engine) RunWebhook(ctx context.Context, rc Reporter, job models.WebhookJob) error {
	mt := job.MediaType
	resolved := &autoRequest{
		title:     job.Title,
		year:      job.Year,
		ids:       job.IDs,
		mediaType: &mt,
	}
	if job.Season > 0 {
		season := job.Season
		resolved.season = &season
	}
	if job.EpisodeIndex != nil {
		resolved.episodes = []int{*job.EpisodeIndex}
	}
	return e.runResolved(ctx, rc, resolved)
}

func (e *Engine) runResolved(ctx context.Context, rc Reporter, resolved *autoRequest) error {
	rc.Progress(ctx, 10, "查询媒体库")
	handled, err := e.libraryCheck(ctx, rc, resolved)
	if handled || err != nil {
		return err
	}

	rc.Progress(ctx, 20, "搜索弹幕源")
	holder := scraper.LockHolder{Kind: scraper.LockHolderTask, ID: rc.TaskID()}
	result, err := e.pipeline.SearchParsed(ctx, holder, resolved.title, resolved.season, singleEpisode(resolved.episodes), resolved.mediaType)
	if err != nil {
		return err
	}
	if len(result.Candidates) == 0 {
		return fmt.Errorf("没有找到“%s”的弹幕源", resolved.title)
	}

	chosen, err := e.chooseCandidate(ctx, rc, resolved, result.Candidates)
	if err != nil {
		return err
	}

	job := GenericImport{
		Provider:    chosen.Provider,
		MediaID:     chosen.MediaID,
		Title:       resolved.title,
		MediaType:   chosen.MediaType,
		Season:      chosen.Season,
		Year:        pickYear(resolved.year, chosen.Year),
		ImageURL:    firstNonEmpty(chosen.ImageURL, resolved.imageURL),
		MetadataIDs: resolved.ids,
	}
	applyEpisodeSelection(&job, resolved.episodes)
	return e.RunGeneric(ctx, rc, job)
}

// resolveAutoRequest performs the metadata-ID bootstrap: ID search
// types (and bare numeric keywords, treated as TMDB ids) are resolved
// to canonical details before anything else.
func (e *Engine) resolveAutoRequest(ctx context.Context, rc Reporter, req models.AutoImportRequest) (*autoRequest, error) {
	resolved := &autoRequest{title: strings.TrimSpace(req.SearchTerm), season: req.Season}
	if req.MediaType != "" {
		mt := models.MediaType(req.MediaType)
		resolved.mediaType = &mt
	}
	if req.Episode != "" {
		episodes, err := DecodeRanges(req.Episode)
		if err != nil {
			return nil, err
		}
		resolved.episodes = episodes
	}

	searchType := req.SearchType
	searchTerm := resolved.title
	if searchType == "keyword" {
		if _, err := strconv.Atoi(searchTerm); err == nil {
			searchType = "tmdb"
		}
	}
	if searchType == "keyword" {
		title, season, episode := parseAutoKeyword(searchTerm, resolved)
		resolved.title = title
		if season != nil {
			resolved.season = season
		}
		if episode != nil && len(resolved.episodes) == 0 {
			resolved.episodes = []int{*episode}
		}
		return resolved, nil
	}

	src, err := e.meta.Get(searchType)
	if err != nil {
		return nil, fmt.Errorf("metadata source %s: %w", searchType, err)
	}

	rc.Progress(ctx, 5, fmt.Sprintf("获取 %s 详情", searchType))
	details, err := fetchDetails(ctx, src, searchTerm, resolved.mediaType)
	if err != nil {
		return nil, fmt.Errorf("获取 %s:%s 详情失败: %w", searchType, searchTerm, err)
	}

	resolved.title = details.Title
	resolved.year = details.Year
	resolved.ids = details.IDs
	resolved.imageURL = details.ImageURL
	if resolved.mediaType == nil {
		mt := details.MediaType
		resolved.mediaType = &mt
	}
	setSourceID(&resolved.ids, searchType, searchTerm)

	if !lang.IsChinese(resolved.title) && e.cfg.GetBool(ctx, config.KeyTMDBReverseLookupEnabled, false) {
		if cn := e.meta.ReverseLookup(ctx, "tmdb", resolved.ids, resolved.mediaType); cn != "" {
			logging.Info().Str("from", resolved.title).Str("to", cn).Msg("reverse lookup produced chinese title")
			resolved.title = cn
		}
	}
	return resolved, nil
}

// fetchDetails tries the TV catalogue first and falls back to movie when
// the caller did not pin a media type.
func fetchDetails(ctx context.Context, src metadata.Source, id string, mediaType *models.MediaType) (*metadata.Result, error) {
	kinds := []models.MediaType{models.MediaTypeTVSeries, models.MediaTypeMovie}
	if mediaType != nil {
		kinds = []models.MediaType{*mediaType}
	}
	var lastErr error
	for _, kind := range kinds {
		details, err := src.Details(ctx, id, kind)
		if err == nil && details.Title != "" {
			return details, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no catalogue entry for id %s", id)
	}
	return nil, lastErr
}

func setSourceID(ids *models.MetadataIDs, searchType, id string) {
	switch searchType {
	case "tmdb":
		ids.TMDBID = id
	case "tvdb":
		ids.TVDBID = id
	case "imdb":
		ids.IMDBID = id
	case "douban":
		ids.DoubanID = id
	case "bangumi":
		ids.BangumiID = id
	}
}

func parseAutoKeyword(term string, _ *autoRequest) (string, *int, *int) {
	return search.ParseKeyword(term)
}

// libraryCheck handles the already-in-library paths. Returns handled
// when the request was fully answered (including submitting a partial
// import of missing episodes).
func (e *Engine) libraryCheck(ctx context.Context, rc Reporter, resolved *autoRequest) (bool, error) {
	season := 1
	if resolved.season != nil {
		season = *resolved.season
	}

	anime, err := e.findInLibrary(ctx, resolved, season)
	if err != nil {
		return false, err
	}
	if anime == nil {
		return false, nil
	}

	if len(resolved.episodes) == 0 {
		return true, &task.Success{Message: fmt.Sprintf("“%s”已在媒体库中", anime.Title)}
	}

	source, err := e.pickLibrarySource(ctx, anime.ID)
	if err != nil {
		return false, err
	}
	if source == nil {
		// Library row without a usable source; fall through to search.
		return false, nil
	}

	missing, err := e.MissingEpisodes(ctx, anime.Title, source.ID, resolved.episodes)
	if err != nil {
		return false, err
	}
	if len(missing) == 0 {
		return true, &task.Success{Message: fmt.Sprintf("跳过: %s，均已存在", EncodeRanges(resolved.episodes))}
	}

	job := GenericImport{
		Provider:           source.ProviderName,
		MediaID:            source.MediaID,
		Title:              anime.Title,
		MediaType:          anime.MediaType,
		Season:             anime.Season,
		Year:               anime.Year,
		MetadataIDs:        resolved.ids,
		SelectedEpisodes:   missing,
		PreassignedAnimeID: &anime.ID,
	}
	if len(missing) == 1 {
		job.EpisodeIndex = &missing[0]
	}
	return true, e.RunGeneric(ctx, rc, job)
}

func (e *Engine) findInLibrary(ctx context.Context, resolved *autoRequest, season int) (*models.Anime, error) {
	idPairs := []struct{ column, id string }{
		{"tmdb", resolved.ids.TMDBID},
		{"tvdb", resolved.ids.TVDBID},
		{"imdb", resolved.ids.IMDBID},
		{"douban", resolved.ids.DoubanID},
		{"bangumi", resolved.ids.BangumiID},
	}
	for _, pair := range idPairs {
		if pair.id == "" {
			continue
		}
		anime, err := e.store.GetAnimeByMetadataID(ctx, pair.column, pair.id, season)
		if err != nil {
			return nil, err
		}
		if anime != nil {
			return anime, nil
		}
	}
	return e.store.GetAnimeByIdentity(ctx, e.recog.PostStore(resolved.title), season, resolved.year)
}

// pickLibrarySource prefers the favorited source, then the source whose
// provider ranks earliest in the configured display order.
func (e *Engine) pickLibrarySource(ctx context.Context, animeID int64) (*models.Source, error) {
	sources, err := e.store.ListSourcesByAnime(ctx, animeID)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, nil
	}
	for i := range sources {
		if sources[i].Favorited {
			return &sources[i], nil
		}
	}

	order := e.providerOrder(ctx)
	best := 0
	for i := 1; i < len(sources); i++ {
		if order(sources[i].ProviderName) < order(sources[best].ProviderName) {
			best = i
		}
	}
	return &sources[best], nil
}

func (e *Engine) providerOrder(ctx context.Context) func(string) int {
	rank := make(map[string]int)
	pos := 0
	for _, name := range strings.Split(e.cfg.Get(ctx, config.KeySearchDisplayOrder, ""), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		rank[name] = pos
		pos++
	}
	for _, name := range e.scrapers.Names() {
		if _, ok := rank[name]; !ok {
			rank[name] = pos
			pos++
		}
	}
	return func(provider string) int {
		if n, ok := rank[provider]; ok {
			return n
		}
		return len(rank)
	}
}

// chooseCandidate scores the ranked candidates, applies the optional AI
// override and the optional fallback verification probe.
func (e *Engine) chooseCandidate(ctx context.Context, rc Reporter, resolved *autoRequest, candidates []models.ProviderSearchInfo) (*models.ProviderSearchInfo, error) {
	order := e.providerOrder(ctx)
	scored := make([]int, len(candidates))
	for i, c := range candidates {
		scored[i] = scoreCandidate(resolved, c)
	}

	indices := make([]int, len(candidates))
	for i := range indices {
		indices[i] = i
	}
	sortByScore(indices, scored, func(i int) int { return order(candidates[i].Provider) })

	if e.cfg.GetBool(ctx, config.KeyAIMatchEnabled, false) {
		if matcher, err := e.pipeline.Matcher(ctx); err == nil {
			sorted := make([]models.ProviderSearchInfo, len(indices))
			for i, idx := range indices {
				sorted[i] = candidates[idx]
			}
			query := aimatch.QueryInfo{Title: resolved.title, Season: resolved.season, MediaType: resolved.mediaType}
			if pick := matcher.SelectBestMatch(ctx, query, sorted, nil); pick != nil {
				front := indices[*pick]
				rest := make([]int, 0, len(indices)-1)
				for _, idx := range indices {
					if idx != front {
						rest = append(rest, idx)
					}
				}
				indices = append([]int{front}, rest...)
			}
		}
	}

	if !e.cfg.GetBool(ctx, config.KeyFallbackVerification, false) {
		chosen := candidates[indices[0]]
		return &chosen, nil
	}

	// Probe episode 1 of each candidate in order; take the first that
	// actually yields comments.
	for _, idx := range indices {
		c := candidates[idx]
		adapter, err := e.scrapers.Get(c.Provider)
		if err != nil {
			continue
		}
		rc.Progress(ctx, 25, fmt.Sprintf("验证候选 %s", c.Title))
		ok, err := e.probeFirstEpisode(ctx, adapter, c)
		if err != nil {
			return nil, err
		}
		if ok {
			return &c, nil
		}
		logging.Info().Str("provider", c.Provider).Str("title", c.Title).
			Msg("candidate failed verification probe")
	}
	return nil, fmt.Errorf("所有候选的第1集均无弹幕")
}

func (e *Engine) probeFirstEpisode(ctx context.Context, adapter scraper.Scraper, c models.ProviderSearchInfo) (bool, error) {
	one := 1
	episodes, err := adapter.GetEpisodes(ctx, c.MediaID, &one, &c.MediaType)
	if err != nil || len(episodes) == 0 {
		return false, nil
	}
	probe := GenericImport{Provider: c.Provider, MediaID: c.MediaID, IsFallback: true}
	comments, err := e.fetchComments(ctx, adapter, &probe, episodes[0].ProviderEpisodeID, nil)
	if err != nil {
		return false, err
	}
	return len(comments) > 0, nil
}

func scoreCandidate(resolved *autoRequest, c models.ProviderSearchInfo) int {
	score := fuzzy.TokenSetRatio(c.Title, resolved.title)
	if c.Title == resolved.title {
		score += 1000
	}
	if resolved.year != nil && c.Year != nil {
		if *resolved.year == *c.Year {
			score += 10000
		} else {
			score -= 1000
		}
	}
	return score
}

// sortByScore orders indices by score descending, provider display
// order ascending on ties.
func sortByScore(indices, scores []int, order func(int) int) {
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0; j-- {
			a, b := indices[j-1], indices[j]
			if scores[b] > scores[a] || (scores[b] == scores[a] && order(b) < order(a)) {
				indices[j-1], indices[j] = b, a
			} else {
				break
			}
		}
	}
}

func applyEpisodeSelection(job *GenericImport, episodes []int) {
	switch len(episodes) {
	case 0:
	case 1:
		job.EpisodeIndex = &episodes[0]
	default:
		job.SelectedEpisodes = episodes
	}
}

func singleEpisode(episodes []int) *int {
	if len(episodes) == 1 {
		return &episodes[0]
	}
	return nil
}

func pickYear(requested, candidate *int) *int {
	if requested != nil {
		return requested
	}
	return candidate
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
