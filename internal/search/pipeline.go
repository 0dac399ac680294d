// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package search implements the staged search and match pipeline:
// keyword parsing, recognition rewriting, name conversion, alias
// enrichment, parallel provider fan-out, filtering, ranking, optional
// AI correction and result caching.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/quzard/danmu-hub/internal/aimatch"
	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/lang"
	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/metadata"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/ratelimit"
	"github.com/quzard/danmu-hub/internal/recognizer"
	"github.com/quzard/danmu-hub/internal/scraper"
)

const (
	// searchCacheTTL is how long a sorted candidate list stays valid.
	searchCacheTTL = 10800 * time.Second

	// aliasSimilarityThreshold gates metadata aliases into the validated set.
	aliasSimilarityThreshold = 70

	// candidateAliasThreshold drops candidates too far from every alias.
	candidateAliasThreshold = 85
)

// ErrSearchBusy is returned when the process-wide search lock is held.
var ErrSearchBusy = errors.New("search: another search is in progress")

// CacheStore is the slice of the repo the pipeline needs.
type CacheStore interface {
	SetCache(ctx context.Context, key, provider, payload string, ttl time.Duration) error
	GetCache(ctx context.Context, key string) (string, bool, error)
}

// Result is the pipeline output.
type Result struct {
	Title      string                      `json:"title"`
	Season     *int                        `json:"season,omitempty"`
	Episode    *int                        `json:"episode,omitempty"`
	Candidates []models.ProviderSearchInfo `json:"candidates"`
	Aliases    []string                    `json:"aliases,omitempty"`
	FromCache  bool                        `json:"from_cache"`
}

// StageTiming records one pipeline stage duration for telemetry.
type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// Pipeline wires the search stages together.
type Pipeline struct {
	scrapers *scraper.Registry
	meta     *metadata.Registry
	recog    *recognizer.Recognizer
	cfg      *config.Store
	ai       *aimatch.Manager
	limiter  *ratelimit.Limiter
	cache    CacheStore
}

// New creates the pipeline.
func New(scrapers *scraper.Registry, meta *metadata.Registry, recog *recognizer.Recognizer, cfg *config.Store, ai *aimatch.Manager, limiter *ratelimit.Limiter, cache CacheStore) *Pipeline {
	return &Pipeline{
		scrapers: scrapers,
		meta:     meta,
		recog:    recog,
		cfg:      cfg,
		ai:       ai,
		limiter:  limiter,
		cache:    cache,
	}
}

// Search runs the full pipeline for raw operator input. The search lock
// is held for the whole duration and released on every exit path.
func (p *Pipeline) Search(ctx context.Context, holder scraper.LockHolder, input string, mediaType *models.MediaType) (*Result, error) {
	title, season, episode := ParseKeyword(input)
	return p.SearchParsed(ctx, holder, title, season, episode, mediaType)
}

// SearchParsed runs the pipeline with pre-parsed parameters.
func (p *Pipeline) SearchParsed(ctx context.Context, holder scraper.LockHolder, title string, season, episode *int, mediaType *models.MediaType) (*Result, error) {
	if !p.scrapers.AcquireSearchLock(holder) {
		return nil, ErrSearchBusy
	}
	defer p.scrapers.ReleaseSearchLock(holder)

	var timings []StageTiming
	stage := func(name string) func() {
		start := time.Now()
		return func() {
			timings = append(timings, StageTiming{Stage: name, Duration: time.Since(start)})
		}
	}
	defer func() {
		ev := logging.Debug().Str("title", title)
		for _, t := range timings {
			ev = ev.Dur(t.Stage, t.Duration)
		}
		ev.Msg("search pipeline timings")
	}()

	done := stage("rewrite")
	title, season, episode = p.recog.PreSearch(title, season, episode)
	done()

	done = stage("name_conversion")
	title = p.convertName(ctx, title)
	done()

	done = stage("cache_lookup")
	if res, ok := p.cacheLookup(ctx, title, season, episode); ok {
		done()
		return res, nil
	}
	done()

	done = stage("alias_enrichment")
	aliases := p.enrichAliases(ctx, title)
	done()

	done = stage("provider_search")
	candidates, err := p.providerSearch(ctx, title, aliases, season, episode)
	done()
	if err != nil {
		return nil, err
	}

	done = stage("filter_rank")
	candidates = p.retypeByTitle(candidates)
	candidates = p.filterSeason(candidates, season)
	candidates = p.filterByAliases(candidates, title, aliases)
	p.rank(ctx, candidates, title)
	done()

	if mediaType != nil {
		candidates = filterMediaType(candidates, *mediaType)
	}

	done = stage("ai_correction")
	candidates = p.aiCorrect(ctx, title, season, candidates)
	done()

	done = stage("cache_store")
	p.cacheStore(ctx, title, season, candidates, aliases)
	done()

	annotate(candidates, episode)
	return &Result{
		Title:      title,
		Season:     season,
		Episode:    episode,
		Candidates: candidates,
		Aliases:    aliases,
	}, nil
}

// convertName maps a non-CJK title to a Chinese one via metadata sources
// first, then the AI query fallback. Failure keeps the original title.
func (p *Pipeline) convertName(ctx context.Context, title string) string {
	if !p.cfg.GetBool(ctx, config.KeyNameConversionEnabled, false) {
		return title
	}
	if lang.ContainsHan(title) || lang.HasKana(title) {
		return title
	}

	priority := p.cfg.Get(ctx, config.KeyMetadataSourcePriority, "")
	if cn := p.meta.FirstChineseTitle(ctx, title, priority, lang.IsChinese); cn != "" {
		logging.Info().Str("from", title).Str("to", cn).Msg("title converted via metadata")
		return cn
	}

	matcher, err := p.matcher(ctx)
	if err != nil {
		return title
	}
	reply, err := matcher.Query(ctx, "将以下影视作品标题转换为官方中文译名，只回复译名本身：\n"+title)
	if err != nil {
		logging.Debug().Err(err).Msg("ai name conversion failed")
		return title
	}
	reply = strings.TrimSpace(reply)
	if lang.IsChinese(reply) {
		logging.Info().Str("from", title).Str("to", reply).Msg("title converted via ai")
		return reply
	}
	return title
}

func cacheKey(title string, season *int) string {
	norm := strings.ToLower(strings.TrimSpace(title))
	suffix := "all"
	if season != nil {
		suffix = strconv.Itoa(*season)
	}
	return fmt.Sprintf("provider_search_%s_%s", norm, suffix)
}

func aliasCacheKey(title string, season *int) string {
	return "aliases_" + cacheKey(title, season)
}

func (p *Pipeline) cacheLookup(ctx context.Context, title string, season, episode *int) (*Result, bool) {
	payload, ok, err := p.cache.GetCache(ctx, cacheKey(title, season))
	if err != nil || !ok {
		return nil, false
	}
	var candidates []models.ProviderSearchInfo
	if err := json.Unmarshal([]byte(payload), &candidates); err != nil {
		return nil, false
	}

	var aliases []string
	if raw, ok, err := p.cache.GetCache(ctx, aliasCacheKey(title, season)); err == nil && ok {
		json.Unmarshal([]byte(raw), &aliases)
	}

	annotate(candidates, episode)
	return &Result{
		Title:      title,
		Season:     season,
		Episode:    episode,
		Candidates: candidates,
		Aliases:    aliases,
		FromCache:  true,
	}, true
}

func (p *Pipeline) cacheStore(ctx context.Context, title string, season *int, candidates []models.ProviderSearchInfo, aliases []string) {
	stripped := make([]models.ProviderSearchInfo, len(candidates))
	copy(stripped, candidates)
	for i := range stripped {
		stripped[i].CurrentEpisodeIndex = nil
	}

	if payload, err := json.Marshal(stripped); err == nil {
		if err := p.cache.SetCache(ctx, cacheKey(title, season), "", string(payload), searchCacheTTL); err != nil {
			logging.Warn().Err(err).Msg("search cache write failed")
		}
	}
	if len(aliases) > 0 {
		if payload, err := json.Marshal(aliases); err == nil {
			p.cache.SetCache(ctx, aliasCacheKey(title, season), "", string(payload), searchCacheTTL)
		}
	}
}

// enrichAliases collects metadata aliases and keeps only those with
// fuzzy similarity above the threshold against the search title.
func (p *Pipeline) enrichAliases(ctx context.Context, title string) []string {
	if len(p.meta.Names()) == 0 {
		return nil
	}
	var validated []string
	for _, alias := range p.meta.SearchAliases(ctx, title) {
		if alias == title {
			continue
		}
		if fuzzy.TokenSetRatio(alias, title) > aliasSimilarityThreshold {
			validated = append(validated, alias)
		}
	}
	return validated
}

// providerSearch fans out across every enabled scraper with the full
// title set. Per-provider failures and rate-limit denials skip the
// provider instead of failing the pipeline.
func (p *Pipeline) providerSearch(ctx context.Context, title string, aliases []string, season, episode *int) ([]models.ProviderSearchInfo, error) {
	titles := append([]string{title}, aliases...)

	var epInfo *scraper.EpisodeInfo
	if episode != nil {
		info := scraper.EpisodeInfo{Episode: *episode}
		if season != nil {
			info.Season = *season
		}
		epInfo = &info
	}

	var mu sync.Mutex
	var all []models.ProviderSearchInfo

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range p.scrapers.All() {
		g.Go(func() error {
			name := s.ProviderName()
			if err := p.limiter.Check(gctx, name); err != nil {
				logging.Debug().Err(err).Str("provider", name).Msg("provider skipped by rate limit")
				return nil
			}

			start := time.Now()
			results, err := s.Search(gctx, titles, epInfo)
			p.scrapers.ObserveSearchDuration(name, time.Since(start))
			if err != nil {
				logging.Warn().Err(err).Str("provider", name).Msg("provider search failed")
				return nil
			}
			// Quota is consumed only by fetches that actually returned.
			p.limiter.Increment(gctx, name)

			mu.Lock()
			all = append(all, results...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	filtered := all[:0]
	for _, c := range all {
		if p.recog.Blocked(c.Title) {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered, nil
}

var movieKeywords = []string{"movie", "剧场版", "劇場版", "映画"}

// retypeByTitle flips tv_series candidates whose title carries a movie
// marker.
func (p *Pipeline) retypeByTitle(candidates []models.ProviderSearchInfo) []models.ProviderSearchInfo {
	for i, c := range candidates {
		if c.MediaType != models.MediaTypeTVSeries {
			continue
		}
		lower := strings.ToLower(c.Title)
		for _, kw := range movieKeywords {
			if strings.Contains(lower, kw) {
				candidates[i].MediaType = models.MediaTypeMovie
				break
			}
		}
	}
	return candidates
}

func (p *Pipeline) filterSeason(candidates []models.ProviderSearchInfo, season *int) []models.ProviderSearchInfo {
	if season == nil {
		return candidates
	}
	out := candidates[:0]
	for _, c := range candidates {
		if c.MediaType != models.MediaTypeTVSeries {
			continue
		}
		if c.Season != *season {
			continue
		}
		out = append(out, c)
	}
	return out
}

// filterByAliases drops candidates whose title is far from every
// validated alias (the search title always counts as validated).
func (p *Pipeline) filterByAliases(candidates []models.ProviderSearchInfo, title string, aliases []string) []models.ProviderSearchInfo {
	refs := append([]string{title}, aliases...)
	out := candidates[:0]
	for _, c := range candidates {
		keep := false
		for _, ref := range refs {
			if fuzzy.PartialRatio(strings.ToLower(c.Title), strings.ToLower(ref)) >= candidateAliasThreshold {
				keep = true
				break
			}
		}
		if keep {
			out = append(out, c)
		}
	}
	return out
}

// rank sorts by configured provider display order, then fuzzy token-set
// ratio against the search title descending.
func (p *Pipeline) rank(ctx context.Context, candidates []models.ProviderSearchInfo, title string) {
	order := make(map[string]int)
	configured := strings.Split(p.cfg.Get(ctx, config.KeySearchDisplayOrder, ""), ",")
	pos := 0
	for _, name := range configured {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		order[name] = pos
		pos++
	}
	for _, name := range p.scrapers.Names() {
		if _, ok := order[name]; !ok {
			order[name] = pos
			pos++
		}
	}

	displayOrder := func(provider string) int {
		if n, ok := order[provider]; ok {
			return n
		}
		return len(order)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		oi, oj := displayOrder(candidates[i].Provider), displayOrder(candidates[j].Provider)
		if oi != oj {
			return oi < oj
		}
		return fuzzy.TokenSetRatio(candidates[i].Title, title) > fuzzy.TokenSetRatio(candidates[j].Title, title)
	})
}

// annotate stamps the current request's episode index onto every
// candidate; cached lists are stored stripped and re-annotated here.
func annotate(candidates []models.ProviderSearchInfo, episode *int) {
	for i := range candidates {
		if episode == nil {
			candidates[i].CurrentEpisodeIndex = nil
			continue
		}
		e := *episode
		candidates[i].CurrentEpisodeIndex = &e
	}
}

func filterMediaType(candidates []models.ProviderSearchInfo, mediaType models.MediaType) []models.ProviderSearchInfo {
	out := candidates[:0]
	for _, c := range candidates {
		if c.MediaType == mediaType {
			out = append(out, c)
		}
	}
	return out
}

// aiCorrection is the reply shape of the unified correction pass.
type aiCorrection struct {
	Index     int     `json:"index"`
	MediaType *string `json:"media_type,omitempty"`
	Season    *int    `json:"season,omitempty"`
}

// aiCorrect runs one unified pass that may adjust media type and season
// of individual candidates. Any failure leaves the list untouched.
func (p *Pipeline) aiCorrect(ctx context.Context, title string, season *int, candidates []models.ProviderSearchInfo) []models.ProviderSearchInfo {
	if len(candidates) == 0 || !p.cfg.GetBool(ctx, config.KeyAIMatchEnabled, false) {
		return candidates
	}
	matcher, err := p.matcher(ctx)
	if err != nil {
		return candidates
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "以下是对“%s”", title)
	if season != nil {
		fmt.Fprintf(&sb, "（第%d季）", *season)
	}
	sb.WriteString("的搜索候选。检查每个候选的媒体类型与季号是否正确，")
	sb.WriteString("只回复需要修正的条目，JSON 数组格式：")
	sb.WriteString(`[{"index":0,"media_type":"movie","season":2}]，无需修正时回复 []。`)
	sb.WriteString("\n候选列表:\n")
	for i, c := range candidates {
		b, _ := json.Marshal(c)
		fmt.Fprintf(&sb, "%d. %s\n", i, b)
	}

	reply, err := matcher.Query(ctx, sb.String())
	if err != nil {
		logging.Debug().Err(err).Msg("ai correction failed")
		return candidates
	}

	start := strings.IndexByte(reply, '[')
	end := strings.LastIndexByte(reply, ']')
	if start < 0 || end <= start {
		return candidates
	}
	var corrections []aiCorrection
	if err := json.Unmarshal([]byte(reply[start:end+1]), &corrections); err != nil {
		return candidates
	}

	for _, c := range corrections {
		if c.Index < 0 || c.Index >= len(candidates) {
			continue
		}
		if c.MediaType != nil {
			switch models.MediaType(*c.MediaType) {
			case models.MediaTypeTVSeries, models.MediaTypeMovie:
				candidates[c.Index].MediaType = models.MediaType(*c.MediaType)
			}
		}
		if c.Season != nil && *c.Season >= 1 {
			candidates[c.Index].Season = *c.Season
		}
	}
	return candidates
}

func (p *Pipeline) matcher(ctx context.Context) (*aimatch.Matcher, error) {
	return p.ai.Matcher(aimatch.Settings{
		Provider: p.cfg.Get(ctx, config.KeyAIProvider, "openai"),
		APIKey:   p.cfg.Get(ctx, config.KeyAIAPIKey, ""),
		BaseURL:  p.cfg.Get(ctx, config.KeyAIBaseURL, ""),
		Model:    p.cfg.Get(ctx, config.KeyAIModel, ""),
		Prompts: aimatch.Prompts{
			Match:    p.cfg.Get(ctx, config.KeyAIMatchPrompt, ""),
			Metadata: p.cfg.Get(ctx, config.KeyAIMetadataPrompt, ""),
		},
	})
}

// Matcher exposes the configured AI matcher to other pipeline consumers
// (auto import's override pass).
func (p *Pipeline) Matcher(ctx context.Context) (*aimatch.Matcher, error) {
	return p.matcher(ctx)
}
