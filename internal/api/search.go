// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/scraper"
	"github.com/quzard/danmu-hub/internal/search"
)

// searchCacheTTL bounds how long a searchId stays referenceable by
// /episodes and /import/direct.
const searchCacheTTL = 30 * time.Minute

type cachedSearch struct {
	result  *search.Result
	created time.Time
}

func (s *Server) storeSearch(result *search.Result) string {
	id := uuid.New().String()
	s.searchMu.Lock()
	defer s.searchMu.Unlock()

	for key, entry := range s.searches {
		if time.Since(entry.created) > searchCacheTTL {
			delete(s.searches, key)
		}
	}
	s.searches[id] = &cachedSearch{result: result, created: time.Now()}
	return id
}

func (s *Server) lookupSearch(id string, index int) (*models.ProviderSearchInfo, bool) {
	s.searchMu.Lock()
	defer s.searchMu.Unlock()

	entry, ok := s.searches[id]
	if !ok || time.Since(entry.created) > searchCacheTTL {
		return nil, false
	}
	if index < 0 || index >= len(entry.result.Candidates) {
		return nil, false
	}
	candidate := entry.result.Candidates[index]
	return &candidate, true
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		respondError(w, http.StatusBadRequest, "缺少 keyword 参数")
		return
	}

	title, season, episode := search.ParseKeyword(keyword)
	if n, ok := queryInt(r, "season"); ok {
		season = &n
	}
	if n, ok := queryInt(r, "episode"); ok {
		episode = &n
	}

	holder := scraper.LockHolder{Kind: scraper.LockHolderAPIToken, ID: logging.RequestIDFromContext(r.Context())}
	result, err := s.pipeline.SearchParsed(r.Context(), holder, title, season, episode, nil)
	if err != nil {
		if errors.Is(err, search.ErrSearchBusy) {
			respondError(w, http.StatusConflict, "另一个搜索或导入正在进行")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, models.SearchResponse{
		SearchID: s.storeSearch(result),
		Results:  result.Candidates,
	})
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	searchID := r.URL.Query().Get("searchId")
	index, ok := queryInt(r, "result_index")
	if searchID == "" || !ok {
		respondError(w, http.StatusBadRequest, "缺少 searchId 或 result_index 参数")
		return
	}

	candidate, ok := s.lookupSearch(searchID, index)
	if !ok {
		respondError(w, http.StatusNotFound, "搜索结果不存在或已过期")
		return
	}

	adapter, err := s.scrapers.Get(candidate.Provider)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	episodes, err := adapter.GetEpisodes(r.Context(), candidate.MediaID, nil, &candidate.MediaType)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"episodes": episodes})
}

func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
