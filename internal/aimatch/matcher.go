// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package aimatch calls an OpenAI-compatible model to break ties the
// deterministic matcher cannot. Every call is bounded by a timeout and
// every failure degrades to "no confident match".
package aimatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tmc/langchaingo/llms"

	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/metadata"
	"github.com/quzard/danmu-hub/internal/models"
)

// callTimeout bounds every model round trip.
const callTimeout = 20 * time.Second

// Prompts are the operator-editable prompt templates.
type Prompts struct {
	Match    string
	Metadata string
}

// QueryInfo describes what the pipeline was asked to find.
type QueryInfo struct {
	Title     string            `json:"title"`
	Season    *int              `json:"season,omitempty"`
	Episode   *int              `json:"episode,omitempty"`
	MediaType *models.MediaType `json:"media_type,omitempty"`
}

// FavoritedInfo describes the already-favorited source for the same
// work, when one exists. The model uses it as a strong prior.
type FavoritedInfo struct {
	Provider string `json:"provider"`
	Title    string `json:"title"`
}

// Matcher wraps one live model client. Prompts can be hot-swapped
// without reconstructing the client.
type Matcher struct {
	llm llms.Model

	mu      sync.RWMutex
	prompts Prompts
}

// UpdatePrompts replaces the prompt templates in place.
func (m *Matcher) UpdatePrompts(p Prompts) {
	m.mu.Lock()
	m.prompts = p
	m.mu.Unlock()
}

func (m *Matcher) currentPrompts() Prompts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prompts
}

// Query performs a raw single-turn call. Used by name conversion.
func (m *Matcher) Query(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return llms.GenerateFromSinglePrompt(ctx, m.llm, prompt)
}

// SelectBestMatch asks the model to pick one candidate index, or nil
// when no candidate is a confident match. Failures are logged and
// degrade to nil.
func (m *Matcher) SelectBestMatch(ctx context.Context, query QueryInfo, candidates []models.ProviderSearchInfo, favorited *FavoritedInfo) *int {
	if len(candidates) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(m.currentPrompts().Match)
	sb.WriteString("\n\n查询:\n")
	writeJSON(&sb, query)
	if favorited != nil {
		sb.WriteString("\n已收藏的源:\n")
		writeJSON(&sb, favorited)
	}
	sb.WriteString("\n候选列表:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. ", i)
		writeJSON(&sb, c)
		sb.WriteString("\n")
	}
	sb.WriteString("\n只回复最匹配候选的序号，没有可信匹配时回复 none。")

	reply, err := m.Query(ctx, sb.String())
	if err != nil {
		logging.Debug().Err(err).Msg("ai match call failed")
		return nil
	}
	return parseIndex(reply, len(candidates))
}

// SelectMetadataResult asks the model to pick one metadata candidate
// index. customPrompt, when non-empty, replaces the configured template.
func (m *Matcher) SelectMetadataResult(ctx context.Context, title string, year *int, candidates []metadata.Result, season *int, customPrompt string) *int {
	if len(candidates) == 0 {
		return nil
	}

	prompt := m.currentPrompts().Metadata
	if customPrompt != "" {
		prompt = customPrompt
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	fmt.Fprintf(&sb, "\n\n标题: %s", title)
	if year != nil {
		fmt.Fprintf(&sb, "\n年份: %d", *year)
	}
	if season != nil {
		fmt.Fprintf(&sb, "\n季度: %d", *season)
	}
	sb.WriteString("\n候选列表:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. ", i)
		writeJSON(&sb, c)
		sb.WriteString("\n")
	}
	sb.WriteString("\n只回复最匹配候选的序号，没有可信匹配时回复 none。")

	reply, err := m.Query(ctx, sb.String())
	if err != nil {
		logging.Debug().Err(err).Msg("ai metadata selection failed")
		return nil
	}
	return parseIndex(reply, len(candidates))
}

func writeJSON(sb *strings.Builder, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	sb.Write(b)
}

// parseIndex extracts a candidate index from a model reply. Anything
// that is not a clean in-range integer counts as "no match".
func parseIndex(reply string, n int) *int {
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.EqualFold(reply, "none") {
		return nil
	}

	start := -1
	for i, r := range reply {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}
	end := start
	for end < len(reply) && reply[end] >= '0' && reply[end] <= '9' {
		end++
	}
	idx, err := strconv.Atoi(reply[start:end])
	if err != nil || idx < 0 || idx >= n {
		return nil
	}
	return &idx
}
