// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package scraper

import (
	"context"
	"encoding/xml"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/quzard/danmu-hub/internal/models"
)

// CustomProviderName is the provider reserved for operator-supplied
// payloads (raw danmaku XML or plain text).
const CustomProviderName = "custom"

// Custom accepts raw payloads staged by the manual import flow instead
// of fetching from a network upstream. Search always returns nothing;
// GetComments parses a previously staged payload.
type Custom struct {
	mu     sync.Mutex
	staged map[string]string
}

// NewCustom creates the custom provider.
func NewCustom() *Custom {
	return &Custom{staged: make(map[string]string)}
}

// ProviderName implements Scraper.
func (c *Custom) ProviderName() string { return CustomProviderName }

// StagePayload stores a raw payload and returns the synthetic episode id
// that GetComments will accept exactly once.
func (c *Custom) StagePayload(content string) string {
	id := uuid.New().String()
	c.mu.Lock()
	c.staged[id] = content
	c.mu.Unlock()
	return id
}

// Search implements Scraper; the custom provider is not searchable.
func (c *Custom) Search(ctx context.Context, titles []string, episode *EpisodeInfo) ([]models.ProviderSearchInfo, error) {
	return nil, nil
}

// GetEpisodes implements Scraper; the custom provider has no episode list.
func (c *Custom) GetEpisodes(ctx context.Context, mediaID string, targetEpisode *int, dbMediaType *models.MediaType) ([]models.ProviderEpisodeInfo, error) {
	return nil, nil
}

// GetComments parses the staged payload for id. The payload is consumed:
// a second call with the same id returns nil.
func (c *Custom) GetComments(ctx context.Context, providerEpisodeID string, progress ProgressFunc) ([]models.Comment, error) {
	c.mu.Lock()
	content, ok := c.staged[providerEpisodeID]
	delete(c.staged, providerEpisodeID)
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if progress != nil {
		progress(50, "解析弹幕内容")
	}
	return ParsePayload(content), nil
}

// danmakuXML matches the common <d p="time,mode,...">text</d> comment
// file format.
type danmakuXML struct {
	XMLName xml.Name     `xml:"i"`
	Entries []danmakuRow `xml:"d"`
}

type danmakuRow struct {
	P    string `xml:"p,attr"`
	Text string `xml:",chardata"`
}

// ParsePayload decodes raw danmaku content. XML documents use the
// <d p="..."> format; anything else is treated as one comment per line
// at timestamp zero.
func ParsePayload(content string) []models.Comment {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "<") {
		var doc danmakuXML
		if err := xml.Unmarshal([]byte(trimmed), &doc); err == nil && len(doc.Entries) > 0 {
			comments := make([]models.Comment, 0, len(doc.Entries))
			for _, row := range doc.Entries {
				text := strings.TrimSpace(row.Text)
				if text == "" {
					continue
				}
				var ts float64
				if idx := strings.IndexByte(row.P, ','); idx > 0 {
					ts, _ = strconv.ParseFloat(row.P[:idx], 64)
				} else if row.P != "" {
					ts, _ = strconv.ParseFloat(row.P, 64)
				}
				comments = append(comments, models.Comment{Timestamp: ts, Style: row.P, Text: text})
			}
			return comments
		}
	}

	var comments []models.Comment
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		comments = append(comments, models.Comment{Text: line})
	}
	return comments
}
