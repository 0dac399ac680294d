// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package search

import (
	"regexp"
	"strconv"
	"strings"
)

// keywordPattern strips a trailing season/episode marker from operator
// input, e.g. "鬼灭之刃 S02E03", "某动画 S3" or "某动画 E12".
var keywordPattern = regexp.MustCompile(`(?i)\s+(?:S(\d{1,2}))?(?:E(\d{1,4}))?\s*$`)

// ParseKeyword extracts title, season and episode from operator input.
// Input without a marker returns the trimmed title and nil for both.
func ParseKeyword(input string) (string, *int, *int) {
	input = strings.TrimSpace(input)

	m := keywordPattern.FindStringSubmatchIndex(input)
	if m == nil {
		return input, nil, nil
	}
	sub := keywordPattern.FindStringSubmatch(input[m[0]:m[1]])
	if sub[1] == "" && sub[2] == "" {
		return input, nil, nil
	}

	title := strings.TrimSpace(input[:m[0]])
	if title == "" {
		return input, nil, nil
	}

	var season, episode *int
	if sub[1] != "" {
		if n, err := strconv.Atoi(sub[1]); err == nil {
			season = &n
		}
	}
	if sub[2] != "" {
		if n, err := strconv.Atoi(sub[2]); err == nil {
			episode = &n
		}
	}
	return title, season, episode
}
