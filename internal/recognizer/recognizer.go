// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package recognizer compiles operator-maintained title recognition
// rules and applies them in four phases: pre-search rewrite, in-flight
// episode transform, storage post-process and block lists.
//
// Rules are plain text, one per line, applied in file order:
//
//	pre: <regexp> => <replacement> [season=<n>] [offset=<n>]
//	episode: <regexp> offset=<n>
//	store: <regexp> => <replacement>
//	block: <regexp>
//
// Lines starting with # are comments. Malformed lines produce warnings
// and are skipped; an update never fails outright.
package recognizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/quzard/danmu-hub/internal/logging"
)

type rewriteRule struct {
	pattern     *regexp.Regexp
	replacement string
	season      *int
	offset      int
}

type offsetRule struct {
	pattern *regexp.Regexp
	offset  int
}

// RuleSet is the compiled form of one rule document.
type RuleSet struct {
	pre      []rewriteRule
	inflight []offsetRule
	store    []rewriteRule
	block    []*regexp.Regexp
}

// Recognizer holds the live compiled rule set. Zero value is usable and
// applies no rules.
type Recognizer struct {
	mu    sync.RWMutex
	rules *RuleSet
}

// New returns a recognizer with an empty rule set.
func New() *Recognizer {
	return &Recognizer{rules: &RuleSet{}}
}

// Update recompiles from text and swaps the live rule set. The returned
// warnings list malformed or shadowed rules; warnings never abort the
// update.
func (r *Recognizer) Update(text string) []string {
	rules, warnings := Compile(text)
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
	if len(warnings) > 0 {
		logging.Warn().Int("count", len(warnings)).Msg("recognition rules compiled with warnings")
	}
	return warnings
}

// Compile parses a rule document into its compiled form.
func Compile(text string) (*RuleSet, []string) {
	rules := &RuleSet{}
	var warnings []string
	seen := make(map[string]int)

	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		phase, rest, found := strings.Cut(line, ":")
		if !found {
			warnings = append(warnings, fmt.Sprintf("line %d: missing phase prefix", lineNo))
			continue
		}
		phase = strings.TrimSpace(phase)
		rest = strings.TrimSpace(rest)

		if prev, dup := seen[phase+"\x00"+rest]; dup {
			warnings = append(warnings, fmt.Sprintf("line %d: shadowed by identical rule at line %d", lineNo, prev))
			continue
		}
		seen[phase+"\x00"+rest] = lineNo

		switch phase {
		case "pre", "store":
			rule, err := parseRewrite(rest, phase == "pre")
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("line %d: %v", lineNo, err))
				continue
			}
			if phase == "pre" {
				rules.pre = append(rules.pre, rule)
			} else {
				rules.store = append(rules.store, rule)
			}
		case "episode":
			pattern, opts := splitOptionsString(rest)
			re, err := regexp.Compile(pattern)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("line %d: bad regexp: %v", lineNo, err))
				continue
			}
			offset, ok := opts["offset"]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("line %d: episode rule without offset", lineNo))
				continue
			}
			rules.inflight = append(rules.inflight, offsetRule{pattern: re, offset: offset})
		case "block":
			re, err := regexp.Compile(rest)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("line %d: bad regexp: %v", lineNo, err))
				continue
			}
			rules.block = append(rules.block, re)
		default:
			warnings = append(warnings, fmt.Sprintf("line %d: unknown phase %q", lineNo, phase))
		}
	}
	return rules, warnings
}

func parseRewrite(rest string, allowOptions bool) (rewriteRule, error) {
	pattern, replacement, found := strings.Cut(rest, "=>")
	if !found {
		return rewriteRule{}, fmt.Errorf("missing => separator")
	}
	replacement = strings.TrimSpace(replacement)

	rule := rewriteRule{replacement: replacement}
	if allowOptions {
		var opts map[string]int
		rule.replacement, opts = splitOptionsString(replacement)
		if v, ok := opts["season"]; ok {
			season := v
			rule.season = &season
		}
		if v, ok := opts["offset"]; ok {
			rule.offset = v
		}
	}

	re, err := regexp.Compile(strings.TrimSpace(pattern))
	if err != nil {
		return rewriteRule{}, fmt.Errorf("bad regexp: %w", err)
	}
	rule.pattern = re
	return rule, nil
}

// splitOptionsString separates trailing key=int options from a pattern
// or replacement string.
func splitOptionsString(s string) (string, map[string]int) {
	opts := make(map[string]int)
	fields := strings.Fields(s)
	end := len(fields)
	for end > 0 {
		key, val, found := strings.Cut(fields[end-1], "=")
		if !found || (key != "season" && key != "offset") {
			break
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			break
		}
		opts[key] = n
		end--
	}
	return strings.Join(fields[:end], " "), opts
}

// PreSearch applies the pre-search rewrite phase: the first matching
// rule rewrites the title and may override season and shift episode.
func (r *Recognizer) PreSearch(title string, season, episode *int) (string, *int, *int) {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	for _, rule := range rules.pre {
		if !rule.pattern.MatchString(title) {
			continue
		}
		title = rule.pattern.ReplaceAllString(title, rule.replacement)
		if rule.season != nil {
			s := *rule.season
			season = &s
		}
		if rule.offset != 0 && episode != nil {
			e := *episode + rule.offset
			episode = &e
		}
		break
	}
	return strings.TrimSpace(title), season, episode
}

// TransformEpisode maps an incoming episode index to the canonical index
// for titles matched by an episode rule.
func (r *Recognizer) TransformEpisode(title string, episode int) int {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	for _, rule := range rules.inflight {
		if rule.pattern.MatchString(title) {
			return episode + rule.offset
		}
	}
	return episode
}

// PostStore applies the storage post-process phase to a title about to
// be persisted. All matching rules apply in order.
func (r *Recognizer) PostStore(title string) string {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	for _, rule := range rules.store {
		title = rule.pattern.ReplaceAllString(title, rule.replacement)
	}
	return strings.TrimSpace(title)
}

// Blocked reports whether a candidate title matches any block pattern.
func (r *Recognizer) Blocked(title string) bool {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	for _, re := range rules.block {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}
