// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package recognizer

import (
	"strings"
	"testing"
)

func TestPreSearchRewrite(t *testing.T) {
	r := New()
	warnings := r.Update(`
# final season airs as season 4 with continuous numbering
pre: 进击的巨人 最终季 => 进击的巨人 season=4 offset=-59
pre: \s*\(TV\)$ =>
`)
	if len(warnings) != 0 {
		t.Fatalf("warnings: %v", warnings)
	}

	episode := 60
	title, season, ep := r.PreSearch("进击的巨人 最终季", nil, &episode)
	if title != "进击的巨人" {
		t.Errorf("title = %q", title)
	}
	if season == nil || *season != 4 {
		t.Errorf("season = %v, want 4", season)
	}
	if ep == nil || *ep != 1 {
		t.Errorf("episode = %v, want 1", ep)
	}

	title, _, _ = r.PreSearch("某动画 (TV)", nil, nil)
	if title != "某动画" {
		t.Errorf("suffix strip: title = %q", title)
	}
}

func TestTransformEpisode(t *testing.T) {
	r := New()
	r.Update("episode: 某长篇 offset=-100")

	if got := r.TransformEpisode("某长篇", 101); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
	if got := r.TransformEpisode("别的作品", 101); got != 101 {
		t.Errorf("unmatched title transformed: %d", got)
	}
}

func TestPostStoreAndBlock(t *testing.T) {
	r := New()
	r.Update(`
store: 【.*?】 =>
block: 预告|PV
`)

	if got := r.PostStore("【新番】某动画"); got != "某动画" {
		t.Errorf("PostStore = %q", got)
	}
	if !r.Blocked("某动画 PV") {
		t.Error("PV title should be blocked")
	}
	if r.Blocked("某动画 第1集") {
		t.Error("normal title blocked")
	}
}

func TestCompileWarnings(t *testing.T) {
	_, warnings := Compile(`
pre: [bad => x
pre: 标题 => 新标题
pre: 标题 => 新标题
episode: 没有偏移
nonsense line
unknown: 标题
`)
	if len(warnings) != 5 {
		t.Fatalf("got %d warnings, want 5: %v", len(warnings), warnings)
	}
	joined := strings.Join(warnings, "\n")
	for _, want := range []string{"bad regexp", "shadowed", "without offset", "missing phase", "unknown phase"} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q: %v", want, warnings)
		}
	}
}

func TestZeroValueAppliesNoRules(t *testing.T) {
	r := New()
	title, season, ep := r.PreSearch("任意标题", nil, nil)
	if title != "任意标题" || season != nil || ep != nil {
		t.Errorf("empty rule set rewrote input: %q %v %v", title, season, ep)
	}
	if r.Blocked("任意标题") {
		t.Error("empty rule set blocked a title")
	}
}
