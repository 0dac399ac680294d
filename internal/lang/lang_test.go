// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package lang

import "testing"

func TestIsChinese(t *testing.T) {
	tests := []struct {
		title string
		want  bool
	}{
		{"进击的巨人", true},
		{"进击的巨人 第二季", true},
		{"Attack on Titan", false},
		{"進撃の巨人", false},
		{"ソードアート・オンライン", false},
		{"刀剑神域 Sword Art Online", true},
		{"", false},
		{"2023", false},
	}
	for _, tt := range tests {
		if got := IsChinese(tt.title); got != tt.want {
			t.Errorf("IsChinese(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}

func TestContainsHan(t *testing.T) {
	if !ContainsHan("進撃の巨人") {
		t.Error("kanji should count as Han")
	}
	if ContainsHan("plain ascii") {
		t.Error("ascii has no Han")
	}
}
