// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package aimatch

import (
	"context"
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/quzard/danmu-hub/internal/models"
)

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.reply}},
	}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func candidates(n int) []models.ProviderSearchInfo {
	out := make([]models.ProviderSearchInfo, n)
	for i := range out {
		out[i] = models.ProviderSearchInfo{Provider: "custom", MediaID: "m", Title: "标题"}
	}
	return out
}

func TestSelectBestMatch(t *testing.T) {
	m := &Matcher{llm: &fakeLLM{reply: "1"}}
	idx := m.SelectBestMatch(context.Background(), QueryInfo{Title: "标题"}, candidates(3), nil)
	if idx == nil || *idx != 1 {
		t.Fatalf("idx = %v, want 1", idx)
	}
}

func TestSelectBestMatchDegradesToNil(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeLLM
	}{
		{"call error", &fakeLLM{err: errors.New("upstream down")}},
		{"none reply", &fakeLLM{reply: "none"}},
		{"out of range", &fakeLLM{reply: "7"}},
		{"no digits", &fakeLLM{reply: "无法判断"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Matcher{llm: tt.llm}
			if idx := m.SelectBestMatch(context.Background(), QueryInfo{}, candidates(3), nil); idx != nil {
				t.Errorf("idx = %d, want nil", *idx)
			}
		})
	}
}

func TestSelectBestMatchEmptyCandidates(t *testing.T) {
	m := &Matcher{llm: &fakeLLM{reply: "0"}}
	if idx := m.SelectBestMatch(context.Background(), QueryInfo{}, nil, nil); idx != nil {
		t.Errorf("idx = %d, want nil", *idx)
	}
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		reply string
		n     int
		want  *int
	}{
		{"2", 5, ptr(2)},
		{"序号: 3", 5, ptr(3)},
		{"  0  ", 1, ptr(0)},
		{"none", 5, nil},
		{"None", 5, nil},
		{"5", 5, nil},
		{"-1", 5, ptr(1)},
		{"", 5, nil},
	}
	for _, tt := range tests {
		got := parseIndex(tt.reply, tt.n)
		switch {
		case got == nil && tt.want != nil:
			t.Errorf("parseIndex(%q) = nil, want %d", tt.reply, *tt.want)
		case got != nil && tt.want == nil:
			t.Errorf("parseIndex(%q) = %d, want nil", tt.reply, *got)
		case got != nil && tt.want != nil && *got != *tt.want:
			t.Errorf("parseIndex(%q) = %d, want %d", tt.reply, *got, *tt.want)
		}
	}
}

func ptr(n int) *int { return &n }

func TestManagerReusesClientOnPromptChange(t *testing.T) {
	mgr := NewManager()
	settings := Settings{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o-mini", Prompts: Prompts{Match: "a"}}

	first, err := mgr.Matcher(settings)
	if err != nil {
		t.Fatalf("Matcher: %v", err)
	}

	settings.Prompts.Match = "b"
	second, err := mgr.Matcher(settings)
	if err != nil {
		t.Fatalf("Matcher after prompt change: %v", err)
	}
	if first != second {
		t.Error("prompt-only change should reuse the client")
	}
	if second.currentPrompts().Match != "b" {
		t.Error("prompts not hot-patched")
	}

	settings.Model = "gpt-4o"
	third, err := mgr.Matcher(settings)
	if err != nil {
		t.Fatalf("Matcher after model change: %v", err)
	}
	if third == second {
		t.Error("model change should reconstruct the client")
	}
}

func TestManagerNotConfigured(t *testing.T) {
	mgr := NewManager()
	if _, err := mgr.Matcher(Settings{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}
