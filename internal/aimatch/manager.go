// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package aimatch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/quzard/danmu-hub/internal/logging"
)

// Settings is the live AI configuration read from the config store.
type Settings struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Prompts  Prompts
}

// ErrNotConfigured is returned when the AI settings are incomplete.
var ErrNotConfigured = errors.New("aimatch: provider not configured")

// Manager caches a live matcher keyed by a hash of the client settings.
// A prompt-only change hot-patches the cached matcher instead of
// reconstructing the client.
type Manager struct {
	mu         sync.Mutex
	matcher    *Matcher
	clientHash string
	promptHash string
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

func hashOf(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Matcher returns the matcher for the given settings, reusing the
// cached client when only prompts changed.
func (mgr *Manager) Matcher(s Settings) (*Matcher, error) {
	if s.APIKey == "" || s.Model == "" {
		return nil, ErrNotConfigured
	}

	clientHash := hashOf(s.Provider, s.APIKey, s.BaseURL, s.Model)
	promptHash := hashOf(s.Prompts.Match, s.Prompts.Metadata)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.matcher != nil && mgr.clientHash == clientHash {
		if mgr.promptHash != promptHash {
			mgr.matcher.UpdatePrompts(s.Prompts)
			mgr.promptHash = promptHash
			logging.Debug().Msg("ai matcher prompts hot-patched")
		}
		return mgr.matcher, nil
	}

	opts := []openai.Option{
		openai.WithToken(s.APIKey),
		openai.WithModel(s.Model),
	}
	if s.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(s.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}

	mgr.matcher = &Matcher{llm: llm, prompts: s.Prompts}
	mgr.clientHash = clientHash
	mgr.promptHash = promptHash
	logging.Info().Str("model", s.Model).Msg("ai matcher constructed")
	return mgr.matcher, nil
}
