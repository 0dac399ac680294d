// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package scraper

import (
	"errors"
	"sync"
	"time"

	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/metrics"
)

// LockHolderKind classifies who is holding the search lock.
type LockHolderKind string

const (
	LockHolderTask      LockHolderKind = "task"
	LockHolderAPIToken  LockHolderKind = "api_token"
	LockHolderScheduler LockHolderKind = "scheduler"
)

// LockHolder identifies the current owner of the search lock. Modeling
// the holder as a typed value keeps release provably matched to acquire.
type LockHolder struct {
	Kind LockHolderKind
	ID   string
}

// ErrScraperNotFound is returned when no adapter matches a provider name.
var ErrScraperNotFound = errors.New("scraper: provider not registered")

// Registry holds the configured provider adapters and the process-wide,
// non-reentrant search lock serializing expensive search operations.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]Scraper
	order    []string

	lockMu sync.Mutex
	holder *LockHolder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]Scraper)}
}

// Register adds an adapter. Registration order is preserved and used as
// the default display order.
func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.ProviderName()
	if _, exists := r.scrapers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.scrapers[name] = s
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Scraper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[name]
	if !ok {
		return nil, ErrScraperNotFound
	}
	return s, nil
}

// All returns every adapter in registration order.
func (r *Registry) All() []Scraper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scraper, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.scrapers[name])
	}
	return out
}

// Names returns every provider name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Quota returns the declared per-window quota of a provider, or nil for
// unlimited.
func (r *Registry) Quota(name string) *int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[name]
	if !ok {
		return nil
	}
	if qp, ok := s.(QuotaProvider); ok {
		q := qp.RateLimitQuota()
		return &q
	}
	return nil
}

// AcquireSearchLock takes the process-wide search lock for holder.
// Returns false when the lock is already held (including by the same
// holder: the lock is non-reentrant).
func (r *Registry) AcquireSearchLock(holder LockHolder) bool {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	if r.holder != nil {
		logging.Debug().
			Str("held_by", r.holder.ID).
			Str("requested_by", holder.ID).
			Msg("search lock busy")
		return false
	}
	h := holder
	r.holder = &h
	return true
}

// ReleaseSearchLock releases the lock if holder matches the recorded
// owner; a mismatched release is refused.
func (r *Registry) ReleaseSearchLock(holder LockHolder) bool {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	if r.holder == nil || *r.holder != holder {
		logging.Warn().Str("requested_by", holder.ID).Msg("mismatched search lock release refused")
		return false
	}
	r.holder = nil
	return true
}

// SearchLockHolder returns the current holder, or nil when free.
func (r *Registry) SearchLockHolder() *LockHolder {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	if r.holder == nil {
		return nil
	}
	h := *r.holder
	return &h
}

// ObserveSearchDuration records one adapter search timing.
func (r *Registry) ObserveSearchDuration(provider string, d time.Duration) {
	metrics.ProviderSearchDuration.WithLabelValues(provider).Observe(d.Seconds())
}
