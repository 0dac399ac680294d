// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/models"
)

// Reserved bucket keys.
const (
	GlobalKey         = "__global__"
	FallbackMatchKey  = "__fallback_match__"
	FallbackSearchKey = "__fallback_search__"

	fallbackProviderPrefix = "fallback:"
)

// FallbackTotalLimit is the combined cap of the match and search fallback
// buckets per window.
const FallbackTotalLimit int64 = 50

// safeBlockRetryAfter is the retry-after reported while in safe-block.
const safeBlockRetryAfter = time.Hour

// FallbackKind selects a fallback bucket.
type FallbackKind string

const (
	FallbackMatch  FallbackKind = "match"
	FallbackSearch FallbackKind = "search"
)

// Error reports a denied check together with when to retry.
type Error struct {
	Key        string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter.Round(time.Second))
}

// Store is the persistence the limiter needs, satisfied by *database.DB.
// Counts are persisted so limits survive restarts.
type Store interface {
	GetRateLimitState(ctx context.Context, key string) (models.RateLimitState, error)
	IncrementRateLimit(ctx context.Context, keys ...string) error
	ResetAllRateLimits(ctx context.Context, resetTime time.Time) error
	ListRateLimitStates(ctx context.Context) ([]models.RateLimitState, error)
}

// QuotaFunc resolves a provider's declared quota; nil means unlimited.
type QuotaFunc func(provider string) *int64

// Limiter enforces the global, per-provider and fallback buckets.
type Limiter struct {
	store     Store
	quota     QuotaFunc
	policyDir string

	mu        sync.RWMutex
	policy    *Policy
	safeBlock bool
}

// New creates a limiter and loads the policy from policyDir. A load
// failure is not fatal: the limiter starts in safe-block.
func New(store Store, quota QuotaFunc, policyDir string) *Limiter {
	l := &Limiter{store: store, quota: quota, policyDir: policyDir}
	l.Reload()
	return l
}

// Reload re-reads the signed policy. On any failure the limiter enters
// safe-block and every check fails until a valid policy is loaded.
func (l *Limiter) Reload() {
	policy, err := LoadPolicy(l.policyDir)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.policy = nil
		l.safeBlock = true
		logging.Error().Err(err).Str("dir", l.policyDir).
			Msg("rate limit policy verification failed, entering safe-block")
		return
	}
	l.policy = policy
	l.safeBlock = false
	logging.Info().
		Bool("enabled", policy.Enabled).
		Int64("global_limit", policy.GlobalLimit).
		Str("global_period", policy.GlobalPeriod).
		Msg("rate limit policy loaded")
}

// SafeBlocked reports whether the limiter is refusing all requests.
func (l *Limiter) SafeBlocked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.safeBlock
}

func (l *Limiter) snapshot() (*Policy, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy, l.safeBlock
}

// resetIfElapsed resets every bucket when the window has passed, and
// returns the (possibly refreshed) global state.
func (l *Limiter) resetIfElapsed(ctx context.Context, policy *Policy) (models.RateLimitState, error) {
	global, err := l.store.GetRateLimitState(ctx, GlobalKey)
	if err != nil {
		return global, err
	}
	period := time.Duration(policy.PeriodSeconds()) * time.Second
	now := time.Now().UTC()
	if now.Sub(global.LastResetTime) >= period {
		if err := l.store.ResetAllRateLimits(ctx, now); err != nil {
			return global, err
		}
		global = models.RateLimitState{Key: GlobalKey, LastResetTime: now}
	}
	return global, nil
}

func retryAfter(policy *Policy, global models.RateLimitState) time.Duration {
	period := time.Duration(policy.PeriodSeconds()) * time.Second
	elapsed := time.Since(global.LastResetTime)
	if elapsed >= period {
		return time.Second
	}
	return period - elapsed
}

// Check verifies that one more request to provider is allowed. It never
// increments; call Increment only after a successful fetch.
func (l *Limiter) Check(ctx context.Context, provider string) error {
	policy, blocked := l.snapshot()
	if blocked {
		return &Error{Key: provider, RetryAfter: safeBlockRetryAfter}
	}
	if !policy.Enabled {
		return nil
	}

	global, err := l.resetIfElapsed(ctx, policy)
	if err != nil {
		return err
	}
	if policy.GlobalLimit > 0 && global.RequestCount >= policy.GlobalLimit {
		return &Error{Key: GlobalKey, RetryAfter: retryAfter(policy, global)}
	}

	if quota := l.quota(provider); quota != nil {
		state, err := l.store.GetRateLimitState(ctx, provider)
		if err != nil {
			return err
		}
		if state.RequestCount >= *quota {
			return &Error{Key: provider, RetryAfter: retryAfter(policy, global)}
		}
	}
	return nil
}

// Increment records one successful fetch against the global bucket and
// the provider bucket. Issued only after a non-empty response body.
func (l *Limiter) Increment(ctx context.Context, provider string) error {
	policy, blocked := l.snapshot()
	if blocked || !policy.Enabled {
		return nil
	}
	return l.store.IncrementRateLimit(ctx, GlobalKey, provider)
}

func fallbackKey(kind FallbackKind) string {
	if kind == FallbackMatch {
		return FallbackMatchKey
	}
	return FallbackSearchKey
}

// CheckFallback verifies a request in one of the fallback buckets. The
// two buckets share a combined cap per window.
func (l *Limiter) CheckFallback(ctx context.Context, kind FallbackKind, provider string) error {
	policy, blocked := l.snapshot()
	if blocked {
		return &Error{Key: fallbackKey(kind), RetryAfter: safeBlockRetryAfter}
	}
	if !policy.Enabled {
		return nil
	}

	global, err := l.resetIfElapsed(ctx, policy)
	if err != nil {
		return err
	}
	match, err := l.store.GetRateLimitState(ctx, FallbackMatchKey)
	if err != nil {
		return err
	}
	search, err := l.store.GetRateLimitState(ctx, FallbackSearchKey)
	if err != nil {
		return err
	}
	if match.RequestCount+search.RequestCount >= FallbackTotalLimit {
		return &Error{Key: fallbackKey(kind), RetryAfter: retryAfter(policy, global)}
	}
	return nil
}

// IncrementFallback records one successful fallback fetch.
func (l *Limiter) IncrementFallback(ctx context.Context, kind FallbackKind, provider string) error {
	policy, blocked := l.snapshot()
	if blocked || !policy.Enabled {
		return nil
	}
	return l.store.IncrementRateLimit(ctx, fallbackKey(kind), fallbackProviderPrefix+provider)
}

// Status assembles the introspection shape served by the control API.
// providers lists every provider name the registry knows, in order.
func (l *Limiter) Status(ctx context.Context, providers []string) (*models.RateLimitStatus, error) {
	policy, blocked := l.snapshot()

	status := &models.RateLimitStatus{
		FallbackTotalLimit: FallbackTotalLimit,
	}
	if blocked {
		status.GlobalPeriod = "hour"
		status.SecondsUntilReset = int64(safeBlockRetryAfter.Seconds())
		return status, nil
	}

	status.GlobalEnabled = policy.Enabled
	status.GlobalLimit = policy.GlobalLimit
	status.GlobalPeriod = policy.GlobalPeriod

	states, err := l.store.ListRateLimitStates(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]models.RateLimitState, len(states))
	for _, s := range states {
		byKey[s.Key] = s
	}

	global := byKey[GlobalKey]
	status.GlobalRequestCount = global.RequestCount
	status.FallbackMatchCount = byKey[FallbackMatchKey].RequestCount
	status.FallbackSearchCount = byKey[FallbackSearchKey].RequestCount
	status.FallbackTotalCount = status.FallbackMatchCount + status.FallbackSearchCount

	if !global.LastResetTime.IsZero() {
		remaining := time.Duration(policy.PeriodSeconds())*time.Second - time.Since(global.LastResetTime)
		if remaining < 0 {
			remaining = 0
		}
		status.SecondsUntilReset = int64(remaining.Seconds())
	}

	for _, name := range providers {
		direct := byKey[name].RequestCount
		fallback := byKey[fallbackProviderPrefix+name].RequestCount
		quota := "∞"
		if q := l.quota(name); q != nil {
			quota = fmt.Sprintf("%d", *q)
		}
		status.Providers = append(status.Providers, models.ProviderRateLimitStatus{
			ProviderName:  name,
			DirectCount:   direct,
			FallbackCount: fallback,
			RequestCount:  direct + fallback,
			Quota:         quota,
		})
	}
	return status, nil
}

// IsFallbackProviderKey reports whether a persisted bucket key belongs to
// a provider's fallback counter.
func IsFallbackProviderKey(key string) bool {
	return strings.HasPrefix(key, fallbackProviderPrefix)
}
