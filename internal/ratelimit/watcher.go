// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quzard/danmu-hub/internal/logging"
)

// Watch reloads the policy whenever a policy file changes. It blocks
// until ctx is cancelled, so run it in its own goroutine (or as a
// supervised service). Reloads are debounced because editors and rsync
// emit bursts of events per file.
func (l *Limiter) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.policyDir); err != nil {
		return err
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !policyFileEvent(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			logging.Info().Str("dir", l.policyDir).Msg("rate limit policy files changed, reloading")
			l.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn().Err(err).Msg("policy watcher error")
		}
	}
}

func policyFileEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
		return false
	}
	for _, name := range []string{PolicyFileName, SignatureFileName, PublicKeyFileName} {
		if strings.HasSuffix(event.Name, name) {
			return true
		}
	}
	return false
}
