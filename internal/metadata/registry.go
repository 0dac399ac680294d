// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package metadata

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quzard/danmu-hub/internal/logging"
	"github.com/quzard/danmu-hub/internal/models"
)

// ErrSourceNotFound is returned when no adapter matches a source name.
var ErrSourceNotFound = errors.New("metadata: source not registered")

// Registry holds the configured catalogue adapters.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds an adapter. Registration order is the default priority.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if _, exists := r.sources[name]; !exists {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
}

// Get returns the adapter for a source name.
func (r *Registry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[strings.ToLower(name)]
	if !ok {
		return nil, ErrSourceNotFound
	}
	return s, nil
}

// Names returns every source name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Ordered returns the adapters sorted by a comma-separated priority list
// of source names; sources not named keep registration order after the
// prioritized ones.
func (r *Registry) Ordered(priority string) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.order))
	var out []Source
	for _, name := range strings.Split(priority, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if s, ok := r.sources[name]; ok && !seen[name] {
			out = append(out, s)
			seen[name] = true
		}
	}
	for _, name := range r.order {
		if !seen[name] {
			out = append(out, r.sources[name])
		}
	}
	return out
}

// SearchAliases concurrently searches every source for title and collects
// the candidate alias strings (titles, original titles and alternative
// titles of all matches). Per-source failures are logged and skipped.
func (r *Registry) SearchAliases(ctx context.Context, title string) []string {
	sources := r.Ordered("")

	var mu sync.Mutex
	var aliases []string
	seen := make(map[string]bool)
	add := func(names ...string) {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			aliases = append(aliases, n)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			results, err := src.Search(gctx, title, nil)
			if err != nil {
				logging.Debug().Err(err).Str("source", src.Name()).Msg("alias search failed")
				return nil
			}
			for _, res := range results {
				add(res.Title)
				add(res.OriginalTitle)
				add(res.Aliases...)
			}
			return nil
		})
	}
	g.Wait()
	return aliases
}

// FirstChineseTitle walks the sources in priority order and returns the
// first Chinese title found for the given work title, or empty.
func (r *Registry) FirstChineseTitle(ctx context.Context, title, priority string, isChinese func(string) bool) string {
	for _, src := range r.Ordered(priority) {
		results, err := src.Search(ctx, title, nil)
		if err != nil {
			logging.Debug().Err(err).Str("source", src.Name()).Msg("name conversion search failed")
			continue
		}
		for _, res := range results {
			if isChinese(res.Title) {
				return res.Title
			}
			for _, alias := range res.Aliases {
				if isChinese(alias) {
					return alias
				}
			}
		}
	}
	return ""
}

// ReverseLookup asks the named source for a Chinese title via external
// ids. Returns empty when the source has no reverse-lookup capability.
func (r *Registry) ReverseLookup(ctx context.Context, sourceName string, ids models.MetadataIDs, mediaType *models.MediaType) string {
	src, err := r.Get(sourceName)
	if err != nil {
		return ""
	}
	rl, ok := src.(ReverseLookupProvider)
	if !ok {
		return ""
	}
	cn, err := rl.ChineseTitle(ctx, ids, mediaType)
	if err != nil {
		logging.Debug().Err(err).Str("source", sourceName).Msg("reverse lookup failed")
		return ""
	}
	return cn
}
