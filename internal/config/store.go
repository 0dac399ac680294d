// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package config

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/quzard/danmu-hub/internal/logging"
)

// ValueStore is the persistence the runtime store needs, satisfied by
// *database.DB.
type ValueStore interface {
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value string) error
	EnsureConfigDefault(ctx context.Context, key, value, description string) error
}

// Kind is the declared type of a runtime config value.
type Kind string

const (
	KindBoolean Kind = "boolean"
	KindInteger Kind = "integer"
	KindString  Kind = "string"
	KindText    Kind = "text"
)

// Descriptor declares one runtime config key: its kind, default and
// human description. The descriptor table drives both validation and the
// operator-editable whitelist.
type Descriptor struct {
	Key         string
	Kind        Kind
	Default     string
	Description string
}

// Store is a process-wide read-through cache over the config table.
// Writes go to the store first and then invalidate the cached entry.
type Store struct {
	db ValueStore

	mu          sync.Mutex
	cache       map[string]string
	descriptors map[string]Descriptor
}

// NewStore creates the runtime config store.
func NewStore(db ValueStore) *Store {
	return &Store{
		db:          db,
		cache:       make(map[string]string),
		descriptors: make(map[string]Descriptor),
	}
}

// RegisterDefaults declares descriptors and creates their rows only if
// absent. Operator-set values are never overwritten.
func (s *Store) RegisterDefaults(ctx context.Context, descriptors []Descriptor) error {
	s.mu.Lock()
	for _, d := range descriptors {
		s.descriptors[d.Key] = d
	}
	s.mu.Unlock()

	for _, d := range descriptors {
		if err := s.db.EnsureConfigDefault(ctx, d.Key, d.Default, d.Description); err != nil {
			return fmt.Errorf("register default %s: %w", d.Key, err)
		}
	}
	return nil
}

// Get returns the value for key, falling back to def when the key is
// unset or the read fails.
func (s *Store) Get(ctx context.Context, key, def string) string {
	s.mu.Lock()
	if v, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()

	v, ok, err := s.db.GetConfigValue(ctx, key)
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("config read failed, using default")
		return def
	}
	if !ok {
		return def
	}

	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return v
}

// GetBool reads a boolean key.
func (s *Store) GetBool(ctx context.Context, key string, def bool) bool {
	v := s.Get(ctx, key, strconv.FormatBool(def))
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetInt reads an integer key.
func (s *Store) GetInt(ctx context.Context, key string, def int) int {
	v := s.Get(ctx, key, strconv.Itoa(def))
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Set validates the value against the key's descriptor (when one is
// registered), writes it through to the store, then invalidates the
// cached entry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	d, hasDescriptor := s.descriptors[key]
	s.mu.Unlock()

	if hasDescriptor {
		if err := validateValue(d.Kind, value); err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
	}
	if err := s.db.SetConfigValue(ctx, key, value); err != nil {
		return err
	}
	s.Invalidate(key)
	return nil
}

// Invalidate drops the cached entry for key.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}

// Editable reports whether the key was declared via RegisterDefaults;
// only declared keys may be changed through the control API.
func (s *Store) Editable(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.descriptors[key]
	return ok
}

func validateValue(kind Kind, value string) error {
	switch kind {
	case KindBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("expected boolean, got %q", value)
		}
	case KindInteger:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected integer, got %q", value)
		}
	case KindString, KindText:
		// any string is valid
	}
	return nil
}
