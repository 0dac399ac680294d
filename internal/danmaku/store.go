// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package danmaku stores comment payloads out of row as JSON files under
// the data directory, referenced by episode.danmaku_file_path.
package danmaku

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/renameio/v2"

	"github.com/quzard/danmu-hub/internal/models"
)

// Store writes and reads episode comment blobs. Writes are atomic
// (write-to-temp then rename) so a crash never leaves a half-written
// file behind a committed episode row.
type Store struct {
	baseDir string
}

// NewStore creates a blob store rooted at <dataDir>/danmaku.
func NewStore(dataDir string) (*Store, error) {
	base := filepath.Join(dataDir, "danmaku")
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("create danmaku directory: %w", err)
	}
	return &Store{baseDir: base}, nil
}

// Path returns the blob path for an episode without touching the disk.
func (s *Store) Path(sourceID int64, episodeIndex int) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%d", sourceID), fmt.Sprintf("%d.json", episodeIndex))
}

// Write persists the comment list for an episode and returns the file
// path and the number of comments written.
func (s *Store) Write(sourceID int64, episodeIndex int, comments []models.Comment) (string, int, error) {
	path := s.Path(sourceID, episodeIndex)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", 0, fmt.Errorf("create source directory: %w", err)
	}

	data, err := json.Marshal(comments)
	if err != nil {
		return "", 0, fmt.Errorf("encode comments: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o640); err != nil {
		return "", 0, fmt.Errorf("write danmaku file: %w", err)
	}
	return path, len(comments), nil
}

// Read loads the comment list referenced by path.
func (s *Store) Read(path string) ([]models.Comment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read danmaku file: %w", err)
	}
	var comments []models.Comment
	if err := json.Unmarshal(data, &comments); err != nil {
		return nil, fmt.Errorf("decode danmaku file: %w", err)
	}
	return comments, nil
}

// Remove deletes the blob for an episode if it exists.
func (s *Store) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
