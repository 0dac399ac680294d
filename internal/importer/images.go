// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package importer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// maxPosterBytes caps a single poster download.
const maxPosterBytes = 10 << 20

// PosterStore downloads cover images into a local directory. It
// implements ImageDownloader.
type PosterStore struct {
	dir    string
	client *http.Client
}

// NewPosterStore creates the poster directory if needed.
func NewPosterStore(dir string) (*PosterStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("poster store: %w", err)
	}
	return &PosterStore{dir: dir, client: &http.Client{Timeout: 30 * time.Second}}, nil
}

// Download fetches url and returns the local file path.
func (p *PosterStore) Download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("poster download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPosterBytes))
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("poster download: empty body")
	}

	path := filepath.Join(p.dir, uuid.New().String()+posterExt(resp.Header.Get("Content-Type")))
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func posterExt(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
