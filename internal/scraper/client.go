// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/quzard/danmu-hub/internal/logging"
)

// Client is the shared HTTP helper for provider and metadata adapters:
// per-call deadline, body size cap, and a circuit breaker per client so
// a dead upstream fails fast instead of burning the timeout on every
// episode of an import.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	name    string
}

// maxBodySize caps provider responses; danmaku payloads are large but a
// pathological upstream must not exhaust memory.
const maxBodySize = 64 << 20

// NewClient creates a breaker-wrapped HTTP client for one upstream.
func NewClient(name string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 60 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("upstream", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		name:    name,
	}
}

// GetJSON fetches url and returns the response body. Non-2xx statuses
// and empty bodies are errors so the breaker sees real upstream health.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "danmu-hub/1.0")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s: unexpected status %d", c.name, resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("%s: read body: %w", c.name, err)
		}
		if len(body) == 0 {
			return nil, fmt.Errorf("%s: empty response body", c.name)
		}
		return body, nil
	})
}
