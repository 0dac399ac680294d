// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetCache stores a payload under key with the given TTL. The provider
// tag allows bulk invalidation when a provider's results go stale.
func (db *DB) SetCache(ctx context.Context, key, provider, payload string, ttl time.Duration) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO cache (key, provider, payload, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET provider = excluded.provider,
			payload = excluded.payload, expires_at = excluded.expires_at`,
		key, provider, payload, time.Now().UTC().Add(ttl).Unix())
	return err
}

// GetCache reads a payload; expired or missing entries return ("", false).
func (db *DB) GetCache(ctx context.Context, key string) (string, bool, error) {
	var (
		payload   string
		expiresAt int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache WHERE key = ?`, key).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if time.Now().UTC().Unix() >= expiresAt {
		return "", false, nil
	}
	return payload, true, nil
}

// DeleteCacheByProvider drops every entry tagged with the provider.
func (db *DB) DeleteCacheByProvider(ctx context.Context, provider string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM cache WHERE provider = ?`, provider)
	return err
}

// PruneExpiredCache removes entries past their expiry; returns the count.
func (db *DB) PruneExpiredCache(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM cache WHERE expires_at <= ?`, time.Now().UTC().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
