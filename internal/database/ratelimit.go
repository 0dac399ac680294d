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

	"github.com/quzard/danmu-hub/internal/models"
)

// GetRateLimitState reads one bucket. A missing row is materialized as a
// zero-count bucket reset at now, so callers never special-case absence.
func (db *DB) GetRateLimitState(ctx context.Context, key string) (models.RateLimitState, error) {
	var (
		s     models.RateLimitState
		reset int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT key, request_count, last_reset_time FROM rate_limit_state WHERE key = ?`, key).
		Scan(&s.Key, &s.RequestCount, &reset)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now().UTC()
		if _, err := db.conn.ExecContext(ctx,
			`INSERT INTO rate_limit_state (key, request_count, last_reset_time) VALUES (?, 0, ?)
			 ON CONFLICT(key) DO NOTHING`, key, now.Unix()); err != nil {
			return s, err
		}
		return models.RateLimitState{Key: key, LastResetTime: now}, nil
	}
	if err != nil {
		return s, err
	}
	s.LastResetTime = time.Unix(reset, 0).UTC()
	return s, nil
}

// IncrementRateLimit bumps the given bucket keys atomically. Rows are
// created on first use.
func (db *DB) IncrementRateLimit(ctx context.Context, keys ...string) error {
	now := time.Now().UTC().Unix()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rate_limit_state (key, request_count, last_reset_time) VALUES (?, 1, ?)
				 ON CONFLICT(key) DO UPDATE SET request_count = request_count + 1`,
				key, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetAllRateLimits zeroes every bucket and stamps the reset time.
// Executed as one bulk UPDATE inside a short transaction.
func (db *DB) ResetAllRateLimits(ctx context.Context, resetTime time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE rate_limit_state SET request_count = 0, last_reset_time = ?`,
		resetTime.UTC().Unix())
	return err
}

// ListRateLimitStates returns every persisted bucket.
func (db *DB) ListRateLimitStates(ctx context.Context) ([]models.RateLimitState, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT key, request_count, last_reset_time FROM rate_limit_state ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RateLimitState
	for rows.Next() {
		var (
			s     models.RateLimitState
			reset int64
		)
		if err := rows.Scan(&s.Key, &s.RequestCount, &reset); err != nil {
			return nil, err
		}
		s.LastResetTime = time.Unix(reset, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
