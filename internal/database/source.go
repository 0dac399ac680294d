// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quzard/danmu-hub/internal/models"
)

const sourceColumns = `id, anime_id, provider_name, media_id, favorited,
	incremental_refresh_enabled, incremental_refresh_failures, created_at`

func scanSource(row interface{ Scan(...any) error }) (*models.Source, error) {
	var (
		s         models.Source
		createdAt int64
	)
	err := row.Scan(&s.ID, &s.AnimeID, &s.ProviderName, &s.MediaID, &s.Favorited,
		&s.IncrementalRefreshEnabled, &s.IncrementalRefreshFailures, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &s, nil
}

// GetSourceByProvider looks up the source binding (provider, media_id).
func (db *DB) GetSourceByProvider(ctx context.Context, provider, mediaID string) (*models.Source, error) {
	return scanSource(db.conn.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM anime_source WHERE provider_name = ? AND media_id = ?`,
		provider, mediaID))
}

// GetSourceByID fetches one source by primary key.
func (db *DB) GetSourceByID(ctx context.Context, id int64) (*models.Source, error) {
	return scanSource(db.conn.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM anime_source WHERE id = ?`, id))
}

// ListSourcesByAnime returns all sources of a work, favorited first then
// oldest first, which makes the head the auto-resolution pick.
func (db *DB) ListSourcesByAnime(ctx context.Context, animeID int64) ([]models.Source, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM anime_source WHERE anime_id = ? ORDER BY favorited DESC, id ASC`,
		animeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// LinkSource creates the (provider, media_id) binding for a work if it
// does not exist yet and returns the row either way.
func (db *DB) LinkSource(ctx context.Context, animeID int64, provider, mediaID string) (*models.Source, error) {
	if existing, err := db.GetSourceByProvider(ctx, provider, mediaID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO anime_source (anime_id, provider_name, media_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider_name, media_id) DO NOTHING`,
		animeID, provider, mediaID, time.Now().UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("link source: %w", err)
	}
	return db.GetSourceByProvider(ctx, provider, mediaID)
}

// SetSourceFavorited toggles the favorited flag. Enabling it clears the
// flag on every other source of the same anime in the same transaction,
// preserving the at-most-one invariant.
func (db *DB) SetSourceFavorited(ctx context.Context, sourceID int64, favorited bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var animeID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT anime_id FROM anime_source WHERE id = ?`, sourceID).Scan(&animeID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if favorited {
			if _, err := tx.ExecContext(ctx,
				`UPDATE anime_source SET favorited = 0 WHERE anime_id = ? AND id != ?`,
				animeID, sourceID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE anime_source SET favorited = ? WHERE id = ?`, favorited, sourceID)
		return err
	})
}

// SetSourceIncrementalRefresh toggles periodic refresh for a source.
// Enabling clears the consecutive-failure counter.
func (db *DB) SetSourceIncrementalRefresh(ctx context.Context, sourceID int64, enabled bool) error {
	query := `UPDATE anime_source SET incremental_refresh_enabled = ? WHERE id = ?`
	if enabled {
		query = `UPDATE anime_source SET incremental_refresh_enabled = ?, incremental_refresh_failures = 0 WHERE id = ?`
	}
	res, err := db.conn.ExecContext(ctx, query, enabled, sourceID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordIncrementalRefreshResult updates the consecutive-failure counter
// of an incremental-refresh source. Success resets it to zero; failure
// increments it and disables the source at the threshold.
func (db *DB) RecordIncrementalRefreshResult(ctx context.Context, sourceID int64, success bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if success {
			_, err := tx.ExecContext(ctx,
				`UPDATE anime_source SET incremental_refresh_failures = 0 WHERE id = ?`, sourceID)
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE anime_source SET incremental_refresh_failures = incremental_refresh_failures + 1 WHERE id = ?`,
			sourceID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE anime_source SET incremental_refresh_enabled = 0
			 WHERE id = ? AND incremental_refresh_failures >= ?`,
			sourceID, models.MaxIncrementalRefreshFailures)
		return err
	})
}

// ListRefreshTargets returns every source joined with its work, oldest
// first. With onlyIncremental set, sources that disabled incremental
// refresh (or were auto-disabled by the failure counter) are excluded.
func (db *DB) ListRefreshTargets(ctx context.Context, onlyIncremental bool) ([]models.RefreshTarget, error) {
	query := `SELECT a.id, a.title, a.media_type, a.season, a.year, a.image_url, a.local_image_path, a.created_at,
		s.id, s.anime_id, s.provider_name, s.media_id, s.favorited,
		s.incremental_refresh_enabled, s.incremental_refresh_failures, s.created_at
		FROM anime_source s JOIN anime a ON a.id = s.anime_id`
	if onlyIncremental {
		query += ` WHERE s.incremental_refresh_enabled = 1`
	}
	query += ` ORDER BY s.id ASC`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RefreshTarget
	for rows.Next() {
		var (
			t               models.RefreshTarget
			year            sql.NullInt64
			animeCreatedAt  int64
			sourceCreatedAt int64
		)
		if err := rows.Scan(&t.Anime.ID, &t.Anime.Title, (*string)(&t.Anime.MediaType), &t.Anime.Season,
			&year, &t.Anime.ImageURL, &t.Anime.LocalImagePath, &animeCreatedAt,
			&t.Source.ID, &t.Source.AnimeID, &t.Source.ProviderName, &t.Source.MediaID, &t.Source.Favorited,
			&t.Source.IncrementalRefreshEnabled, &t.Source.IncrementalRefreshFailures, &sourceCreatedAt); err != nil {
			return nil, err
		}
		t.Anime.Year = scanNullInt(year)
		t.Anime.CreatedAt = time.Unix(animeCreatedAt, 0).UTC()
		t.Source.CreatedAt = time.Unix(sourceCreatedAt, 0).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteSource removes a source and, via cascade, its episodes.
func (db *DB) DeleteSource(ctx context.Context, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM anime_source WHERE id = ?`, sourceID)
	return err
}
