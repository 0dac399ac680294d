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

// ErrNotFound is returned by mutations whose target row does not exist.
// Plain getters return (nil, nil) for a missing row instead.
var ErrNotFound = errors.New("database: not found")

const animeColumns = `id, title, media_type, season, year, image_url, local_image_path, created_at`

func scanAnime(row interface{ Scan(...any) error }) (*models.Anime, error) {
	var (
		a         models.Anime
		year      sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&a.ID, &a.Title, (*string)(&a.MediaType), &a.Season, &year, &a.ImageURL, &a.LocalImagePath, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Year = scanNullInt(year)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}

// GetAnimeByIdentity looks up a work by its immutable identity
// (title, season, year). The title must already be normalized by the
// recognizer's storage phase. A nil year matches only rows with NULL year.
func (db *DB) GetAnimeByIdentity(ctx context.Context, title string, season int, year *int) (*models.Anime, error) {
	query := `SELECT ` + animeColumns + ` FROM anime WHERE title = ? AND season = ? AND `
	args := []any{title, season}
	if year == nil {
		query += `year IS NULL`
	} else {
		query += `year = ?`
		args = append(args, *year)
	}
	return scanAnime(db.conn.QueryRowContext(ctx, query, args...))
}

// GetAnimeByID fetches one work by primary key.
func (db *DB) GetAnimeByID(ctx context.Context, id int64) (*models.Anime, error) {
	return scanAnime(db.conn.QueryRowContext(ctx,
		`SELECT `+animeColumns+` FROM anime WHERE id = ?`, id))
}

// GetAnimeByMetadataID looks up a work via the metadata side mapping,
// e.g. ("tmdb", "1429", 1). idType must be one of tmdb/tvdb/imdb/douban/bangumi.
func (db *DB) GetAnimeByMetadataID(ctx context.Context, idType, id string, season int) (*models.Anime, error) {
	column, ok := metadataColumn(idType)
	if !ok {
		return nil, fmt.Errorf("unknown metadata id type %q", idType)
	}
	//nolint:gosec // column name comes from the fixed whitelist above
	query := fmt.Sprintf(`SELECT a.id, a.title, a.media_type, a.season, a.year, a.image_url, a.local_image_path, a.created_at
		FROM anime a JOIN anime_metadata m ON m.anime_id = a.id
		WHERE m.%s = ? AND m.%s != '' AND a.season = ?`, column, column)
	return scanAnime(db.conn.QueryRowContext(ctx, query, id, season))
}

// CreateAnime inserts a new work and returns it with its id assigned.
func (db *DB) CreateAnime(ctx context.Context, a *models.Anime) (*models.Anime, error) {
	if a.Season < 1 {
		a.Season = 1
	}
	if a.MediaType == models.MediaTypeMovie {
		a.Season = 1
	}
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO anime (title, media_type, season, year, image_url, local_image_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Title, string(a.MediaType), a.Season, nullableInt(a.Year), a.ImageURL, a.LocalImagePath, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert anime: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	a.ID = id
	a.CreatedAt = now
	return a, nil
}

// UpdateAnimeImage records the remote and local image references. Called
// after the image service has downloaded the poster.
func (db *DB) UpdateAnimeImage(ctx context.Context, animeID int64, imageURL, localPath string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE anime SET image_url = ?, local_image_path = ? WHERE id = ?`,
		imageURL, localPath, animeID)
	return err
}

func metadataColumn(idType string) (string, bool) {
	switch idType {
	case "tmdb":
		return "tmdb_id", true
	case "tvdb":
		return "tvdb_id", true
	case "imdb":
		return "imdb_id", true
	case "douban":
		return "douban_id", true
	case "bangumi":
		return "bangumi_id", true
	}
	return "", false
}

// UpsertAnimeMetadata writes the metadata side row with update-if-empty
// semantics: existing non-empty identifiers are never overwritten.
func (db *DB) UpsertAnimeMetadata(ctx context.Context, animeID int64, ids models.MetadataIDs) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO anime_metadata (anime_id, tmdb_id, tvdb_id, imdb_id, douban_id, bangumi_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(anime_id) DO UPDATE SET
			tmdb_id    = CASE WHEN anime_metadata.tmdb_id    = '' THEN excluded.tmdb_id    ELSE anime_metadata.tmdb_id    END,
			tvdb_id    = CASE WHEN anime_metadata.tvdb_id    = '' THEN excluded.tvdb_id    ELSE anime_metadata.tvdb_id    END,
			imdb_id    = CASE WHEN anime_metadata.imdb_id    = '' THEN excluded.imdb_id    ELSE anime_metadata.imdb_id    END,
			douban_id  = CASE WHEN anime_metadata.douban_id  = '' THEN excluded.douban_id  ELSE anime_metadata.douban_id  END,
			bangumi_id = CASE WHEN anime_metadata.bangumi_id = '' THEN excluded.bangumi_id ELSE anime_metadata.bangumi_id END`,
		animeID, ids.TMDBID, ids.TVDBID, ids.IMDBID, ids.DoubanID, ids.BangumiID)
	if err != nil {
		return fmt.Errorf("upsert anime metadata: %w", err)
	}
	return nil
}

// GetAnimeMetadata reads the metadata ids of a work. Missing row yields
// the zero value, not an error.
func (db *DB) GetAnimeMetadata(ctx context.Context, animeID int64) (models.MetadataIDs, error) {
	var ids models.MetadataIDs
	err := db.conn.QueryRowContext(ctx,
		`SELECT tmdb_id, tvdb_id, imdb_id, douban_id, bangumi_id FROM anime_metadata WHERE anime_id = ?`,
		animeID).Scan(&ids.TMDBID, &ids.TVDBID, &ids.IMDBID, &ids.DoubanID, &ids.BangumiID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MetadataIDs{}, nil
	}
	return ids, err
}

// UpsertAnimeAliases stores the alias row for a work, replacing any
// previous values.
func (db *DB) UpsertAnimeAliases(ctx context.Context, al models.AnimeAliases) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO anime_aliases (anime_id, name_en, name_jp, name_romaji, alias_cn_1, alias_cn_2, alias_cn_3)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(anime_id) DO UPDATE SET
			name_en = excluded.name_en, name_jp = excluded.name_jp, name_romaji = excluded.name_romaji,
			alias_cn_1 = excluded.alias_cn_1, alias_cn_2 = excluded.alias_cn_2, alias_cn_3 = excluded.alias_cn_3`,
		al.AnimeID, al.NameEN, al.NameJP, al.NameRomaji, al.AliasCN1, al.AliasCN2, al.AliasCN3)
	return err
}

// GetAnimeAliases reads the alias row of a work; missing row yields the
// zero value.
func (db *DB) GetAnimeAliases(ctx context.Context, animeID int64) (models.AnimeAliases, error) {
	al := models.AnimeAliases{AnimeID: animeID}
	err := db.conn.QueryRowContext(ctx,
		`SELECT name_en, name_jp, name_romaji, alias_cn_1, alias_cn_2, alias_cn_3
		 FROM anime_aliases WHERE anime_id = ?`, animeID).
		Scan(&al.NameEN, &al.NameJP, &al.NameRomaji, &al.AliasCN1, &al.AliasCN2, &al.AliasCN3)
	if errors.Is(err, sql.ErrNoRows) {
		return al, nil
	}
	return al, err
}
