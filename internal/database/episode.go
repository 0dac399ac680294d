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

const episodeColumns = `id, source_id, episode_index, title, url,
	provider_episode_id, danmaku_file_path, comment_count, fetched_at`

func scanEpisode(row interface{ Scan(...any) error }) (*models.Episode, error) {
	var (
		e         models.Episode
		path      sql.NullString
		fetchedAt sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.SourceID, &e.EpisodeIndex, &e.Title, &e.URL,
		&e.ProviderEpisodeID, &path, &e.CommentCount, &fetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.DanmakuFilePath = path.String
	e.FetchedAt = scanNullUnix(fetchedAt)
	return &e, nil
}

// GetEpisode fetches one episode by (source, index).
func (db *DB) GetEpisode(ctx context.Context, sourceID int64, index int) (*models.Episode, error) {
	return scanEpisode(db.conn.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episode WHERE source_id = ? AND episode_index = ?`,
		sourceID, index))
}

// ListEpisodes returns all episodes of a source in ascending index order.
func (db *DB) ListEpisodes(ctx context.Context, sourceID int64) ([]models.Episode, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episode WHERE source_id = ? ORDER BY episode_index ASC`,
		sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// PresentEpisodeIndices returns the indices of a source's episodes that
// already have a stored danmaku file with at least one comment.
func (db *DB) PresentEpisodeIndices(ctx context.Context, sourceID int64) (map[int]bool, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT episode_index FROM episode
		 WHERE source_id = ? AND danmaku_file_path IS NOT NULL AND comment_count > 0`,
		sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[int]bool)
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		present[idx] = true
	}
	return present, rows.Err()
}

// CommitEpisode writes one episode row together with its danmaku file
// reference in a single transaction. The episode row is created on first
// write; re-imports update in place. commentCount must reflect the file
// just written.
func (db *DB) CommitEpisode(ctx context.Context, e *models.Episode) error {
	now := time.Now().UTC().Unix()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO episode (source_id, episode_index, title, url, provider_episode_id,
				danmaku_file_path, comment_count, fetched_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(source_id, episode_index) DO UPDATE SET
				title = excluded.title,
				url = excluded.url,
				provider_episode_id = excluded.provider_episode_id,
				danmaku_file_path = excluded.danmaku_file_path,
				comment_count = excluded.comment_count,
				fetched_at = excluded.fetched_at`,
			e.SourceID, e.EpisodeIndex, e.Title, e.URL, e.ProviderEpisodeID,
			e.DanmakuFilePath, e.CommentCount, now)
		return err
	})
}

// EpisodeCommentCount reads the stored comment count, 0 when the episode
// row does not exist.
func (db *DB) EpisodeCommentCount(ctx context.Context, sourceID int64, index int) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT comment_count FROM episode WHERE source_id = ? AND episode_index = ?`,
		sourceID, index).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}
