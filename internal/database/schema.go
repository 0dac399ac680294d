// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package database

import "fmt"

// initSchema creates all tables if they do not exist. Columns are defined
// up front in the CREATE TABLE statements; additive migrations append to
// this list with ALTER TABLE guarded by pragma checks when needed.
func (db *DB) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS anime (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			media_type TEXT NOT NULL DEFAULT 'tv_series',
			season INTEGER NOT NULL DEFAULT 1,
			year INTEGER,
			image_url TEXT NOT NULL DEFAULT '',
			local_image_path TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			UNIQUE(title, season, year)
		)`,

		`CREATE TABLE IF NOT EXISTS anime_metadata (
			anime_id INTEGER PRIMARY KEY REFERENCES anime(id) ON DELETE CASCADE,
			tmdb_id TEXT NOT NULL DEFAULT '',
			tvdb_id TEXT NOT NULL DEFAULT '',
			imdb_id TEXT NOT NULL DEFAULT '',
			douban_id TEXT NOT NULL DEFAULT '',
			bangumi_id TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS anime_aliases (
			anime_id INTEGER PRIMARY KEY REFERENCES anime(id) ON DELETE CASCADE,
			name_en TEXT NOT NULL DEFAULT '',
			name_jp TEXT NOT NULL DEFAULT '',
			name_romaji TEXT NOT NULL DEFAULT '',
			alias_cn_1 TEXT NOT NULL DEFAULT '',
			alias_cn_2 TEXT NOT NULL DEFAULT '',
			alias_cn_3 TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS anime_source (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			anime_id INTEGER NOT NULL REFERENCES anime(id) ON DELETE CASCADE,
			provider_name TEXT NOT NULL,
			media_id TEXT NOT NULL,
			favorited INTEGER NOT NULL DEFAULT 0,
			incremental_refresh_enabled INTEGER NOT NULL DEFAULT 0,
			incremental_refresh_failures INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE(provider_name, media_id)
		)`,

		`CREATE TABLE IF NOT EXISTS episode (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL REFERENCES anime_source(id) ON DELETE CASCADE,
			episode_index INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			provider_episode_id TEXT NOT NULL DEFAULT '',
			danmaku_file_path TEXT,
			comment_count INTEGER NOT NULL DEFAULT 0,
			fetched_at INTEGER,
			UNIQUE(source_id, episode_index)
		)`,

		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS task_history (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			unique_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			task_type TEXT NOT NULL DEFAULT '',
			parameters TEXT NOT NULL DEFAULT '',
			scheduler_task_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			finished_at INTEGER
		)`,

		`CREATE INDEX IF NOT EXISTS idx_task_history_unique_key
			ON task_history(unique_key, created_at)`,

		`CREATE TABLE IF NOT EXISTS scheduler_task (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			job_type TEXT NOT NULL,
			interval_seconds INTEGER NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run_at INTEGER,
			last_task_id TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS webhook_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			unique_key TEXT NOT NULL,
			payload TEXT NOT NULL,
			run_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			provider TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS rate_limit_state (
			key TEXT PRIMARY KEY,
			request_count INTEGER NOT NULL DEFAULT 0,
			last_reset_time INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS external_api_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ip TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS token (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS title_recognition (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			content TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
