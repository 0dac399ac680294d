// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package models provides the shared data models for DanmuHub: library
// rows (anime, source, episode), provider candidate shapes, task records,
// webhook payloads from the supported media servers, and the API request
// models with their validation tags.
package models
