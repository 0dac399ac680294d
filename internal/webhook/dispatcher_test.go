// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package webhook

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/database"
	"github.com/quzard/danmu-hub/internal/importer"
	"github.com/quzard/danmu-hub/internal/models"
	"github.com/quzard/danmu-hub/internal/task"
)

type fakeSubmitter struct {
	keys   map[string]bool
	titles []string
}

func (f *fakeSubmitter) Submit(ctx context.Context, title, uniqueKey, taskType, parameters string, fn task.Fn) (string, error) {
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if f.keys[uniqueKey] {
		return "", &task.ConflictError{TaskID: "dup", Status: models.TaskStatusRunning}
	}
	f.keys[uniqueKey] = true
	f.titles = append(f.titles, title)
	return "task-1", nil
}

type fakeRunner struct{}

func (fakeRunner) RunWebhook(ctx context.Context, rc importer.Reporter, job models.WebhookJob) error {
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeSubmitter, *database.DB) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sub := &fakeSubmitter{}
	d := New(sub, db, fakeRunner{}, config.NewStore(db), nil)
	return d, sub, db
}

const embyEpisodePayload = `{
	"Event": "library.new",
	"Item": {
		"Type": "Episode",
		"Name": "第三话",
		"SeriesName": "某动画",
		"ParentIndexNumber": 1,
		"IndexNumber": 3
	}
}`

func TestDispatchSubmitsImmediately(t *testing.T) {
	d, sub, _ := newTestDispatcher(t)

	accepted, err := d.Dispatch(context.Background(), SourceEmby, []byte(embyEpisodePayload))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 1 || len(sub.titles) != 1 {
		t.Errorf("accepted = %d, submissions = %v", accepted, sub.titles)
	}
}

func TestDispatchDuplicateSurfacesConflict(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	if _, err := d.Dispatch(ctx, SourceEmby, []byte(embyEpisodePayload)); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	_, err := d.Dispatch(ctx, SourceEmby, []byte(embyEpisodePayload))
	var ce *task.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestDispatchBlacklistFilterDrops(t *testing.T) {
	d, sub, db := newTestDispatcher(t)
	ctx := context.Background()

	if err := db.SetConfigValue(ctx, config.KeyWebhookFilterRegex, "某动画"); err != nil {
		t.Fatal(err)
	}

	accepted, err := d.Dispatch(ctx, SourceEmby, []byte(embyEpisodePayload))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 0 || len(sub.titles) != 0 {
		t.Errorf("accepted = %d, submissions = %v", accepted, sub.titles)
	}
}

func TestDispatchWhitelistFilterKeepsMatches(t *testing.T) {
	d, sub, db := newTestDispatcher(t)
	ctx := context.Background()

	if err := db.SetConfigValue(ctx, config.KeyWebhookFilterMode, "whitelist"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetConfigValue(ctx, config.KeyWebhookFilterRegex, "某动画"); err != nil {
		t.Fatal(err)
	}

	accepted, err := d.Dispatch(ctx, SourceEmby, []byte(embyEpisodePayload))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 1 || len(sub.titles) != 1 {
		t.Errorf("accepted = %d, submissions = %v", accepted, sub.titles)
	}
}

func TestDispatchDelayedQueuesAndDrains(t *testing.T) {
	d, sub, db := newTestDispatcher(t)
	ctx := context.Background()

	if err := db.SetConfigValue(ctx, config.KeyWebhookDelayedImport, "true"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetConfigValue(ctx, config.KeyWebhookDelayedImportHours, "2"); err != nil {
		t.Fatal(err)
	}

	accepted, err := d.Dispatch(ctx, SourceEmby, []byte(embyEpisodePayload))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 1 || len(sub.titles) != 0 {
		t.Errorf("accepted = %d, submissions = %v", accepted, sub.titles)
	}

	// Not due yet.
	submitted, err := d.DrainDue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if submitted != 0 {
		t.Errorf("drained %d jobs before run_at", submitted)
	}

	submitted, err = d.DrainDue(ctx, time.Now().UTC().Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if submitted != 1 || len(sub.titles) != 1 {
		t.Errorf("submitted = %d, submissions = %v", submitted, sub.titles)
	}

	// The queue row is gone.
	items, err := db.DueWebhooks(ctx, time.Now().UTC().Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("queue still holds %d rows", len(items))
	}
}

func TestDispatchUnknownSource(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	if _, err := d.Dispatch(context.Background(), "kodi", []byte(`{}`)); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("err = %v", err)
	}
}
