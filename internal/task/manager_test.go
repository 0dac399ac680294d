// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quzard/danmu-hub/internal/config"
	"github.com/quzard/danmu-hub/internal/database"
	"github.com/quzard/danmu-hub/internal/models"
)

func newTestManager(t *testing.T) (*Manager, *database.DB, context.CancelFunc) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(db, config.NewStore(db))
	ctx, cancel := context.WithCancel(context.Background())
	go m.Serve(ctx)
	t.Cleanup(cancel)
	return m, db, cancel
}

func waitForStatus(t *testing.T, db *database.DB, id string, want models.TaskStatus) *models.TaskRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := db.GetTask(context.Background(), id)
		if err == nil && rec.Status == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := db.GetTask(context.Background(), id)
	t.Fatalf("task %s never reached %s, last: %+v", id, want, rec)
	return nil
}

func TestSubmitRunsToCompletion(t *testing.T) {
	m, db, _ := newTestManager(t)

	id, err := m.Submit(context.Background(), "导入测试", "key-1", "import", "", func(ctx context.Context, rc *RunContext) error {
		rc.Progress(ctx, 50, "下载中")
		return &Success{Message: "导入完成，共 12 条"}
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := waitForStatus(t, db, id, models.TaskStatusCompleted)
	if rec.Progress != 100 {
		t.Errorf("progress = %d", rec.Progress)
	}
	if rec.Message != "导入完成，共 12 条" {
		t.Errorf("message = %q", rec.Message)
	}
	if rec.FinishedAt == nil {
		t.Error("finished_at not set")
	}
}

func TestUniqueKeyConflictWithActiveTask(t *testing.T) {
	m, db, _ := newTestManager(t)
	release := make(chan struct{})

	id, err := m.Submit(context.Background(), "长任务", "busy-key", "import", "", func(ctx context.Context, rc *RunContext) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, db, id, models.TaskStatusRunning)

	_, err = m.Submit(context.Background(), "重复任务", "busy-key", "import", "", func(ctx context.Context, rc *RunContext) error {
		return nil
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if conflict.TaskID != id || !conflict.Status.Active() {
		t.Errorf("conflict = %+v", conflict)
	}

	close(release)
	waitForStatus(t, db, id, models.TaskStatusCompleted)
}

func TestUniqueKeyDuplicateWindow(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Submit(ctx, "第一次", "dup-key", "import", "", func(ctx context.Context, rc *RunContext) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, db, first, models.TaskStatusCompleted)

	_, err = m.Submit(ctx, "第二次", "dup-key", "import", "", func(ctx context.Context, rc *RunContext) error {
		return nil
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError within duplicate window", err)
	}
	if conflict.Status != models.TaskStatusCompleted {
		t.Errorf("conflict status = %s", conflict.Status)
	}

	// Shrinking the window to zero disables the dedup check.
	if err := db.SetConfigValue(ctx, config.KeyTaskDuplicateWindowHours, "0"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Submit(ctx, "第三次", "dup-key", "import", "", func(ctx context.Context, rc *RunContext) error {
		return nil
	}); err != nil {
		t.Fatalf("Submit with window=0: %v", err)
	}
}

func TestConcurrentSubmitAcceptsOne(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Not served: submissions stay pending, so every duplicate must be
	// caught by the active-task check.
	m := NewManager(db, config.NewStore(db))
	ctx := context.Background()

	var accepted, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Submit(ctx, "并发提交", "race-key", "import", "", func(ctx context.Context, rc *RunContext) error {
				return nil
			})
			var conflict *ConflictError
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.As(err, &conflict):
				conflicts.Add(1)
			default:
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 || conflicts.Load() != 7 {
		t.Errorf("accepted = %d, conflicts = %d, want 1/7", accepted.Load(), conflicts.Load())
	}
	rec, err := db.FindActiveTaskByUniqueKey(ctx, "race-key")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("no pending task persisted")
	}
	if got := len(m.QueuedTaskIDs()); got != 1 {
		t.Errorf("queued = %d, want 1", got)
	}
}

func TestAbortRunningTask(t *testing.T) {
	m, db, _ := newTestManager(t)
	started := make(chan struct{})

	id, err := m.Submit(context.Background(), "可中止", "", "import", "", func(ctx context.Context, rc *RunContext) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	if err := m.Abort(id); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	rec := waitForStatus(t, db, id, models.TaskStatusCancelled)
	if rec.Message != "任务已中止" {
		t.Errorf("message = %q", rec.Message)
	}
}

func TestPauseAndResume(t *testing.T) {
	m, db, _ := newTestManager(t)
	started := make(chan struct{})
	pauseIssued := make(chan struct{})
	resumed := make(chan struct{})

	id, err := m.Submit(context.Background(), "可暂停", "", "import", "", func(ctx context.Context, rc *RunContext) error {
		close(started)
		<-pauseIssued
		// Blocks here until the operator resumes.
		if err := rc.Progress(ctx, 40, "第一阶段"); err != nil {
			return err
		}
		close(resumed)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	if err := m.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	close(pauseIssued)
	waitForStatus(t, db, id, models.TaskStatusPaused)

	select {
	case <-resumed:
		t.Fatal("task ran past a pause point")
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	<-resumed
	waitForStatus(t, db, id, models.TaskStatusCompleted)
}

func TestRateLimitPauseAutoResumes(t *testing.T) {
	m, db, _ := newTestManager(t)
	attempts := 0

	id, err := m.Submit(context.Background(), "流控任务", "", "import", "", func(ctx context.Context, rc *RunContext) error {
		attempts++
		if attempts == 1 {
			return &PauseForRateLimit{RetryAfter: 20 * time.Millisecond}
		}
		return &Success{Message: "恢复后完成"}
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := waitForStatus(t, db, id, models.TaskStatusCompleted)
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if rec.Message != "恢复后完成" {
		t.Errorf("message = %q", rec.Message)
	}
}

func TestCancelPending(t *testing.T) {
	m, db, _ := newTestManager(t)
	release := make(chan struct{})
	defer close(release)

	blocker, err := m.Submit(context.Background(), "占位", "", "import", "", func(ctx context.Context, rc *RunContext) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	waitForStatus(t, db, blocker, models.TaskStatusRunning)

	queued, err := m.Submit(context.Background(), "排队中", "", "import", "", func(ctx context.Context, rc *RunContext) error {
		t.Error("cancelled pending task ran")
		return nil
	})
	if err != nil {
		t.Fatalf("Submit queued: %v", err)
	}

	if err := m.CancelPending(context.Background(), queued); err != nil {
		t.Fatalf("CancelPending: %v", err)
	}
	waitForStatus(t, db, queued, models.TaskStatusCancelled)

	if err := m.CancelPending(context.Background(), queued); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("second cancel err = %v, want ErrTaskNotFound", err)
	}
}

func TestFailedTaskRecordsError(t *testing.T) {
	m, db, _ := newTestManager(t)

	id, err := m.Submit(context.Background(), "会失败", "", "import", "", func(ctx context.Context, rc *RunContext) error {
		return errors.New("provider unreachable")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := waitForStatus(t, db, id, models.TaskStatusFailed)
	if rec.Message != "provider unreachable" {
		t.Errorf("message = %q", rec.Message)
	}
}

func TestFailureMessageSingleLineShortForm(t *testing.T) {
	m, db, _ := newTestManager(t)

	long := strings.Repeat("连", 120)
	id, err := m.Submit(context.Background(), "多行错误", "", "import", "", func(ctx context.Context, rc *RunContext) error {
		return fmt.Errorf("%s\nsecond line with stack detail", long)
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := waitForStatus(t, db, id, models.TaskStatusFailed)
	if strings.Contains(rec.Message, "\n") {
		t.Errorf("message kept a newline: %q", rec.Message)
	}
	if got := len([]rune(rec.Message)); got != 100 {
		t.Errorf("message length = %d runes, want 100", got)
	}
	if rec.Message != strings.Repeat("连", 100) {
		t.Errorf("message = %q", rec.Message)
	}
}

func TestRecoverForceFailsStaleRows(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	stale := &models.TaskRecord{
		ID: "stale-1", Title: "中断的任务", Status: models.TaskStatusRunning, CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertTask(ctx, stale); err != nil {
		t.Fatal(err)
	}

	m := NewManager(db, config.NewStore(db))
	if err := m.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	rec, err := db.GetTask(ctx, "stale-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.TaskStatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
}
