// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTreeRunsBothLayers(t *testing.T) {
	tree := NewTree(DefaultTreeConfig())

	var jobRuns, apiRuns atomic.Int32
	tree.AddJobService("job", ServiceFunc(func(ctx context.Context) error {
		jobRuns.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))
	tree.AddAPIService("api", ServiceFunc(func(ctx context.Context) error {
		apiRuns.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for jobRuns.Load() == 0 || apiRuns.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("services did not start: job=%d api=%d", jobRuns.Load(), apiRuns.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestFailedServiceRestarts(t *testing.T) {
	tree := NewTree(DefaultTreeConfig())

	var runs atomic.Int32
	tree.AddJobService("flaky", ServiceFunc(func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("service restarted %d times, want at least 2 runs", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
