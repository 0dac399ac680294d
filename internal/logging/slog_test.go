// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogBridgeForwardsToZerolog(t *testing.T) {
	prev := Logger()
	t.Cleanup(func() { SetLogger(prev) })

	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	l := Slog()
	l.Info("service started", "service", "scheduler")

	out := buf.String()
	if !strings.Contains(out, `"message":"service started"`) {
		t.Errorf("message missing from output: %s", out)
	}
	if !strings.Contains(out, `"service":"scheduler"`) {
		t.Errorf("attr missing from output: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("level missing from output: %s", out)
	}
}

func TestSlogBridgeGroupsAndLevels(t *testing.T) {
	prev := Logger()
	t.Cleanup(func() { SetLogger(prev) })

	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	l := Slog().WithGroup("restart").With("service", "task-manager")
	l.Warn("service failed, restarting")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("level missing from output: %s", out)
	}
	if !strings.Contains(out, `"restart.service":"task-manager"`) {
		t.Errorf("group-prefixed attr missing from output: %s", out)
	}
}
