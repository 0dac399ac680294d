// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// Slog returns a *slog.Logger that forwards records to the global
// zerolog logger. Used for libraries that only speak slog, such as
// the supervisor event hook.
func Slog() *slog.Logger {
	return slog.New(slogBridge{})
}

type slogBridge struct {
	attrs  []slog.Attr
	groups []string
}

func (b slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return slogToZerolog(level) >= Logger().GetLevel()
}

func (b slogBridge) Handle(_ context.Context, record slog.Record) error {
	l := Logger()
	ev := l.WithLevel(slogToZerolog(record.Level))
	for _, attr := range b.attrs {
		ev = appendAttr(ev, b.groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		ev = appendAttr(ev, b.groups, attr)
		return true
	})
	ev.Msg(record.Message)
	return nil
}

func (b slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := b
	next.attrs = append(append([]slog.Attr{}, b.attrs...), attrs...)
	return next
}

func (b slogBridge) WithGroup(name string) slog.Handler {
	next := b
	next.groups = append(append([]string{}, b.groups...), name)
	return next
}

func appendAttr(ev *zerolog.Event, groups []string, attr slog.Attr) *zerolog.Event {
	key := attr.Key
	for i := len(groups) - 1; i >= 0; i-- {
		key = groups[i] + "." + key
	}
	return ev.Interface(key, attr.Value.Any())
}

func slogToZerolog(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
