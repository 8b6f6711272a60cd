// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "Warn", "error"} {
		l, err := ParseLevel(s)
		require.NoError(t, err, s)
		assert.True(t, strings.EqualFold(s, l.String()))
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLevel_SlogRoundTrip(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		assert.Equal(t, l, fromSlogLevel(l.toSlogLevel()))
	}
	assert.Equal(t, slog.LevelInfo, Level(99).toSlogLevel())
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Service: "prover-test"})
	defer logger.Close()

	logger.Debug("hidden")
	logger.Info("session started", "session_id", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "session started")
	assert.Contains(t, out, "session_id=abc")
	assert.Contains(t, out, "service=prover-test")
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, JSON: true, Level: LevelDebug})
	defer logger.Close()

	logger.Debug("wire", "line", `{"response":"ok"}`)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "wire", rec["msg"])
	assert.Equal(t, `{"response":"ok"}`, rec["line"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelWarn})
	defer logger.Close()

	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	out := buf.String()
	assert.NotContains(t, out, "msg=info")
	assert.Contains(t, out, "msg=warn")
	assert.Contains(t, out, "msg=error")
}

func TestNew_QuietDiscards(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Quiet: true})
	defer logger.Close()

	logger.Error("nobody hears this")
	assert.Zero(t, buf.Len())
}

func TestNew_LogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger := New(Config{Quiet: true, LogDir: dir, Service: "watch"})

	logger.Info("checked", "errors", 2)
	require.NoError(t, logger.Close())

	path := filepath.Join(dir, "watch_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "checked", rec["msg"])
	assert.Equal(t, float64(2), rec["errors"])
	assert.Equal(t, "watch", rec["service"])
}

func TestNew_LogFileDefaultName(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Quiet: true, LogDir: dir})
	logger.Info("x")
	require.NoError(t, logger.Close())

	_, err := os.Stat(filepath.Join(dir, "prover_"+time.Now().Format("2006-01-02")+".log"))
	assert.NoError(t, err)
}

func TestNew_UnwritableLogDirFallsBack(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	var buf bytes.Buffer
	logger := New(Config{Output: &buf, LogDir: filepath.Join(blocker, "logs")})
	defer logger.Close()

	logger.Info("still logged")
	assert.Nil(t, logger.file)
	assert.Contains(t, buf.String(), "still logged")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	defer logger.Close()

	child := logger.With("session_id", "s1")
	child.Info("request sent")
	logger.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "session_id=s1")
	assert.NotContains(t, lines[1], "session_id")
}

func TestLogger_SlogSharesHandlers(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewBufferedExporter()
	logger := New(Config{Output: &buf, Exporter: exporter})
	defer logger.Close()

	logger.Slog().With("component", "session").Info("via slog")

	assert.Contains(t, buf.String(), "via slog")
	entries := exporter.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "session", entries[0].Attrs["component"])
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestExporter_ReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Service: "prover", Level: LevelInfo, Exporter: exporter})

	logger.Debug("filtered")
	logger.Warn("malformed line", "line", "garbage", slog.Group("req", slog.Int("seq", 4)))
	require.NoError(t, logger.Close())

	entries := exporter.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, LevelWarn, e.Level)
	assert.Equal(t, "malformed line", e.Message)
	assert.Equal(t, "prover", e.Service)
	assert.Equal(t, "garbage", e.Attrs["line"])
	assert.Equal(t, int64(4), e.Attrs["req.seq"])
	assert.False(t, e.Timestamp.IsZero())
	assert.True(t, exporter.Closed())
}

func TestExporter_WithGroup(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exporter})
	defer logger.Close()

	logger.Slog().WithGroup("transport").With("pid", 7).Info("spawned")

	entries := exporter.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].Attrs["transport.pid"])
}

type failingExporter struct {
	BufferedExporter
	flushErr, closeErr error
}

func (e *failingExporter) Export(context.Context, LogEntry) error { return errors.New("unreachable") }
func (e *failingExporter) Flush(context.Context) error            { return e.flushErr }
func (e *failingExporter) Close() error                           { return e.closeErr }

func TestExporter_ErrorsDoNotDisturbLogging(t *testing.T) {
	var buf bytes.Buffer
	exporter := &failingExporter{flushErr: errors.New("flush failed"), closeErr: errors.New("close failed")}
	logger := New(Config{Output: &buf, Exporter: exporter})

	logger.Info("visible")
	assert.Contains(t, buf.String(), "visible")

	err := logger.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.NoError(t, logger.Close(), "second close has nothing left to release")
}

func TestBufferedExporter_EntriesIsCopy(t *testing.T) {
	exporter := NewBufferedExporter()
	require.NoError(t, exporter.Export(context.Background(), LogEntry{Message: "a"}))

	entries := exporter.Entries()
	entries[0].Message = "changed"
	assert.Equal(t, "a", exporter.Entries()[0].Message)
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exporter})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.With("worker", i).Info("tick", "n", j)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, exporter.Entries(), 100)
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".prover/logs"), expandPath("~/.prover/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "relative", expandPath("relative"))
}

func TestMultiHandler_Enabled(t *testing.T) {
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}}
	ctx := context.Background()
	assert.True(t, h.Enabled(ctx, slog.LevelInfo))
	assert.False(t, h.Enabled(ctx, slog.LevelDebug))
}
