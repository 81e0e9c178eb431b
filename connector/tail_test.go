// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTailer(path string) *tailer {
	return &tailer{
		path:    path,
		poll:    5 * time.Millisecond,
		maxLine: 1 << 16,
		clock:   clock.Real(),
		logger:  testLogger(),
	}
}

func TestDrainCompleteLinesOnly(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "events.jsonl", "one\ntwo\npartial")

	var lines []string
	cursor, err := newTestTailer(path).drain(Cursor{}, func(line []byte, _ Cursor) {
		lines = append(lines, string(line))
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("lines = %v", lines)
	}
	if cursor.Offset != int64(len("one\ntwo\n")) {
		t.Errorf("offset = %d, want %d", cursor.Offset, len("one\ntwo\n"))
	}

	// Completing the partial line delivers it on the next drain.
	testutil.AppendFile(t, path, " three\n")
	cursor, err = newTestTailer(path).drain(cursor, func(line []byte, _ Cursor) {
		lines = append(lines, string(line))
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 || lines[2] != "partial three" {
		t.Fatalf("lines after completion = %v", lines)
	}
}

func TestDrainRotationBumpsGeneration(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "events.jsonl", "alpha\nbeta\n")

	var lines []string
	cursor, err := newTestTailer(path).drain(Cursor{}, func(line []byte, _ Cursor) {
		lines = append(lines, string(line))
	})
	if err != nil {
		t.Fatal(err)
	}

	// Rotation: the file is replaced by a shorter one.
	if err := os.WriteFile(path, []byte("fresh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cursor, err = newTestTailer(path).drain(cursor, func(line []byte, _ Cursor) {
		lines = append(lines, string(line))
	})
	if err != nil {
		t.Fatal(err)
	}
	if cursor.Generation != 1 {
		t.Errorf("generation = %d, want 1", cursor.Generation)
	}
	if lines[len(lines)-1] != "fresh" {
		t.Errorf("replayed lines = %v", lines)
	}
}

func TestDrainMissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-yet.jsonl")
	cursor, err := newTestTailer(path).drain(Cursor{Offset: 10, Generation: 2}, func([]byte, Cursor) {
		t.Error("handler called for missing file")
	})
	if err != nil {
		t.Fatal(err)
	}
	if cursor != (Cursor{Offset: 10, Generation: 2}) {
		t.Errorf("cursor = %+v, want unchanged", cursor)
	}
}

func TestDrainOverflowLines(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	path := testutil.WriteFile(t, t.TempDir(), "events.jsonl", string(long)+"\nshort\n")

	tail := newTestTailer(path)
	tail.maxLine = 1024
	var overflowed int
	tail.overflow = func([]byte) { overflowed++ }

	var lines []string
	if _, err := tail.drain(Cursor{}, func(line []byte, _ Cursor) {
		lines = append(lines, string(line))
	}); err != nil {
		t.Fatal(err)
	}
	if overflowed != 1 {
		t.Errorf("overflowed = %d, want 1", overflowed)
	}
	if len(lines) != 1 || lines[0] != "short" {
		t.Errorf("lines = %v, want only the short line", lines)
	}
}

func TestRunFollowsAppends(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "events.jsonl", "first\n")

	lines := make(chan string, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = newTestTailer(path).run(ctx, Cursor{}, func(line []byte, _ Cursor) {
			lines <- string(line)
		})
	}()

	if got := testutil.RequireReceive(t, lines, 2*time.Second, "initial line"); got != "first" {
		t.Errorf("line = %q", got)
	}

	testutil.AppendFile(t, path, "second\n")
	if got := testutil.RequireReceive(t, lines, 2*time.Second, "appended line"); got != "second" {
		t.Errorf("line = %q", got)
	}

	cancel()
	testutil.RequireClosed(t, done, 2*time.Second, "tailer shutdown")
}
