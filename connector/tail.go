// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openclaw/observatory/lib/clock"
)

// tailer follows an append-only line file from a resumable cursor.
// Wake-ups come from fsnotify on the containing directory when the
// platform supports it, with a polling ticker as both fallback and
// safety net (network filesystems drop inotify events).
type tailer struct {
	path    string
	poll    time.Duration
	maxLine int
	clock   clock.Clock
	logger  *slog.Logger

	// overflow receives lines longer than maxLine instead of handle.
	overflow func(line []byte)
}

// run drains the file from cursor and keeps following it until ctx is
// cancelled. Every complete line is passed to handle together with
// the cursor position after the line. A size regression below the
// cursor offset is treated as rotation: the generation is bumped and
// the file replayed from the start.
func (t *tailer) run(ctx context.Context, cursor Cursor, handle func(line []byte, after Cursor)) (Cursor, error) {
	watcher, watchEvents := t.watch()
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := t.clock.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		next, err := t.drain(cursor, handle)
		if err != nil {
			return cursor, err
		}
		cursor = next

		select {
		case <-ctx.Done():
			return cursor, nil
		case <-ticker.C:
		case _, ok := <-watchEvents:
			if !ok {
				// Watcher died; polling carries on alone.
				watchEvents = nil
			}
		}
	}
}

// watch sets up an fsnotify watcher on the file's directory. Watching
// the directory rather than the file survives rotation via rename.
// Returns a nil watcher when fsnotify is unavailable.
func (t *tailer) watch() (*fsnotify.Watcher, chan fsnotify.Event) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Debug("fsnotify unavailable, polling only", "path", t.path, "error", err)
		return nil, nil
	}
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.Debug("fsnotify watch failed, polling only", "path", t.path, "error", err)
		watcher.Close()
		return nil, nil
	}

	// Filter to events touching our file; coalesce into a buffered
	// channel so a burst of writes costs one wake-up.
	events := make(chan fsnotify.Event, 1)
	go func() {
		defer close(events)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(t.path) {
					continue
				}
				select {
				case events <- event:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Debug("fsnotify error", "path", t.path, "error", err)
			}
		}
	}()
	return watcher, events
}

// drain reads all complete lines available past the cursor. A missing
// file is not an error; it may appear later.
func (t *tailer) drain(cursor Cursor, handle func(line []byte, after Cursor)) (Cursor, error) {
	info, err := os.Stat(t.path)
	if os.IsNotExist(err) {
		return cursor, nil
	}
	if err != nil {
		return cursor, fmt.Errorf("stat %s: %w", t.path, err)
	}

	if info.Size() < cursor.Offset {
		t.logger.Info("source rotated, replaying",
			"path", t.path,
			"size", info.Size(),
			"cursor_offset", cursor.Offset,
			"generation", cursor.Generation+1)
		cursor = Cursor{Offset: 0, Generation: cursor.Generation + 1}
	}
	if info.Size() == cursor.Offset {
		return cursor, nil
	}

	file, err := os.Open(t.path)
	if err != nil {
		return cursor, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer file.Close()

	if _, err := file.Seek(cursor.Offset, io.SeekStart); err != nil {
		return cursor, fmt.Errorf("seek %s: %w", t.path, err)
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Partial trailing line: leave it for the next drain so
			// we never hand out a half-written record.
			return cursor, nil
		}
		cursor.Offset += int64(len(line))

		trimmed := line[:len(line)-1]
		if len(trimmed) > 0 && trimmed[len(trimmed)-1] == '\r' {
			trimmed = trimmed[:len(trimmed)-1]
		}
		if len(trimmed) == 0 {
			continue
		}
		if t.maxLine > 0 && len(trimmed) > t.maxLine {
			if t.overflow != nil {
				t.overflow(trimmed)
			}
			continue
		}
		handle(trimmed, cursor)
	}
}
