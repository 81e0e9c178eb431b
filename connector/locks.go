// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// Locks observes lock state files marking risky transitions: a
// directory where each file is a held lock. File content is either a
// bare holder name or a JSON object with holder and reason. The
// connector remembers what it saw so releases (files vanishing)
// produce events too.
type Locks struct {
	healthTracker

	dir      string
	provider schema.ProviderKind
	poll     time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	held map[string]string // lock name -> holder
	gen  map[string]int    // lock name -> observed transition count
}

// NewLocks returns a lock state connector over the given directory.
func NewLocks(dir string, provider schema.ProviderKind, poll time.Duration, clk clock.Clock, logger *slog.Logger) *Locks {
	return &Locks{
		dir:      dir,
		provider: provider,
		poll:     poll,
		clock:    clk,
		logger:   logger.With("connector", "locks"),
		held:     make(map[string]string),
		gen:      make(map[string]int),
	}
}

func (l *Locks) Channel() schema.Channel { return schema.ChannelLocks }

func (l *Locks) Discover(ctx context.Context) error {
	if _, err := os.ReadDir(l.dir); err != nil {
		return sourceErr("lock source", err)
	}
	return nil
}

// Snapshot emits one lock event per held lock, without updating the
// release-tracking state.
func (l *Locks) Snapshot(ctx context.Context) ([]schema.Event, error) {
	current, err := l.list()
	if err != nil {
		l.recordFailure(err.Error())
		return nil, err
	}
	now := l.clock.Now()
	var events []schema.Event
	for name, holder := range current {
		events = append(events, l.lockEvent(name, holder, true, now))
	}
	l.recordSuccess(now)
	return events, nil
}

// Stream polls the directory and emits acquisition and release
// transitions.
func (l *Locks) Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error) {
	ticker := l.clock.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		current, err := l.list()
		if err != nil {
			l.recordFailure(err.Error())
		} else {
			now := l.clock.Now()
			l.recordSuccess(now)

			for name, holder := range current {
				if previous, ok := l.held[name]; !ok || previous != holder {
					l.gen[name]++
					select {
					case out <- l.lockEvent(name, holder, true, now):
						cursor.Offset++
					case <-ctx.Done():
						return cursor, nil
					}
				}
			}
			for name, holder := range l.held {
				if _, ok := current[name]; !ok {
					l.gen[name]++
					select {
					case out <- l.lockEvent(name, holder, false, now):
						cursor.Offset++
					case <-ctx.Done():
						return cursor, nil
					}
				}
			}
			l.held = current
		}

		select {
		case <-ctx.Done():
			return cursor, nil
		case <-ticker.C:
		}
	}
}

// list reads current lock holders.
func (l *Locks) list() (map[string]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("listing locks: %w", err)
	}

	current := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".lock")

		data, err := os.ReadFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			l.logger.Warn("lock file unreadable", "lock", name, "error", err)
			continue
		}
		current[name] = lockHolder(data)
	}
	return current, nil
}

// lockHolder extracts the holder from lock file content: a JSON
// object's holder/agent field, or the trimmed content verbatim.
func lockHolder(data []byte) string {
	var record map[string]any
	if err := json.Unmarshal(data, &record); err == nil {
		if holder := stringField(record, "holder", "agent", "owner"); holder != "" {
			return holder
		}
	}
	return strings.TrimSpace(string(data))
}

// lockEvent builds one transition event. The dedup key carries the
// per-lock transition count: a release and later re-acquisition by the
// same holder are distinct facts and must survive the dedup window.
func (l *Locks) lockEvent(name, holder string, held bool, now time.Time) schema.Event {
	severity := schema.SeverityWarn
	action := "acquired"
	if !held {
		severity = schema.SeverityInfo
		action = "released"
	}
	return schema.Event{
		Time:     now,
		Source:   schema.ChannelLocks,
		Provider: l.provider,
		Agent:    holder,
		Kind:     schema.EventLock,
		Severity: severity,
		Text:     fmt.Sprintf("lock %s %s", name, action),
		Fields:   map[string]any{"lock": name, "held": held},
		DedupKey: fmt.Sprintf("lock:%s:%s:%t:%d", name, holder, held, l.gen[name]),
	}
}
