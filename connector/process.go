// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// Process observes agent process liveness through pid files: a
// directory of <agent>.pid files, each holding a pid. Liveness is
// checked with a zero signal; a stale pid file whose process is gone
// reads as dead, not absent.
type Process struct {
	healthTracker

	dir      string
	provider schema.ProviderKind
	poll     time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	// signal is injectable for tests. The default sends signal 0.
	signal func(pid int) error

	last map[string]procState // agent -> last observed state
	gen  map[string]int       // agent -> observed transition count
}

// procState is one agent's observed liveness.
type procState struct {
	pid   int
	alive bool
}

// NewProcess returns a process liveness connector over the given pid
// file directory.
func NewProcess(dir string, provider schema.ProviderKind, poll time.Duration, clk clock.Clock, logger *slog.Logger) *Process {
	return &Process{
		dir:      dir,
		provider: provider,
		poll:     poll,
		clock:    clk,
		logger:   logger.With("connector", "process"),
		signal: func(pid int) error {
			return unix.Kill(pid, 0)
		},
		last: make(map[string]procState),
		gen:  make(map[string]int),
	}
}

func (p *Process) Channel() schema.Channel { return schema.ChannelProcess }

func (p *Process) Discover(ctx context.Context) error {
	if _, err := os.ReadDir(p.dir); err != nil {
		return sourceErr("process source", err)
	}
	return nil
}

// Snapshot emits one heartbeat event per pid file.
func (p *Process) Snapshot(ctx context.Context) ([]schema.Event, error) {
	events, err := p.observe()
	if err != nil {
		p.recordFailure(err.Error())
		return nil, err
	}
	p.recordSuccess(p.clock.Now())
	return events, nil
}

// Stream polls liveness. Dedup keys encode agent, pid, aliveness, and
// a transition count, so steady state produces no new facts downstream
// while every state change — including a process dying and coming back
// under the same pid — survives dedup as its own event.
func (p *Process) Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error) {
	ticker := p.clock.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		events, err := p.observe()
		if err != nil {
			p.recordFailure(err.Error())
		} else {
			p.recordSuccess(p.clock.Now())
			for _, event := range events {
				select {
				case out <- event:
					cursor.Offset++
				case <-ctx.Done():
					return cursor, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return cursor, nil
		case <-ticker.C:
		}
	}
}

func (p *Process) observe() ([]schema.Event, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("listing pid files: %w", err)
	}

	now := p.clock.Now()
	var events []schema.Event
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pid") {
			continue
		}
		agent := strings.TrimSuffix(entry.Name(), ".pid")

		data, err := os.ReadFile(filepath.Join(p.dir, entry.Name()))
		if err != nil {
			p.logger.Warn("pid file unreadable", "agent", agent, "error", err)
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || pid <= 0 {
			p.logger.Warn("pid file malformed", "agent", agent)
			continue
		}

		alive := p.signal(pid) == nil
		severity := schema.SeverityInfo
		if !alive {
			severity = schema.SeverityWarn
		}

		current := procState{pid: pid, alive: alive}
		if previous, seen := p.last[agent]; seen && previous != current {
			p.gen[agent]++
		}
		p.last[agent] = current

		events = append(events, schema.Event{
			Time:     now,
			Source:   schema.ChannelProcess,
			Provider: p.provider,
			Agent:    agent,
			Kind:     schema.EventHeartbeat,
			Severity: severity,
			Fields:   map[string]any{"pid": pid, "alive": alive},
			DedupKey: fmt.Sprintf("proc:%s:%d:%t:%d", agent, pid, alive, p.gen[agent]),
		})
	}
	return events, nil
}
