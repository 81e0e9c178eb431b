// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package correlate

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/openclaw/observatory/config"
	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore() *Store {
	return NewStore(config.CorrelateConfig{
		MessageHistory:   3,
		ThoughtHistory:   3,
		DedupWindow:      64,
		CoalesceInterval: 100 * time.Millisecond,
	}, clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), testLogger())
}

func at(second int) time.Time {
	return time.Date(2026, 3, 1, 10, 0, second, 0, time.UTC)
}

func statusEvent(agent, status string, when time.Time, provider schema.ProviderKind, key string) schema.Event {
	return schema.Event{
		Time:     when,
		Source:   schema.ChannelBus,
		Provider: provider,
		Agent:    agent,
		Kind:     schema.EventStatus,
		Text:     status,
		DedupKey: key,
	}
}

func TestApplyDeduplicates(t *testing.T) {
	store := newTestStore()
	event := statusEvent("scout", "working", at(0), schema.ProviderFilesystem, "id:1")

	if changed := store.Apply(event); len(changed) != 1 {
		t.Fatalf("first apply changed = %v", changed)
	}
	if changed := store.Apply(event); changed != nil {
		t.Fatalf("replay changed = %v, want nil", changed)
	}
	if store.Applied() != 1 {
		t.Errorf("applied = %d, want 1", store.Applied())
	}
}

func TestFieldMonotonicity(t *testing.T) {
	store := newTestStore()
	store.Apply(statusEvent("scout", "working", at(10), schema.ProviderFilesystem, "id:1"))

	// A stale status arriving later cannot win.
	store.Apply(statusEvent("scout", "idle", at(5), schema.ProviderFilesystem, "id:2"))
	state, err := store.Agent("scout")
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != "working" {
		t.Errorf("status = %q, stale event overwrote fresher value", state.Status)
	}

	// A fresher one can.
	store.Apply(statusEvent("scout", "blocked", at(20), schema.ProviderFilesystem, "id:3"))
	state, _ = store.Agent("scout")
	if state.Status != "blocked" {
		t.Errorf("status = %q, want blocked", state.Status)
	}
}

func TestTimestampTieBreaks(t *testing.T) {
	// Same timestamp: higher-priority provider wins regardless of
	// arrival order.
	store := newTestStore()
	store.Apply(statusEvent("scout", "from-gateway", at(10), schema.ProviderGateway, "id:a"))
	store.Apply(statusEvent("scout", "from-filesystem", at(10), schema.ProviderFilesystem, "id:b"))
	state, _ := store.Agent("scout")
	if state.Status != "from-filesystem" {
		t.Errorf("status = %q, want filesystem to win the tie", state.Status)
	}
	// And the loser cannot overwrite after the fact.
	store.Apply(statusEvent("scout", "from-gateway-again", at(10), schema.ProviderGateway, "id:c"))
	state, _ = store.Agent("scout")
	if state.Status != "from-filesystem" {
		t.Errorf("status = %q, lower priority overwrote at equal time", state.Status)
	}

	// Equal provider: lexicographically larger dedup key wins, in
	// either arrival order.
	for name, order := range map[string][]string{
		"small first": {"id:aaa", "id:zzz"},
		"large first": {"id:zzz", "id:aaa"},
	} {
		store := newTestStore()
		store.Apply(statusEvent("scout", "status-"+order[0], at(10), schema.ProviderFilesystem, order[0]))
		store.Apply(statusEvent("scout", "status-"+order[1], at(10), schema.ProviderFilesystem, order[1]))
		state, _ := store.Agent("scout")
		if state.Status != "status-id:zzz" {
			t.Errorf("%s: status = %q, want the larger key's value", name, state.Status)
		}
	}
}

func TestStatusCarriesResourceTelemetry(t *testing.T) {
	store := newTestStore()

	event := statusEvent("scout", "working", at(10), schema.ProviderFilesystem, "id:1")
	event.Fields = map[string]any{"memory_mb": 384.5, "total_tokens": 42000.0}
	store.Apply(event)

	state, err := store.Agent("scout")
	if err != nil {
		t.Fatal(err)
	}
	if state.MemoryMB != 384.5 || state.TotalTokens != 42000 {
		t.Errorf("resources = %v MB / %d tokens", state.MemoryMB, state.TotalTokens)
	}

	// A later status without resource fields keeps the last values.
	store.Apply(statusEvent("scout", "idle", at(20), schema.ProviderFilesystem, "id:2"))
	state, _ = store.Agent("scout")
	if state.MemoryMB != 384.5 || state.TotalTokens != 42000 {
		t.Errorf("resources dropped on plain status: %v MB / %d tokens", state.MemoryMB, state.TotalTokens)
	}

	// A stale status cannot rewind them.
	stale := statusEvent("scout", "working", at(5), schema.ProviderFilesystem, "id:3")
	stale.Fields = map[string]any{"memory_mb": 1.0, "total_tokens": 1}
	store.Apply(stale)
	state, _ = store.Agent("scout")
	if state.MemoryMB != 384.5 || state.TotalTokens != 42000 {
		t.Errorf("stale event rewrote resources: %v MB / %d tokens", state.MemoryMB, state.TotalTokens)
	}

	// Integer-typed fields decode too.
	integer := statusEvent("scout", "working", at(30), schema.ProviderFilesystem, "id:4")
	integer.Fields = map[string]any{"memory_mb": int64(512), "total_tokens": uint64(50000)}
	store.Apply(integer)
	state, _ = store.Agent("scout")
	if state.MemoryMB != 512 || state.TotalTokens != 50000 {
		t.Errorf("integer fields = %v MB / %d tokens", state.MemoryMB, state.TotalTokens)
	}
}

func TestSnapshotOrderIndependence(t *testing.T) {
	events := []schema.Event{
		statusEvent("scout", "idle", at(1), schema.ProviderFilesystem, "id:1"),
		statusEvent("scout", "working", at(2), schema.ProviderFilesystem, "id:2"),
		statusEvent("scout", "done", at(3), schema.ProviderFilesystem, "id:3"),
	}
	reversed := []schema.Event{events[2], events[1], events[0]}

	forward := newTestStore()
	forward.ApplySnapshot(events)
	backward := newTestStore()
	backward.ApplySnapshot(reversed)

	a, _ := forward.Agent("scout")
	b, _ := backward.Agent("scout")
	if a.Status != b.Status || a.Status != "done" {
		t.Errorf("order dependence: %q vs %q", a.Status, b.Status)
	}
}

func TestMessageAndThoughtHistoryBounded(t *testing.T) {
	store := newTestStore()
	for i := 0; i < 5; i++ {
		store.Apply(schema.Event{
			Time: at(i), Source: schema.ChannelSessions, Provider: schema.ProviderFilesystem,
			Agent: "scout", Kind: schema.EventThought,
			Text:     "thought",
			DedupKey: "t:" + string(rune('a'+i)),
		})
	}
	state, _ := store.Agent("scout")
	if len(state.Thoughts) != 3 {
		t.Errorf("thoughts = %d, want bounded at 3", len(state.Thoughts))
	}
	// Newest retained.
	if !state.Thoughts[2].Time.Equal(at(4)) {
		t.Errorf("newest thought time = %v", state.Thoughts[2].Time)
	}
}

func TestInterruptedTaskTracking(t *testing.T) {
	store := newTestStore()
	store.Apply(schema.Event{
		Time: at(0), Source: schema.ChannelBus, Provider: schema.ProviderFilesystem,
		Agent: "scout", Kind: schema.EventStatus, Text: "working",
		Fields:   map[string]any{"task": "migrate billing"},
		DedupKey: "id:1",
	})
	store.Apply(statusEvent("scout", "crashed", at(5), schema.ProviderFilesystem, "id:2"))

	state, _ := store.Agent("scout")
	if state.Task != "" {
		t.Errorf("task = %q, want cleared", state.Task)
	}
	if len(state.InterruptedTasks) != 1 || state.InterruptedTasks[0] != "migrate billing" {
		t.Errorf("interrupted = %v", state.InterruptedTasks)
	}
}

func TestCronJobAndRunMerge(t *testing.T) {
	store := newTestStore()
	store.Apply(schema.Event{
		Time: at(0), Source: schema.ChannelCronJobs, Provider: schema.ProviderFilesystem,
		Agent: "scout", Kind: schema.EventCronJob,
		Fields: map[string]any{
			"job_id": "nightly", "name": "Nightly report", "enabled": true,
			"schedule": "0 2 * * *", "last_status": "ok",
		},
		DedupKey: "cronjob:nightly:1",
	})
	store.Apply(schema.Event{
		Time: at(30), Source: schema.ChannelCronRuns, Provider: schema.ProviderFilesystem,
		Agent: "scout", Kind: schema.EventCronRun,
		Fields:   map[string]any{"job_id": "nightly", "status": "failed", "duration_ms": float64(900)},
		DedupKey: "id:run-1",
	})

	state, _ := store.Agent("scout")
	if len(state.CronJobs) != 1 {
		t.Fatalf("jobs = %v", state.CronJobs)
	}
	job := state.CronJobs[0]
	if job.LastStatus != "failed" || !job.LastRun.Equal(at(30)) {
		t.Errorf("job after run = %+v", job)
	}
	if job.LastDuration != 900*time.Millisecond {
		t.Errorf("duration = %v", job.LastDuration)
	}
}

func TestLockMerge(t *testing.T) {
	store := newTestStore()
	lockEvent := func(held bool, when time.Time, key string) schema.Event {
		return schema.Event{
			Time: when, Source: schema.ChannelLocks, Provider: schema.ProviderFilesystem,
			Agent: "scout", Kind: schema.EventLock,
			Fields:   map[string]any{"lock": "deploy", "held": held},
			DedupKey: key,
		}
	}
	store.Apply(lockEvent(true, at(0), "l:1"))
	state, _ := store.Agent("scout")
	if len(state.HeldLocks) != 1 || state.HeldLocks[0] != "deploy" {
		t.Fatalf("held = %v", state.HeldLocks)
	}
	store.Apply(lockEvent(false, at(5), "l:2"))
	state, _ = store.Agent("scout")
	if len(state.HeldLocks) != 0 {
		t.Errorf("held after release = %v", state.HeldLocks)
	}
}

func TestLockReacquireWithinDedupWindow(t *testing.T) {
	store := newTestStore()
	lockEvent := func(held bool, when time.Time, transition int) schema.Event {
		return schema.Event{
			Time: when, Source: schema.ChannelLocks, Provider: schema.ProviderFilesystem,
			Agent: "scout", Kind: schema.EventLock,
			Fields: map[string]any{"lock": "deploy", "held": held},
			// The lock connector's key shape: state plus a per-lock
			// transition count.
			DedupKey: fmt.Sprintf("lock:deploy:scout:%t:%d", held, transition),
		}
	}
	store.Apply(lockEvent(true, at(0), 1))
	store.Apply(lockEvent(false, at(5), 2))
	store.Apply(lockEvent(true, at(10), 3))

	state, _ := store.Agent("scout")
	if len(state.HeldLocks) != 1 || state.HeldLocks[0] != "deploy" {
		t.Errorf("held after re-acquire = %v, want [deploy]", state.HeldLocks)
	}
}

func TestRequestTracking(t *testing.T) {
	store := newTestStore()
	store.Apply(schema.Event{
		ID: "req-1", Time: at(0), Source: schema.ChannelRequests,
		Provider: schema.ProviderFilesystem, Agent: "scout",
		Kind: schema.EventRequest, DedupKey: "request:req-1",
	})
	state, _ := store.Agent("scout")
	if state.PendingRequests != 1 {
		t.Fatalf("pending = %d, want 1", state.PendingRequests)
	}

	store.Apply(schema.Event{
		ID: "res-1", Time: at(10), Source: schema.ChannelRequests,
		Provider: schema.ProviderFilesystem, Agent: "scout",
		Kind: schema.EventResult, ParentID: "req-1", DedupKey: "result:req-1:ok",
	})
	state, _ = store.Agent("scout")
	if state.PendingRequests != 0 {
		t.Errorf("pending after result = %d", state.PendingRequests)
	}
}

func TestAgentNotFound(t *testing.T) {
	store := newTestStore()
	_, err := store.Agent("phantom")
	if !errors.Is(err, schema.ErrAgentNotFound) {
		t.Errorf("err = %v, want agent not found", err)
	}
}

func TestReaderIsolation(t *testing.T) {
	store := newTestStore()
	store.Apply(schema.Event{
		Time: at(0), Source: schema.ChannelBus, Provider: schema.ProviderFilesystem,
		Agent: "scout", Kind: schema.EventMessage, Text: "hello", DedupKey: "m:1",
	})

	state, _ := store.Agent("scout")
	state.Messages[0].Text = "mutated"
	state.Status = "mutated"

	fresh, _ := store.Agent("scout")
	if fresh.Messages[0].Text != "hello" || fresh.Status == "mutated" {
		t.Error("reader mutation leaked into store")
	}
}
