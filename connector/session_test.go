// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"testing"
	"time"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/lib/testutil"
	"github.com/openclaw/observatory/schema"
)

func newTestSessions(t *testing.T, excludeThoughts bool, files map[string]string) *Sessions {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		testutil.WriteFile(t, root, "sessions/"+name, content)
	}
	deadLetter, _ := newTestDeadLetter(t)
	return NewSessions(root+"/sessions", schema.ProviderFilesystem, deadLetter, 1<<16,
		5*time.Millisecond, excludeThoughts, clock.Real(), testLogger())
}

func TestSessionsSnapshotPerAgent(t *testing.T) {
	sessions := newTestSessions(t, false, map[string]string{
		"scout.jsonl": `{"ts":"2026-03-01T09:00:00Z","role":"assistant","text":"on it"}` + "\n" +
			`{"ts":"2026-03-01T09:00:10Z","role":"thinking","text":"considering rollback"}` + "\n",
		"planner.jsonl": `{"ts":"2026-03-01T09:01:00Z","role":"tool","text":"git push"}` + "\n",
	})

	events, err := sessions.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	byAgent := make(map[string][]schema.Event)
	for _, event := range events {
		byAgent[event.Agent] = append(byAgent[event.Agent], event)
	}
	if len(byAgent["scout"]) != 2 || len(byAgent["planner"]) != 1 {
		t.Fatalf("per-agent split = %v", byAgent)
	}
	if byAgent["scout"][1].Kind != schema.EventThought {
		t.Errorf("thinking role kind = %s", byAgent["scout"][1].Kind)
	}
	if byAgent["planner"][0].Kind != schema.EventAction {
		t.Errorf("tool role kind = %s", byAgent["planner"][0].Kind)
	}
	for _, event := range events {
		if event.DedupKey == "" {
			t.Errorf("transcript event missing dedup key: %+v", event)
		}
	}
}

func TestSessionsExcludeThoughts(t *testing.T) {
	sessions := newTestSessions(t, true, map[string]string{
		"scout.jsonl": `{"ts":"2026-03-01T09:00:00Z","role":"assistant","text":"visible"}` + "\n" +
			`{"ts":"2026-03-01T09:00:10Z","role":"thought","text":"hidden"}` + "\n",
	})

	events, err := sessions.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Text != "visible" {
		t.Fatalf("events = %+v, want only the visible message", events)
	}
}

func TestSessionsDedupKeysStableAcrossReads(t *testing.T) {
	files := map[string]string{
		"scout.jsonl": `{"ts":"2026-03-01T09:00:00Z","role":"assistant","text":"same entry"}` + "\n",
	}
	first, err := newTestSessions(t, false, files).Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := newTestSessions(t, false, files).Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first[0].DedupKey != second[0].DedupKey {
		t.Errorf("dedup keys differ across reads: %q vs %q", first[0].DedupKey, second[0].DedupKey)
	}
}

func TestSessionsStreamPicksUpNewTranscripts(t *testing.T) {
	sessions := newTestSessions(t, false, map[string]string{})

	out := make(chan schema.Event, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sessions.Stream(ctx, Cursor{}, out)
	}()

	// A transcript that appears after streaming started is noticed.
	testutil.WriteFile(t, sessions.dir, "late.jsonl",
		`{"ts":"2026-03-01T09:05:00Z","role":"assistant","text":"late arrival"}`+"\n")

	event := testutil.RequireReceive(t, out, 2*time.Second, "event from late transcript")
	if event.Agent != "late" || event.Text != "late arrival" {
		t.Errorf("event = %+v", event)
	}

	cancel()
	testutil.RequireClosed(t, done, 2*time.Second, "session stream shutdown")
}
