// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"testing"
	"time"
)

func fullCapabilities() CapabilityMap {
	m := make(CapabilityMap)
	for _, channel := range CanonicalChannels() {
		m[channel] = Capability{
			Channel:    channel,
			Available:  true,
			Provider:   ProviderFilesystem,
			Confidence: 1,
		}
	}
	return m
}

func TestModeBoundaries(t *testing.T) {
	m := fullCapabilities()
	if got := ModeFor(m); got != ModeStrict {
		t.Errorf("all channels: mode = %s, want strict", got)
	}

	m[ChannelLocks] = Capability{Channel: ChannelLocks, Provider: ProviderNull}
	if got := ModeFor(m); got != ModePortable {
		t.Errorf("six channels: mode = %s, want portable", got)
	}

	if got := ModeFor(make(CapabilityMap)); got != ModeMinimal {
		t.Errorf("no channels: mode = %s, want minimal", got)
	}
}

func TestCoverageRounds(t *testing.T) {
	m := fullCapabilities()
	if got := m.Coverage(); got != 100 {
		t.Errorf("full coverage = %d, want 100", got)
	}

	m[ChannelLocks] = Capability{Channel: ChannelLocks, Provider: ProviderNull}
	// 6/7 = 85.71..., rounds to 86.
	if got := m.Coverage(); got != 86 {
		t.Errorf("6/7 coverage = %d, want 86", got)
	}

	if got := (CapabilityMap{}).Coverage(); got != 0 {
		t.Errorf("empty coverage = %d, want 0", got)
	}
}

func TestProviderPriorityOrder(t *testing.T) {
	order := []ProviderKind{ProviderFilesystem, ProviderCLI, ProviderGateway, ProviderNull}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() <= order[i].Priority() {
			t.Errorf("%s priority %d not above %s priority %d",
				order[i-1], order[i-1].Priority(), order[i], order[i].Priority())
		}
	}
}

func TestEffectiveDedupKey(t *testing.T) {
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := Event{
		Source: ChannelBus,
		Agent:  "scout",
		Kind:   EventMessage,
		Time:   when,
		Text:   "deploy finished",
	}

	// Native key wins.
	withNative := event
	withNative.DedupKey = "id:42"
	if got := withNative.EffectiveDedupKey(); got != "id:42" {
		t.Errorf("native key = %q, want id:42", got)
	}

	// Derived keys are stable across reads and ignore decoration.
	first := event.EffectiveDedupKey()
	decorated := event
	decorated.ID = "different-generated-id"
	decorated.Fields = map[string]any{"extra": true}
	if second := decorated.EffectiveDedupKey(); second != first {
		t.Errorf("derived keys differ: %q vs %q", first, second)
	}

	// Content changes change the key.
	changed := event
	changed.Text = "deploy failed"
	if changed.EffectiveDedupKey() == first {
		t.Error("different content produced equal dedup keys")
	}
}

func TestEventValidate(t *testing.T) {
	good := Event{
		Source: ChannelBus,
		Kind:   EventStatus,
		Time:   time.Now(),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing source", func(e *Event) { e.Source = "" }},
		{"missing kind", func(e *Event) { e.Kind = "" }},
		{"missing time", func(e *Event) { e.Time = time.Time{} }},
	}
	for _, tc := range cases {
		event := good
		tc.mutate(&event)
		err := event.Validate()
		if !errors.Is(err, ErrSchemaViolation) {
			t.Errorf("%s: err = %v, want schema violation", tc.name, err)
		}
	}
}

func TestCronRunSucceeded(t *testing.T) {
	for _, status := range []string{"ok", "success", "done", ""} {
		if !(CronRun{Status: status}).Succeeded() {
			t.Errorf("status %q read as failure", status)
		}
	}
	for _, status := range []string{"error", "failed", "failure", "timeout", "crashed"} {
		if (CronRun{Status: status}).Succeeded() {
			t.Errorf("status %q read as success", status)
		}
	}
}

func TestGraphLookups(t *testing.T) {
	graph := Graph{
		Nodes: []Node{
			{ID: "a", Group: GroupAgent},
			{ID: "d", Group: GroupDecision},
		},
		Edges: []Edge{
			{Source: "a", Target: "d", Label: EdgeDecides},
		},
	}

	if _, ok := graph.FindNode("d"); !ok {
		t.Error("FindNode missed existing node")
	}
	if _, ok := graph.FindNode("zzz"); ok {
		t.Error("FindNode found phantom node")
	}
	if got := len(graph.Neighbors("a")); got != 1 {
		t.Errorf("neighbors of a = %d, want 1", got)
	}
	if graph.Neighbors("orphan") != nil {
		t.Error("neighbors of unknown node should be nil")
	}
}
