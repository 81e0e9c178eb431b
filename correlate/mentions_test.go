// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package correlate

import (
	"testing"

	"github.com/openclaw/observatory/schema"
)

func TestMentionDetection(t *testing.T) {
	cases := []struct {
		text string
		name string
		want bool
	}{
		{"hand this off to @scout please", "scout", true},
		{"Scout should take this", "scout", true},
		{"scouting the area", "scout", false},
		{"ping scout-2 about it", "scout", false},
		{"ping scout-2 about it", "scout-2", true},
		{"scout: done", "scout", true},
		{"", "scout", false},
		{"no names here", "scout", false},
	}
	for _, tc := range cases {
		if got := mentions(tc.text, tc.name); got != tc.want {
			t.Errorf("mentions(%q, %q) = %v, want %v", tc.text, tc.name, got, tc.want)
		}
	}
}

func TestInteractionsFromExplicitAddressing(t *testing.T) {
	store := newTestStore()
	store.Apply(statusEvent("planner", "idle", at(0), schema.ProviderFilesystem, "id:p"))

	store.Apply(schema.Event{
		Time: at(1), Source: schema.ChannelBus, Provider: schema.ProviderFilesystem,
		Agent: "scout", Kind: schema.EventMessage,
		Text:     "take over the planner deploy",
		Fields:   map[string]any{"to": "planner"},
		DedupKey: "m:1",
	})

	interactions := store.Interactions(0)
	if len(interactions) != 1 {
		t.Fatalf("interactions = %v", interactions)
	}
	got := interactions[0]
	if got.Source != "scout" || got.Target != "planner" {
		t.Errorf("edge = %s -> %s", got.Source, got.Target)
	}
	if got.Confidence != confidenceExplicit {
		t.Errorf("confidence = %v, want explicit", got.Confidence)
	}
	if got.Kind != schema.InteractionAgentAgent {
		t.Errorf("kind = %s", got.Kind)
	}
}

func TestInteractionsFromMentions(t *testing.T) {
	store := newTestStore()
	store.Apply(statusEvent("planner", "idle", at(0), schema.ProviderFilesystem, "id:p"))
	store.Apply(statusEvent("builder", "idle", at(0), schema.ProviderFilesystem, "id:b"))

	store.Apply(schema.Event{
		Time: at(1), Source: schema.ChannelBus, Provider: schema.ProviderFilesystem,
		Agent: "scout", Kind: schema.EventMessage,
		Text:     "planner and builder should sync on the rollout",
		DedupKey: "m:2",
	})

	interactions := store.Interactions(0)
	if len(interactions) != 2 {
		t.Fatalf("interactions = %d, want 2 mention edges", len(interactions))
	}
	for _, interaction := range interactions {
		if interaction.Confidence != confidenceMention {
			t.Errorf("mention confidence = %v", interaction.Confidence)
		}
	}
}

func TestUserInteractionsClassified(t *testing.T) {
	store := newTestStore()
	store.Apply(statusEvent("scout", "idle", at(0), schema.ProviderFilesystem, "id:s"))

	store.Apply(schema.Event{
		Time: at(1), Source: schema.ChannelBus, Provider: schema.ProviderFilesystem,
		Agent: "user", Kind: schema.EventMessage,
		Text:     "status update please",
		Fields:   map[string]any{"to": "scout"},
		DedupKey: "m:3",
	})

	interactions := store.Interactions(0)
	if len(interactions) != 1 || interactions[0].Kind != schema.InteractionUserAgent {
		t.Errorf("interactions = %+v, want one user_agent edge", interactions)
	}
}

func TestInteractionDedupe(t *testing.T) {
	store := newTestStore()
	store.Apply(statusEvent("planner", "idle", at(0), schema.ProviderFilesystem, "id:p"))

	message := schema.Event{
		Time: at(1), Source: schema.ChannelBus, Provider: schema.ProviderFilesystem,
		Agent: "scout", Kind: schema.EventMessage,
		Text:     "over to planner",
		Fields:   map[string]any{"to": "planner"},
		DedupKey: "m:4",
	}
	store.Apply(message)
	// Same underlying fact replayed on another channel.
	replay := message
	replay.Source = schema.ChannelSessions
	store.Apply(replay)

	if got := len(store.Interactions(0)); got != 1 {
		t.Errorf("interactions = %d, want 1 after replay", got)
	}
}

func TestExplicitAddressingSuppressesMentionFanout(t *testing.T) {
	store := newTestStore()
	store.Apply(statusEvent("planner", "idle", at(0), schema.ProviderFilesystem, "id:p"))
	store.Apply(statusEvent("builder", "idle", at(0), schema.ProviderFilesystem, "id:b"))

	store.Apply(schema.Event{
		Time: at(1), Source: schema.ChannelBus, Provider: schema.ProviderFilesystem,
		Agent: "scout", Kind: schema.EventMessage,
		Text:     "builder broke the build, planner take a look",
		Fields:   map[string]any{"to": "planner"},
		DedupKey: "m:5",
	})

	interactions := store.Interactions(0)
	if len(interactions) != 1 || interactions[0].Target != "planner" {
		t.Errorf("interactions = %+v, want only the explicit target", interactions)
	}
}
