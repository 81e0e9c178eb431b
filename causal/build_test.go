// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package causal

import (
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/openclaw/observatory/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func at(minute int) time.Time {
	return time.Date(2026, 3, 1, 10, minute, 0, 0, time.UTC)
}

func testInput() Input {
	return Input{
		Agent: schema.AgentState{Name: "scout", Status: "working"},
		Roots: []schema.RootCause{
			{File: "mission.md", Anchors: []string{"finish the billing migration"}},
		},
		Traces: []schema.DecisionTrace{
			{
				Time:     at(10),
				Agent:    "scout",
				Decision: "starting the billing migration",
				Evidence: []schema.Evidence{
					{Channel: schema.ChannelBus, Time: at(9), Text: "please migrate billing"},
				},
				RootCauses: []schema.RootCause{{File: "mission.md"}},
				Confidence: 0.6,
			},
		},
		Actions: []schema.Event{
			{
				Time: at(11), Source: schema.ChannelCronRuns, Agent: "scout",
				Kind: schema.EventCronRun, Text: "migration batch one applied",
				Fields:   map[string]any{"status": "ok"},
				DedupKey: "run:1",
			},
		},
	}
}

func findEdges(graph *schema.Graph, label schema.EdgeLabel) []schema.Edge {
	var edges []schema.Edge
	for _, edge := range graph.Edges {
		if edge.Label == label {
			edges = append(edges, edge)
		}
	}
	return edges
}

func findByGroup(graph *schema.Graph, group schema.NodeGroup) []schema.Node {
	var nodes []schema.Node
	for _, node := range graph.Nodes {
		if node.Group == group {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

func TestBuildLineage(t *testing.T) {
	graph := NewBuilder(5, testLogger()).Build(testInput())

	for _, group := range []schema.NodeGroup{
		schema.GroupAgent, schema.GroupRoot, schema.GroupDecision,
		schema.GroupAction, schema.GroupOutcomeOK,
	} {
		if len(findByGroup(graph, group)) != 1 {
			t.Errorf("group %s: nodes = %d, want 1", group, len(findByGroup(graph, group)))
		}
	}

	agent := findByGroup(graph, schema.GroupAgent)[0]
	root := findByGroup(graph, schema.GroupRoot)[0]
	decision := findByGroup(graph, schema.GroupDecision)[0]
	action := findByGroup(graph, schema.GroupAction)[0]
	outcome := findByGroup(graph, schema.GroupOutcomeOK)[0]

	if root.Ref != "mission.md" || root.Label != "mission.md" {
		t.Errorf("root node = %+v", root)
	}
	if action.Ref != "run:1" {
		t.Errorf("action ref = %q", action.Ref)
	}

	want := []schema.Edge{
		{Source: root.ID, Target: agent.ID, Label: schema.EdgeConstrains},
		{Source: root.ID, Target: decision.ID, Label: schema.EdgeConstrains},
		{Source: agent.ID, Target: decision.ID, Label: schema.EdgeDecides},
		{Source: decision.ID, Target: action.ID, Label: schema.EdgeTriggers},
		{Source: action.ID, Target: outcome.ID, Label: schema.EdgeResults},
	}
	for _, wanted := range want {
		found := false
		for _, edge := range graph.Edges {
			if edge == wanted {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing edge %+v", wanted)
		}
	}
	if len(graph.Edges) != len(want) {
		t.Errorf("edges = %+v, want exactly %d", graph.Edges, len(want))
	}
}

func TestBuildDeterministic(t *testing.T) {
	builder := NewBuilder(5, testLogger())
	first := builder.Build(testInput())
	second := builder.Build(testInput())
	if !reflect.DeepEqual(first, second) {
		t.Errorf("builds differ:\n%+v\n%+v", first, second)
	}
}

func TestNodeIdentityIgnoresUnrelatedInput(t *testing.T) {
	builder := NewBuilder(5, testLogger())
	plain := builder.Build(testInput())

	enriched := testInput()
	enriched.Roots = append(enriched.Roots, schema.RootCause{File: "extra.md"})
	withExtra := builder.Build(enriched)

	wantID := findByGroup(plain, schema.GroupDecision)[0].ID
	if gotID := findByGroup(withExtra, schema.GroupDecision)[0].ID; gotID != wantID {
		t.Errorf("decision id changed with unrelated input: %q vs %q", gotID, wantID)
	}
}

func TestInfluencesSharedRootCause(t *testing.T) {
	input := testInput()
	// Newest first: the second trace is the older decision.
	input.Traces = []schema.DecisionTrace{
		{
			Time: at(20), Agent: "scout", Decision: "running the second batch",
			RootCauses: []schema.RootCause{{File: "mission.md"}},
		},
		{
			Time: at(10), Agent: "scout", Decision: "starting the billing migration",
			RootCauses: []schema.RootCause{{File: "mission.md"}},
		},
	}
	input.Actions = nil

	graph := NewBuilder(5, testLogger()).Build(input)
	influences := findEdges(graph, schema.EdgeInfluences)
	if len(influences) != 1 {
		t.Fatalf("influences = %+v", influences)
	}

	decisions := findByGroup(graph, schema.GroupDecision)
	var older, newer schema.Node
	for _, node := range decisions {
		if node.Label == "starting the billing migration" {
			older = node
		} else {
			newer = node
		}
	}
	if influences[0].Source != older.ID || influences[0].Target != newer.ID {
		t.Errorf("influence direction = %+v, want older -> newer", influences[0])
	}
}

func TestNoInfluenceWithoutSharedContext(t *testing.T) {
	input := testInput()
	input.Traces = []schema.DecisionTrace{
		{Time: at(20), Agent: "scout", Decision: "writing the weekly report"},
		{Time: at(10), Agent: "scout", Decision: "starting the billing migration",
			RootCauses: []schema.RootCause{{File: "mission.md"}}},
	}
	graph := NewBuilder(5, testLogger()).Build(input)
	if influences := findEdges(graph, schema.EdgeInfluences); len(influences) != 0 {
		t.Errorf("influences = %+v, want none", influences)
	}
}

func TestActionWithoutDecisionsHangsOffAgent(t *testing.T) {
	input := testInput()
	input.Traces = nil
	graph := NewBuilder(5, testLogger()).Build(input)

	agent := findByGroup(graph, schema.GroupAgent)[0]
	triggers := findEdges(graph, schema.EdgeTriggers)
	if len(triggers) != 1 || triggers[0].Source != agent.ID {
		t.Errorf("triggers = %+v, want one edge from the agent node", triggers)
	}
}

func TestOutcomeClassification(t *testing.T) {
	input := testInput()
	input.Actions = []schema.Event{
		{Time: at(11), Source: schema.ChannelCronRuns, Agent: "scout",
			Kind: schema.EventCronRun, Text: "backup crashed",
			Fields: map[string]any{"status": "failed"}, DedupKey: "run:2"},
		{Time: at(12), Source: schema.ChannelRequests, Agent: "scout",
			Kind: schema.EventResult, Severity: schema.SeverityError,
			Text: "request rejected", DedupKey: "res:1"},
		{Time: at(13), Source: schema.ChannelSessions, Agent: "scout",
			Kind: schema.EventAction, Text: "edited config", DedupKey: "act:1"},
	}

	graph := NewBuilder(5, testLogger()).Build(input)
	if bad := findByGroup(graph, schema.GroupOutcomeBad); len(bad) != 2 {
		t.Errorf("outcome_bad = %+v, want 2", bad)
	}
	if ok := findByGroup(graph, schema.GroupOutcomeOK); len(ok) != 0 {
		t.Errorf("outcome_ok = %+v, plain actions have no outcome", ok)
	}
	// All three remain actions regardless of outcome.
	if actions := findByGroup(graph, schema.GroupAction); len(actions) != 3 {
		t.Errorf("actions = %d", len(actions))
	}
}

func TestRankedRootsCapped(t *testing.T) {
	input := testInput()
	input.Roots = []schema.RootCause{
		{File: "a.md"}, {File: "b.md"}, {File: "c.md"},
	}
	graph := NewBuilder(1, testLogger()).Build(input)

	roots := findByGroup(graph, schema.GroupRoot)
	// One ranked root survives the cap; mission.md is admitted anyway
	// because a trace cites it.
	if len(roots) != 2 {
		t.Fatalf("roots = %+v", roots)
	}
	files := map[string]bool{}
	for _, root := range roots {
		files[root.Ref] = true
	}
	if !files["a.md"] || !files["mission.md"] {
		t.Errorf("root files = %v", files)
	}
}

func TestLineageCycleRefused(t *testing.T) {
	graph := newArena(testLogger())
	graph.addEdge("a", "b", schema.EdgeDecides)
	graph.addEdge("b", "c", schema.EdgeTriggers)
	graph.addEdge("c", "a", schema.EdgeResults)
	if len(graph.edges) != 2 {
		t.Errorf("edges = %+v, cycle-closing lineage edge must be refused", graph.edges)
	}

	// Influence edges may close loops across decisions.
	graph.addEdge("c", "a", schema.EdgeInfluences)
	if len(graph.edges) != 3 {
		t.Errorf("edges = %+v, influences edge must be admitted", graph.edges)
	}

	graph.addEdge("a", "a", schema.EdgeDecides)
	graph.addEdge("a", "b", schema.EdgeDecides)
	if len(graph.edges) != 3 {
		t.Errorf("edges = %+v, self loops and duplicates must be dropped", graph.edges)
	}
}
