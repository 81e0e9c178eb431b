// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package causal

import (
	"encoding/hex"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/openclaw/observatory/schema"
)

const (
	// maxDecisionNodes and maxActionNodes bound one build. Traces
	// arrive newest first and actions oldest first, so the caps keep
	// the most recent of each.
	maxDecisionNodes = 12
	maxActionNodes   = 14

	maxNodeLabelRunes = 120
)

// Input is everything one graph build reads. Traces are expected
// newest first (inference order); Actions oldest first (timeline
// order). Roots are the ranked context documents for the agent,
// strongest match first.
type Input struct {
	Agent   schema.AgentState
	Traces  []schema.DecisionTrace
	Roots   []schema.RootCause
	Actions []schema.Event
}

// Builder turns fused agent state into a causal graph. maxRoots bounds
// how many ranked context documents become root nodes; documents cited
// by a trace's root causes are always admitted on top of that.
type Builder struct {
	maxRoots int
	logger   *slog.Logger
}

func NewBuilder(maxRoots int, logger *slog.Logger) *Builder {
	if maxRoots < 1 {
		maxRoots = 1
	}
	return &Builder{maxRoots: maxRoots, logger: logger}
}

// Build constructs the graph. Two builds over equal input produce
// identical node and edge sequences.
func (b *Builder) Build(input Input) *schema.Graph {
	graph := newArena(b.logger)

	agentID := nodeID(schema.GroupAgent, input.Agent.Name)
	graph.addNode(schema.Node{
		ID:    agentID,
		Label: input.Agent.Name,
		Group: schema.GroupAgent,
		Agent: input.Agent.Name,
	})

	roots := input.Roots
	if len(roots) > b.maxRoots {
		roots = roots[:b.maxRoots]
	}
	for _, root := range roots {
		graph.addEdge(b.rootNode(graph, root.File), agentID, schema.EdgeConstrains)
	}

	type builtDecision struct {
		id        string
		rootFiles map[string]bool
		evidence  map[string]bool
		time      time.Time
	}
	var decisions []builtDecision

	traces := input.Traces
	if len(traces) > maxDecisionNodes {
		traces = traces[:maxDecisionNodes]
	}
	for _, trace := range traces {
		decisionID := nodeID(schema.GroupDecision,
			trace.Agent,
			trace.Time.UTC().Format(time.RFC3339Nano),
			trace.Decision,
		)
		graph.addNode(schema.Node{
			ID:    decisionID,
			Label: clipLabel(trace.Decision),
			Group: schema.GroupDecision,
			Agent: trace.Agent,
		})
		graph.addEdge(agentID, decisionID, schema.EdgeDecides)

		built := builtDecision{
			id:        decisionID,
			rootFiles: make(map[string]bool),
			evidence:  make(map[string]bool),
			time:      trace.Time,
		}
		for _, cause := range trace.RootCauses {
			built.rootFiles[cause.File] = true
			graph.addEdge(b.rootNode(graph, cause.File), decisionID, schema.EdgeConstrains)
		}
		for _, item := range trace.Evidence {
			built.evidence[strings.ToLower(strings.TrimSpace(item.Text))] = true
		}

		// Traces are newest first, so every already-built decision is
		// newer: shared context means this one plausibly shaped it.
		for _, newer := range decisions {
			if newer.id == decisionID {
				continue
			}
			if sharesAny(built.rootFiles, newer.rootFiles) || sharesAny(built.evidence, newer.evidence) {
				graph.addEdge(decisionID, newer.id, schema.EdgeInfluences)
			}
		}
		decisions = append(decisions, built)
	}

	actions := eligibleActions(input.Actions)
	if len(actions) > maxActionNodes {
		actions = actions[len(actions)-maxActionNodes:]
	}
	for _, action := range actions {
		dedupKey := action.EffectiveDedupKey()
		actionID := nodeID(schema.GroupAction, dedupKey)
		label := strings.TrimSpace(action.Text)
		if label == "" {
			label = string(action.Kind)
		}
		graph.addNode(schema.Node{
			ID:    actionID,
			Label: clipLabel(label),
			Group: schema.GroupAction,
			Agent: action.Agent,
			Ref:   dedupKey,
		})

		// The action follows from the most recent decision at or
		// before it; without a datable decision it hangs off the
		// agent directly.
		triggerID := agentID
		for _, decision := range decisions {
			if !decision.time.After(action.Time) {
				triggerID = decision.id
				break
			}
		}
		graph.addEdge(triggerID, actionID, schema.EdgeTriggers)

		if group, ok := outcomeGroup(action); ok {
			outcomeID := nodeID(group, dedupKey)
			graph.addNode(schema.Node{
				ID:    outcomeID,
				Label: clipLabel(outcomeLabel(action, label)),
				Group: group,
				Agent: action.Agent,
				Ref:   dedupKey,
			})
			graph.addEdge(actionID, outcomeID, schema.EdgeResults)
		}
	}

	return graph.finish()
}

// rootNode ensures the root node for a document exists and returns its
// id. Roots are shared between the ranked context set and trace root
// causes; identity is the document path, so both converge on one node.
func (b *Builder) rootNode(graph *arena, file string) string {
	id := nodeID(schema.GroupRoot, file)
	graph.addNode(schema.Node{
		ID:    id,
		Label: path.Base(file),
		Group: schema.GroupRoot,
		Ref:   file,
	})
	return id
}

// eligibleActions keeps the timeline entries that read as the agent
// doing something with an observable result.
func eligibleActions(events []schema.Event) []schema.Event {
	var actions []schema.Event
	for _, event := range events {
		switch event.Kind {
		case schema.EventAction, schema.EventResult, schema.EventCronRun:
			actions = append(actions, event)
		}
	}
	return actions
}

// outcomeGroup classifies an action's terminal result. Plain actions
// have no terminal result and contribute no outcome node.
func outcomeGroup(event schema.Event) (schema.NodeGroup, bool) {
	switch event.Kind {
	case schema.EventCronRun:
		status, _ := event.Fields["status"].(string)
		if (schema.CronRun{Status: status}).Succeeded() {
			return schema.GroupOutcomeOK, true
		}
		return schema.GroupOutcomeBad, true
	case schema.EventResult:
		if event.Severity == schema.SeverityError {
			return schema.GroupOutcomeBad, true
		}
		return schema.GroupOutcomeOK, true
	}
	return "", false
}

func outcomeLabel(event schema.Event, fallback string) string {
	if status, _ := event.Fields["status"].(string); status != "" {
		return status + ": " + fallback
	}
	return fallback
}

// nodeID derives a stable node id from the node's semantic key. The
// group is part of the digest and the readable prefix, so an action and
// its outcome derived from the same event never collide.
func nodeID(group schema.NodeGroup, parts ...string) string {
	h := blake3.New()
	h.Write([]byte(group))
	h.Write([]byte{0})
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return string(group) + ":" + hex.EncodeToString(sum[:8])
}

func clipLabel(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxNodeLabelRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxNodeLabelRunes-1]) + "…"
}

func sharesAny(a, b map[string]bool) bool {
	for key := range a {
		if key != "" && b[key] {
			return true
		}
	}
	return false
}

// arena accumulates nodes and edges keyed by content-derived id.
// Insertion order is the output order, so determinism reduces to the
// caller iterating its input deterministically.
type arena struct {
	nodes   []schema.Node
	nodeSet map[string]bool
	edges   []schema.Edge
	edgeSet map[schema.Edge]bool

	// lineage holds adjacency for every edge except influences, the
	// one label allowed to close cross-decision loops.
	lineage map[string][]string

	logger *slog.Logger
}

func newArena(logger *slog.Logger) *arena {
	return &arena{
		nodeSet: make(map[string]bool),
		edgeSet: make(map[schema.Edge]bool),
		lineage: make(map[string][]string),
		logger:  logger,
	}
}

// addNode registers a node once; re-adding an existing id is a no-op,
// which is how shared roots and replayed inputs converge.
func (a *arena) addNode(node schema.Node) {
	if a.nodeSet[node.ID] {
		return
	}
	a.nodeSet[node.ID] = true
	a.nodes = append(a.nodes, node)
}

// addEdge registers a directed edge, dropping duplicates, self loops,
// and lineage edges that would close a cycle.
func (a *arena) addEdge(source, target string, label schema.EdgeLabel) {
	if source == target {
		return
	}
	edge := schema.Edge{Source: source, Target: target, Label: label}
	if a.edgeSet[edge] {
		return
	}
	if label != schema.EdgeInfluences && a.reaches(target, source) {
		a.logger.Debug("refusing cyclic lineage edge",
			"source", source,
			"target", target,
			"label", label,
		)
		return
	}
	a.edgeSet[edge] = true
	a.edges = append(a.edges, edge)
	if label != schema.EdgeInfluences {
		a.lineage[source] = append(a.lineage[source], target)
	}
}

// reaches reports whether target is reachable from start over lineage
// edges.
func (a *arena) reaches(start, target string) bool {
	if start == target {
		return true
	}
	visited := map[string]bool{start: true}
	frontier := []string{start}
	for len(frontier) > 0 {
		current := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, next := range a.lineage[current] {
			if next == target {
				return true
			}
			if !visited[next] {
				visited[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return false
}

func (a *arena) finish() *schema.Graph {
	return &schema.Graph{Nodes: a.nodes, Edges: a.edges}
}
