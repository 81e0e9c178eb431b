// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// NodeGroup classifies a causal graph node for display and traversal.
type NodeGroup string

const (
	// GroupRoot: a workspace context document acting as a standing
	// constraint.
	GroupRoot NodeGroup = "root"

	GroupAgent    NodeGroup = "agent"
	GroupDecision NodeGroup = "decision"
	GroupAction   NodeGroup = "action"

	// GroupOutcomeOK and GroupOutcomeBad: terminal results.
	GroupOutcomeOK  NodeGroup = "outcome_ok"
	GroupOutcomeBad NodeGroup = "outcome_bad"
)

// EdgeLabel names the causal relation an edge asserts.
type EdgeLabel string

const (
	// EdgeConstrains: root document -> agent.
	EdgeConstrains EdgeLabel = "constrains"

	// EdgeDecides: agent -> decision.
	EdgeDecides EdgeLabel = "decides"

	// EdgeInfluences: decision -> decision, when one agent's
	// decision plausibly shaped another's.
	EdgeInfluences EdgeLabel = "influences"

	// EdgeTriggers: decision -> action.
	EdgeTriggers EdgeLabel = "triggers"

	// EdgeResults: action -> outcome.
	EdgeResults EdgeLabel = "results"
)

// Node is one vertex of the causal graph. ID is derived from content,
// never from insertion order: the same swarm history always produces
// the same ids, so clients can bookmark a node across rebuilds.
type Node struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Group NodeGroup `json:"group"`

	// Agent is the owning agent for agent/decision/action/outcome
	// nodes; empty for roots.
	Agent string `json:"agent,omitempty"`

	// Ref locates the node's source: a document path for roots, a
	// dedup key for event-derived nodes.
	Ref string `json:"ref,omitempty"`
}

// Edge is one directed labelled edge between node ids.
type Edge struct {
	Source string    `json:"source"`
	Target string    `json:"target"`
	Label  EdgeLabel `json:"label"`
}

// Graph is a complete causal graph build. Nodes and Edges are in
// deterministic order for byte-stable responses over unchanged input.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// FindNode returns the node with the given id, or false.
func (g *Graph) FindNode(id string) (Node, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

// Neighbors returns edges touching the given node id, incoming and
// outgoing, in graph order.
func (g *Graph) Neighbors(id string) []Edge {
	var edges []Edge
	for _, edge := range g.Edges {
		if edge.Source == id || edge.Target == id {
			edges = append(edges, edge)
		}
	}
	return edges
}
