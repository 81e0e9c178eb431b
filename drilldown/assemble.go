// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package drilldown

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openclaw/observatory/causal"
	"github.com/openclaw/observatory/correlate"
	"github.com/openclaw/observatory/docscan"
	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
	"github.com/openclaw/observatory/trace"
)

const (
	// timelineWindow bounds how much of the recent event stream one
	// drilldown considers.
	timelineWindow = 220

	maxCronTimeline = 180
	maxContextRoots = 6
	maxNodeEdges    = 30
)

// Overview is the at-a-glance section: who the agent is, what it is
// doing, and what its schedule looks like. NextUp and LastSeenFor are
// humanized for direct display.
type Overview struct {
	Agent    string    `json:"agent"`
	Status   string    `json:"status,omitempty"`
	Task     string    `json:"task,omitempty"`
	Alive    bool      `json:"alive"`
	LastSeen time.Time `json:"last_seen,omitzero"`

	// LastSeenFor reads like "3 minutes ago"; empty when the agent
	// has never been seen.
	LastSeenFor string `json:"last_seen_for,omitempty"`

	ActiveJobs int `json:"active_jobs"`

	// NextUp names the soonest scheduled job, like
	// "daily-report in 2 hours"; empty when nothing is scheduled.
	NextUp string `json:"next_up,omitempty"`

	// LastErrors lists jobs whose most recent run failed.
	LastErrors []string `json:"last_errors,omitempty"`

	HeldLocks       []string `json:"held_locks,omitempty"`
	PendingRequests int      `json:"pending_requests,omitempty"`
}

// CronEntry is one row of the chronological cron timeline: a past run
// or a scheduled next execution.
type CronEntry struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"` // "run" or "next_run"
	Job     string    `json:"job"`
	Status  string    `json:"status,omitempty"`
	Summary string    `json:"summary,omitempty"`
}

// Package is the complete drilldown for one agent.
type Package struct {
	Agent       string    `json:"agent"`
	GeneratedAt time.Time `json:"generated_at"`

	Overview     Overview               `json:"overview"`
	Timeline     []schema.Event         `json:"timeline"`
	Decisions    []schema.DecisionTrace `json:"decisions"`
	CronJobs     []schema.CronJob       `json:"cron_jobs"`
	CronTimeline []CronEntry            `json:"cron_timeline"`
	ContextRoots []docscan.Ranked       `json:"context_roots"`
	Graph        *schema.Graph          `json:"causal_graph"`
}

// DocumentDetail is the resolved context document behind a root node.
type DocumentDetail struct {
	File    string   `json:"file"`
	Anchors []string `json:"anchors,omitempty"`
	Sample  string   `json:"sample,omitempty"`
}

// NodeDetail is the deep-dive for one causal graph node.
type NodeDetail struct {
	Agent    string        `json:"agent"`
	Node     schema.Node   `json:"node"`
	Inbound  []schema.Edge `json:"inbound_edges"`
	Outbound []schema.Edge `json:"outbound_edges"`
	Related  []schema.Node `json:"related_nodes"`

	// Document is set when the node references a discovered context
	// document.
	Document *DocumentDetail `json:"document,omitempty"`
}

// Assembler composes drilldown packages. Documents are rescanned and
// traces and graphs recomputed per request; only the correlation store
// carries state between calls.
type Assembler struct {
	store      *correlate.Store
	scanner    *docscan.Scanner
	inferencer *trace.Inferencer
	builder    *causal.Builder
	clock      clock.Clock
	logger     *slog.Logger
}

// NewAssembler wires an assembler. maxRoots bounds causal-graph root
// nodes, normally config.ActivationCap().
func NewAssembler(store *correlate.Store, scanner *docscan.Scanner, maxRoots int, clk clock.Clock, logger *slog.Logger) *Assembler {
	return &Assembler{
		store:      store,
		scanner:    scanner,
		inferencer: trace.NewInferencer(logger),
		builder:    causal.NewBuilder(maxRoots, logger),
		clock:      clk,
		logger:     logger,
	}
}

// Agent assembles the full package for one agent. Returns
// schema.ErrAgentNotFound (wrapped) when the correlation store has
// never seen the name.
func (a *Assembler) Agent(name string) (*Package, error) {
	state, err := a.store.Agent(name)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	timeline := a.agentTimeline(name)
	docs := a.scanner.Scan()
	decisions := a.inferencer.Infer(state, timeline, docs)
	roots := docs.Rank(rankContext(state, decisions), maxContextRoots)

	graph := a.builder.Build(causal.Input{
		Agent:   state,
		Traces:  decisions,
		Roots:   rootCauses(roots),
		Actions: timeline,
	})

	pkg := &Package{
		Agent:        state.Name,
		GeneratedAt:  now,
		Overview:     buildOverview(state, now),
		Timeline:     timeline,
		Decisions:    decisions,
		CronJobs:     state.CronJobs,
		CronTimeline: buildCronTimeline(state.CronJobs, timeline),
		ContextRoots: roots,
		Graph:        graph,
	}
	a.logger.Debug("drilldown assembled",
		"agent", state.Name,
		"timeline", len(timeline),
		"decisions", len(decisions),
		"nodes", len(graph.Nodes),
	)
	return pkg, nil
}

// Node assembles the deep-dive for one graph node within an agent's
// graph. Returns schema.ErrNodeNotFound when the id is absent from the
// current build.
func (a *Assembler) Node(agentName, nodeID string) (*NodeDetail, error) {
	pkg, err := a.Agent(agentName)
	if err != nil {
		return nil, err
	}

	node, ok := pkg.Graph.FindNode(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrNodeNotFound, nodeID)
	}

	detail := &NodeDetail{Agent: pkg.Agent, Node: node}
	relatedIDs := make(map[string]bool)
	for _, edge := range pkg.Graph.Neighbors(nodeID) {
		if edge.Target == nodeID && len(detail.Inbound) < maxNodeEdges {
			detail.Inbound = append(detail.Inbound, edge)
			relatedIDs[edge.Source] = true
		}
		if edge.Source == nodeID && len(detail.Outbound) < maxNodeEdges {
			detail.Outbound = append(detail.Outbound, edge)
			relatedIDs[edge.Target] = true
		}
	}
	for _, candidate := range pkg.Graph.Nodes {
		if relatedIDs[candidate.ID] && candidate.ID != nodeID {
			detail.Related = append(detail.Related, candidate)
		}
	}

	if node.Group == schema.GroupRoot && node.Ref != "" {
		detail.Document = resolveDocument(pkg.ContextRoots, node.Ref)
	}
	return detail, nil
}

// agentTimeline filters the recent event window down to one agent,
// oldest first.
func (a *Assembler) agentTimeline(name string) []schema.Event {
	var timeline []schema.Event
	for _, event := range a.store.Recent(0) {
		if event.Agent == name {
			timeline = append(timeline, event)
		}
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Time.Before(timeline[j].Time)
	})
	if len(timeline) > timelineWindow {
		timeline = timeline[len(timeline)-timelineWindow:]
	}
	return timeline
}

func buildOverview(state schema.AgentState, now time.Time) Overview {
	overview := Overview{
		Agent:           state.Name,
		Status:          state.Status,
		Task:            state.Task,
		Alive:           state.Alive,
		LastSeen:        state.LastSeen,
		HeldLocks:       state.HeldLocks,
		PendingRequests: state.PendingRequests,
	}
	if !state.LastSeen.IsZero() {
		overview.LastSeenFor = humanize.RelTime(state.LastSeen, now, "ago", "from now")
	}

	var soonest schema.CronJob
	for _, job := range state.CronJobs {
		if !job.Enabled {
			continue
		}
		overview.ActiveJobs++
		if !job.NextRun.IsZero() && (soonest.NextRun.IsZero() || job.NextRun.Before(soonest.NextRun)) {
			soonest = job
		}
		if job.LastStatus != "" && !(schema.CronRun{Status: job.LastStatus}).Succeeded() {
			overview.LastErrors = append(overview.LastErrors,
				fmt.Sprintf("%s: %s", job.Name, job.LastStatus))
		}
	}
	if !soonest.NextRun.IsZero() {
		overview.NextUp = fmt.Sprintf("%s %s", soonest.Name,
			humanize.RelTime(soonest.NextRun, now, "ago", "from now"))
	}
	return overview
}

// buildCronTimeline merges scheduled next runs from job state with
// observed run events, oldest first. Run events carry only the job id;
// the name is resolved through the agent's job state.
func buildCronTimeline(jobs []schema.CronJob, timeline []schema.Event) []CronEntry {
	names := make(map[string]string, len(jobs))
	var entries []CronEntry
	for _, job := range jobs {
		if job.Name != "" {
			names[job.ID] = job.Name
		}
		if job.Enabled && !job.NextRun.IsZero() {
			entries = append(entries, CronEntry{
				Time:   job.NextRun,
				Kind:   "next_run",
				Job:    job.Name,
				Status: "scheduled",
			})
		}
	}
	for _, event := range timeline {
		if event.Kind != schema.EventCronRun {
			continue
		}
		status, _ := event.Fields["status"].(string)
		jobID, _ := event.Fields["job_id"].(string)
		job := names[jobID]
		if job == "" {
			job = jobID
		}
		entries = append(entries, CronEntry{
			Time:    event.Time,
			Kind:    "run",
			Job:     job,
			Status:  status,
			Summary: event.Text,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	if len(entries) > maxCronTimeline {
		entries = entries[len(entries)-maxCronTimeline:]
	}
	return entries
}

// rankContext builds the query used to rank context documents: the
// agent's own task line plus its freshest decision.
func rankContext(state schema.AgentState, decisions []schema.DecisionTrace) string {
	context := state.Task
	if len(decisions) > 0 {
		context += " " + decisions[0].Decision
	}
	return context
}

func rootCauses(roots []docscan.Ranked) []schema.RootCause {
	causes := make([]schema.RootCause, len(roots))
	for i, root := range roots {
		causes[i] = schema.RootCause{File: root.Name, Anchors: root.Anchors}
	}
	return causes
}

func resolveDocument(roots []docscan.Ranked, file string) *DocumentDetail {
	for _, root := range roots {
		if root.Name == file {
			return &DocumentDetail{File: root.Name, Anchors: root.Anchors, Sample: root.Sample}
		}
	}
	// The node may cite a document a trace matched but ranking did
	// not surface; expose at least the reference.
	return &DocumentDetail{File: file}
}
