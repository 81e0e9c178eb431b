// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// HistoryEntry is one bounded-history line attached to an agent:
// a recent message or a recent thought.
type HistoryEntry struct {
	Time   time.Time `json:"time"`
	Text   string    `json:"text"`
	Origin Channel   `json:"origin"`
}

// AgentState is the fused view of one agent across every available
// channel. The correlation engine owns mutation; readers receive
// copies.
type AgentState struct {
	Name string `json:"name"`

	// Status is the agent's last reported status (idle, working,
	// blocked, offline, ...). Free-form: the swarm defines the
	// vocabulary, the observatory just relays the freshest value.
	Status string `json:"status,omitempty"`

	// Task is the agent's self-reported current task line.
	Task string `json:"task,omitempty"`

	// Alive reports process liveness from the process channel. Only
	// meaningful when that channel is available.
	Alive bool `json:"alive"`

	// MemoryMB is the agent's last self-reported resident memory in
	// megabytes. Zero means the agent has never reported memory;
	// agents on hosts without resource telemetry stay at zero.
	MemoryMB float64 `json:"memory_mb,omitempty"`

	// TotalTokens is the agent's last self-reported cumulative token
	// usage. Zero means never reported.
	TotalTokens int64 `json:"total_tokens,omitempty"`

	// LastSeen is the newest event timestamp observed for this agent
	// on any channel.
	LastSeen time.Time `json:"last_seen"`

	// Messages and Thoughts are bounded recent-history windows,
	// newest last.
	Messages []HistoryEntry `json:"messages,omitempty"`
	Thoughts []HistoryEntry `json:"thoughts,omitempty"`

	// InterruptedTasks lists tasks that were in progress when the
	// agent went offline or was preempted, oldest first.
	InterruptedTasks []string `json:"interrupted_tasks,omitempty"`

	// CronJobs are the scheduled jobs owned by this agent.
	CronJobs []CronJob `json:"cron_jobs,omitempty"`

	// HeldLocks names locks currently held by this agent.
	HeldLocks []string `json:"held_locks,omitempty"`

	// PendingRequests counts requests addressed to this agent that
	// have no matching result yet.
	PendingRequests int `json:"pending_requests,omitempty"`
}

// InteractionKind distinguishes who initiated an interaction.
type InteractionKind string

const (
	InteractionUserAgent  InteractionKind = "user_agent"
	InteractionAgentAgent InteractionKind = "agent_agent"
)

// Interaction is one derived communication edge between two parties.
// Derived from message events by explicit addressing or by mention
// detection; mention-derived interactions carry lower confidence.
type Interaction struct {
	Source string          `json:"source"`
	Target string          `json:"target"`
	Time   time.Time       `json:"time"`
	Kind   InteractionKind `json:"kind"`

	// Content is the message text that produced the interaction.
	Content string `json:"content,omitempty"`

	// Confidence in [0,1]: 1.0 for explicit addressing, lower for
	// mention-detected targets.
	Confidence float64 `json:"confidence"`
}
