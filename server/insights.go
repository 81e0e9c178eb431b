// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openclaw/observatory/schema"
)

// insightsResponse is the operator digest: host resource posture,
// which agents actually report resource telemetry, how communication
// splits between user-driven and agent-driven, and the schedule
// digest.
type insightsResponse struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	Host         hostResources        `json:"host"`
	Telemetry    telemetryReport      `json:"telemetry"`
	Interactions interactionBreakdown `json:"interactions"`
	Cron         CronSummary          `json:"cron"`
}

// hostResources is the observatory host's own resource picture, read
// at request time. Agent memory figures only mean something relative
// to what the host has.
type hostResources struct {
	MemoryTotalMB float64 `json:"memory_total_mb"`
	MemoryFreeMB  float64 `json:"memory_free_mb"`
	Load1         float64 `json:"load1"`
	UptimeSeconds int64   `json:"uptime_seconds"`

	// Source is "sysinfo", or "unavailable" when the syscall failed.
	Source string `json:"source"`
}

// telemetryReport surveys which agents report numeric resource
// telemetry. Gaps name the agents an operator cannot size.
type telemetryReport struct {
	Agents        int            `json:"agents"`
	MemoryNumeric int            `json:"memory_numeric"`
	TokensNumeric int            `json:"tokens_numeric"`
	BothNumeric   int            `json:"both_numeric"`
	Gaps          []telemetryGap `json:"gaps,omitempty"`
}

type telemetryGap struct {
	Agent string `json:"agent"`

	// Missing lists what the agent never reported: "memory",
	// "tokens", or both.
	Missing  []string  `json:"missing"`
	Status   string    `json:"status,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// interactionBreakdown counts derived interactions by who initiated
// them.
type interactionBreakdown struct {
	UserAgent  int `json:"user_agent"`
	AgentAgent int `json:"agent_agent"`
}

func (api *API) handleInsights(w http.ResponseWriter, r *http.Request) {
	agents := api.store.Agents()
	now := api.clock.Now()
	api.writeJSON(w, http.StatusOK, insightsResponse{
		GeneratedAt:  now,
		Host:         readHostResources(),
		Telemetry:    surveyTelemetry(agents),
		Interactions: countInteractions(api.store.Interactions(0)),
		Cron:         cronSummary(agents, now),
	})
}

func readHostResources() hostResources {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return hostResources{Source: "unavailable"}
	}
	unitSize := uint64(info.Unit)
	if unitSize == 0 {
		unitSize = 1
	}
	toMB := func(units uint64) float64 {
		return float64(units) * float64(unitSize) / (1 << 20)
	}
	return hostResources{
		MemoryTotalMB: toMB(info.Totalram),
		MemoryFreeMB:  toMB(info.Freeram),
		// Loads are fixed-point with a 2^16 scale.
		Load1:         float64(info.Loads[0]) / 65536,
		UptimeSeconds: int64(info.Uptime),
		Source:        "sysinfo",
	}
}

func surveyTelemetry(agents []schema.AgentState) telemetryReport {
	report := telemetryReport{Agents: len(agents)}
	for _, agent := range agents {
		hasMemory := agent.MemoryMB > 0
		hasTokens := agent.TotalTokens > 0
		if hasMemory {
			report.MemoryNumeric++
		}
		if hasTokens {
			report.TokensNumeric++
		}
		if hasMemory && hasTokens {
			report.BothNumeric++
			continue
		}
		gap := telemetryGap{
			Agent:    agent.Name,
			Status:   agent.Status,
			LastSeen: agent.LastSeen,
		}
		if !hasMemory {
			gap.Missing = append(gap.Missing, "memory")
		}
		if !hasTokens {
			gap.Missing = append(gap.Missing, "tokens")
		}
		report.Gaps = append(report.Gaps, gap)
	}
	return report
}

func countInteractions(interactions []schema.Interaction) interactionBreakdown {
	var counts interactionBreakdown
	for _, interaction := range interactions {
		switch interaction.Kind {
		case schema.InteractionUserAgent:
			counts.UserAgent++
		case schema.InteractionAgentAgent:
			counts.AgentAgent++
		}
	}
	return counts
}
